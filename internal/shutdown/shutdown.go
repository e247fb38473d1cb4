// Package shutdown provides the flag shared by the lifecycle controller and the consumer.
//
// A Flag starts in the running state and moves to stopping exactly once. Readers may poll
// Stopping or block on Done; there is no other shared state between the two sides.
package shutdown

import (
	"sync"
	"sync/atomic"
)

// Flag is a one-way running → stopping transition, safe for concurrent use
type Flag struct {
	stopping atomic.Bool
	once     sync.Once
	done     chan struct{}
}

// New returns a flag in the running state
func New() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Stop moves the flag to stopping. It reports whether this call made the transition.
func (f *Flag) Stop() bool {
	changed := false
	f.once.Do(func() {
		f.stopping.Store(true)
		close(f.done)
		changed = true
	})
	return changed
}

// Stopping reports whether Stop has been called
func (f *Flag) Stopping() bool {
	return f.stopping.Load()
}

// Done is closed when the flag moves to stopping
func (f *Flag) Done() <-chan struct{} {
	return f.done
}
