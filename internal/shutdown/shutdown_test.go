package shutdown

import (
	"sync"
	"testing"
	"time"
)

func TestFlag_StartsRunning(t *testing.T) {
	f := New()
	if f.Stopping() {
		t.Fatal("new flag reports stopping")
	}
	select {
	case <-f.Done():
		t.Fatal("Done closed before Stop")
	default:
	}
}

func TestFlag_StopTransitionsOnce(t *testing.T) {
	f := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Stop() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("transitions = %d; want 1", transitions)
	}
	if !f.Stopping() {
		t.Error("Stopping() = false after Stop")
	}
}

func TestFlag_DoneWakesWaiters(t *testing.T) {
	f := New()
	woke := make(chan struct{})
	go func() {
		<-f.Done()
		close(woke)
	}()

	f.Stop()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Stop")
	}
}
