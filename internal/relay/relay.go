// Package relay moves broker deliveries into the command pipe.
//
// One session at a time is held against the broker. Each delivery is normalized, written
// and flushed, and only then acknowledged; a failed write is never acknowledged. When a
// session ends while the shutdown flag is still running, a new one is opened after an
// exponential backoff.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ibs-source/krolyk/internal/broker"
	"github.com/ibs-source/krolyk/internal/config"
	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/message"
	"github.com/ibs-source/krolyk/internal/metrics"
	"github.com/ibs-source/krolyk/internal/pipe"
	"github.com/ibs-source/krolyk/internal/shutdown"
)

// ErrConnectionLost ends a session whose delivery stream closed while still running
var ErrConnectionLost = errors.New("broker connection lost")

// LineWriter is the pipe side of the relay
type LineWriter interface {
	Write(line []byte) pipe.Result
	Close() error
}

// PipeOpener opens the pipe once per Run
type PipeOpener func() (LineWriter, error)

// OpenPipe returns an opener for the pipe at path
func OpenPipe(path string, logger *log.Logger) PipeOpener {
	return func() (LineWriter, error) {
		w, err := pipe.Open(path)
		if err != nil {
			return nil, err
		}
		if !w.IsNamedPipe() {
			logger.Warn("%s is not a named pipe; lines are appended to a regular file", path)
		}
		return w, nil
	}
}

// Relay is the consumer loop. It is built idle; Run does the work.
type Relay struct {
	dial             broker.Dialer
	open             PipeOpener
	reconnectInitial time.Duration
	reconnectMax     time.Duration
	errorBackoff     time.Duration
	ackTimeout       time.Duration
	log              *log.Logger
}

// New creates a relay
func New(dial broker.Dialer, open PipeOpener, cfg *config.Config, logger *log.Logger) *Relay {
	return &Relay{
		dial:             dial,
		open:             open,
		reconnectInitial: cfg.Relay.ReconnectInitial,
		reconnectMax:     cfg.Relay.ReconnectMax,
		errorBackoff:     cfg.Relay.ErrorBackoff,
		ackTimeout:       cfg.Relay.AckTimeout,
		log:              logger,
	}
}

func (r *Relay) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.reconnectInitial
	b.MaxInterval = r.reconnectMax
	b.Reset()
	return b
}

// Run opens the pipe and keeps a broker session alive until flag stops.
// It fails only when the pipe cannot be opened.
func (r *Relay) Run(flag *shutdown.Flag) error {
	w, err := r.open()
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			r.log.Warn("Failed to close pipe: %v", err)
		}
	}()

	r.log.Info("Starting relay")
	retry := r.newBackOff()

	for !flag.Stopping() {
		consumed, err := r.session(flag, w)
		if flag.Stopping() {
			break
		}
		if consumed {
			retry.Reset()
		}

		delay := retry.NextBackOff()
		r.log.Warn("Broker session ended: %v; reconnecting in %s", err, delay)
		metrics.RecordReconnect()

		timer := time.NewTimer(delay)
		select {
		case <-flag.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	r.log.Info("Relay stopped")
	return nil
}

// session runs one connect, declare, consume cycle. consumed reports whether the
// subscription was established, which resets the reconnect backoff.
func (r *Relay) session(flag *shutdown.Flag, w LineWriter) (consumed bool, err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-flag.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	client, err := r.dial()
	if err != nil {
		return false, err
	}
	defer func() {
		// Errors from closing an already closing connection are expected during shutdown
		if cerr := client.Close(); cerr != nil && !flag.Stopping() {
			r.log.Debug("Failed to close broker client: %v", cerr)
		}
	}()

	if err := client.Connect(ctx); err != nil {
		return false, err
	}
	if err := client.DeclareQueue(ctx); err != nil {
		return false, err
	}
	deliveries, err := client.Consume(ctx)
	if err != nil {
		return false, err
	}

	metrics.SetConnected(true)
	defer metrics.SetConnected(false)
	r.log.Info("Consuming from broker")

	for {
		select {
		case <-flag.Done():
			return true, nil
		case d, ok := <-deliveries:
			if !ok {
				return true, ErrConnectionLost
			}
			r.handle(flag, client, w, d)
		}
	}
}

// handle writes one delivery and settles it. A write is never interrupted by shutdown.
func (r *Relay) handle(flag *shutdown.Flag, client broker.Client, w LineWriter, d message.Delivery) {
	metrics.RecordDelivery()

	res := w.Write(message.Normalize(d.Body))
	if res.OK() {
		ctx, cancel := context.WithTimeout(context.Background(), r.ackTimeout)
		defer cancel()
		if err := client.Ack(ctx, d); err != nil {
			r.log.Error("Failed to ack message %s: %v", d.ID, err)
			return
		}
		metrics.RecordAck()
		r.log.Debug("Relayed message %s (%d bytes)", d.ID, res.Written)
		return
	}

	metrics.RecordWriteFailure()
	r.log.Error("Failed to write message %s to pipe: %v", d.ID, res.Err)

	// The pipe usually fails because nobody reads it; give the reader time to come back
	timer := time.NewTimer(r.errorBackoff)
	select {
	case <-timer.C:
	case <-flag.Done():
		timer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.ackTimeout)
	defer cancel()
	if err := client.Release(ctx, d); err != nil {
		r.log.Error("Failed to release message %s: %v", d.ID, err)
		return
	}
	metrics.RecordRelease()
}
