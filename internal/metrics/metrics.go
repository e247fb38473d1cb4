// Package metrics exposes relay counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ibs-source/krolyk/internal/log"
)

// Path is where the scrape handler is mounted
const Path = "/metrics"

var (
	// deliveries tracks messages received from the broker
	deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krolyk_deliveries_total",
		Help: "Total deliveries received from the broker",
	})

	// acks tracks deliveries written to the pipe and acknowledged
	acks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krolyk_acks_total",
		Help: "Total deliveries acknowledged after a successful pipe write",
	})

	// writeFailures tracks failed pipe writes
	writeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krolyk_write_failures_total",
		Help: "Total pipe writes that failed",
	})

	// releases tracks deliveries handed back to the broker
	releases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krolyk_releases_total",
		Help: "Total deliveries released for redelivery",
	})

	// reconnects tracks broker sessions that ended and were retried
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krolyk_reconnects_total",
		Help: "Total broker reconnection attempts",
	})

	// connected is 1 while a broker session is consuming
	connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "krolyk_broker_connected",
		Help: "Whether a broker session is currently consuming",
	})
)

// RecordDelivery increments the delivery counter
func RecordDelivery() { deliveries.Inc() }

// RecordAck increments the ack counter
func RecordAck() { acks.Inc() }

// RecordWriteFailure increments the failed write counter
func RecordWriteFailure() { writeFailures.Inc() }

// RecordRelease increments the release counter
func RecordRelease() { releases.Inc() }

// RecordReconnect increments the reconnect counter
func RecordReconnect() { reconnects.Inc() }

// SetConnected updates the connection gauge
func SetConnected(up bool) {
	if up {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

// Handler returns the scrape handler for the default registry
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, promhttp.Handler())
	return mux
}

// Serve exposes the metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics on %s%s", addr, Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
