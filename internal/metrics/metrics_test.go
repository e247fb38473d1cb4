package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/krolyk/internal/log"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(acks)
	RecordAck()
	RecordAck()
	assert.Equal(t, before+2, testutil.ToFloat64(acks))

	before = testutil.ToFloat64(writeFailures)
	RecordWriteFailure()
	assert.Equal(t, before+1, testutil.ToFloat64(writeFailures))

	before = testutil.ToFloat64(releases)
	RecordRelease()
	assert.Equal(t, before+1, testutil.ToFloat64(releases))

	before = testutil.ToFloat64(deliveries)
	RecordDelivery()
	assert.Equal(t, before+1, testutil.ToFloat64(deliveries))

	before = testutil.ToFloat64(reconnects)
	RecordReconnect()
	assert.Equal(t, before+1, testutil.ToFloat64(reconnects))
}

func TestSetConnected(t *testing.T) {
	SetConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(connected))
	SetConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(connected))
}

func TestHandler_ExposesCounters(t *testing.T) {
	RecordDelivery()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "krolyk_deliveries_total")
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, log.New()) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + Path)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, "krolyk_acks_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
