package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/message"
)

// newStreamClient returns a connected client with its group declared on an in-memory server
func newStreamClient(t *testing.T) (*Client, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Queue = "checks"
	cfg.Consumer = "relay-1"
	cfg.BlockTimeout = 50 * time.Millisecond
	cfg.ConnectTimeout = time.Second

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := newClient(rdb, cfg, log.New())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.DeclareQueue(ctx))
	return c, rdb
}

func addEntry(t *testing.T, rdb *redis.Client, stream, payload string) string {
	t.Helper()
	id, err := rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{PayloadField: payload},
	}).Result()
	require.NoError(t, err)
	return id
}

func receive(t *testing.T, deliveries <-chan message.Delivery) message.Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return message.Delivery{}
	}
}

func assertNoDelivery(t *testing.T, deliveries <-chan message.Delivery) {
	t.Helper()
	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery %s while the previous one is unsettled", d.ID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDeclareQueue_Idempotent(t *testing.T) {
	c, _ := newStreamClient(t)

	assert.NoError(t, c.DeclareQueue(context.Background()))
}

func TestConsume_ReleaseRedeliversBeforeNewEntries(t *testing.T) {
	c, rdb := newStreamClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idA := addEntry(t, rdb, "checks", `"A"`)
	idB := addEntry(t, rdb, "checks", `"B"`)

	deliveries, err := c.Consume(ctx)
	require.NoError(t, err)

	first := receive(t, deliveries)
	assert.Equal(t, idA, first.ID)
	assert.Equal(t, `"A"`, string(first.Body))
	assert.False(t, first.Redelivered)
	assertNoDelivery(t, deliveries)

	require.NoError(t, c.Release(ctx, first))

	again := receive(t, deliveries)
	assert.Equal(t, idA, again.ID)
	assert.True(t, again.Redelivered)
	require.NoError(t, c.Ack(ctx, again))

	second := receive(t, deliveries)
	assert.Equal(t, idB, second.ID)
	assert.False(t, second.Redelivered)
	require.NoError(t, c.Ack(ctx, second))

	n, err := rdb.XLen(ctx, "checks").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "acked entries left in the stream")

	pending, err := rdb.XPending(ctx, "checks", c.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestConsume_WaitsForNewEntries(t *testing.T) {
	c, rdb := newStreamClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := c.Consume(ctx)
	require.NoError(t, err)
	assertNoDelivery(t, deliveries)

	id := addEntry(t, rdb, "checks", `"CRITICAL disk full"`)
	d := receive(t, deliveries)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, "checks", d.Stream)
}

func TestConsume_ClosesOnCancel(t *testing.T) {
	c, _ := newStreamClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	deliveries, err := c.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery channel not closed after cancel")
	}
}

// failingDel makes every XDEL fail
type failingDel struct{}

func (failingDel) DialHook(next redis.DialHook) redis.DialHook { return next }

func (failingDel) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "xdel" {
			err := errors.New("READONLY You can't write against a read only replica")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failingDel) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestAck_DeleteFailureStillAcks(t *testing.T) {
	c, rdb := newStreamClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addEntry(t, rdb, "checks", `"OK"`)
	deliveries, err := c.Consume(ctx)
	require.NoError(t, err)
	d := receive(t, deliveries)

	rdb.AddHook(failingDel{})
	assert.NoError(t, c.Ack(ctx, d), "acked entry reported as failed")

	pending, err := rdb.XPending(ctx, "checks", c.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count, "entry still pending after XACK")

	addEntry(t, rdb, "checks", `"next"`)
	assert.Equal(t, `"next"`, string(receive(t, deliveries).Body))
}
