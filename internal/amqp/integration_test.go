package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/message"
)

// setupLiveClient connects to a local RabbitMQ with the guest account or skips the test
func setupLiveClient(t *testing.T, queue string) *Client {
	t.Helper()

	cfg := testConfig()
	cfg.Queue = queue
	cfg.ConnectTimeout = time.Second

	c := NewClient(cfg, log.New())
	if err := c.Connect(context.Background()); err != nil {
		t.Skipf("Skipping AMQP test: %v (RabbitMQ not available?)", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// publisher opens its own connection; cleanup deletes the test queue through it
func publisher(t *testing.T, c *Client) *amqp091.Channel {
	t.Helper()
	conn, err := amqp091.Dial(c.URL())
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		t.Fatalf("Channel() failed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = ch.QueueDelete(c.cfg.Queue, false, false, false)
		_ = conn.Close()
	})
	return ch
}

func publish(t *testing.T, ch *amqp091.Channel, queue, body string) {
	t.Helper()
	err := ch.PublishWithContext(context.Background(), "", queue, false, false, amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		Body:         []byte(body),
	})
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
}

func receive(t *testing.T, deliveries <-chan message.Delivery) message.Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
		return message.Delivery{}
	}
}

func TestIntegration_DeclareConsumeAckRequeue(t *testing.T) {
	queue := "krolyk-test-" + uuid.NewString()
	c := setupLiveClient(t, queue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.DeclareQueue(ctx); err != nil {
		t.Fatalf("DeclareQueue() failed: %v", err)
	}
	if err := c.DeclareQueue(ctx); err != nil {
		t.Fatalf("second DeclareQueue() failed: %v", err)
	}

	pub := publisher(t, c)
	publish(t, pub, queue, `"A"`)
	publish(t, pub, queue, `"B"`)

	deliveries, err := c.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}

	first := receive(t, deliveries)
	if string(first.Body) != `"A"` || first.Redelivered {
		t.Fatalf("first delivery = %s (redelivered %v); want \"A\" fresh", first.Body, first.Redelivered)
	}

	// Prefetch 1: B stays on the broker while A is unsettled
	select {
	case d := <-deliveries:
		t.Fatalf("received %s before settling the previous delivery", d.Body)
	case <-time.After(300 * time.Millisecond):
	}

	if err := c.Release(ctx, first); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	again := receive(t, deliveries)
	if string(again.Body) != `"A"` || !again.Redelivered {
		t.Fatalf("after release got %s (redelivered %v); want \"A\" redelivered", again.Body, again.Redelivered)
	}
	if err := c.Ack(ctx, again); err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}

	second := receive(t, deliveries)
	if string(second.Body) != `"B"` {
		t.Fatalf("second delivery = %s; want \"B\"", second.Body)
	}
	if err := c.Ack(ctx, second); err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}

	q, err := pub.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		t.Fatalf("QueueDeclarePassive() failed: %v", err)
	}
	if q.Messages != 0 {
		t.Errorf("queue holds %d messages after acks; want 0", q.Messages)
	}
}

func TestIntegration_ConsumeClosesWithConnection(t *testing.T) {
	queue := "krolyk-test-" + uuid.NewString()
	c := setupLiveClient(t, queue)
	ctx := context.Background()

	if err := c.DeclareQueue(ctx); err != nil {
		t.Fatalf("DeclareQueue() failed: %v", err)
	}
	publisher(t, c)

	deliveries, err := c.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	_ = conn.Close()

	select {
	case _, ok := <-deliveries:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery channel not closed after the connection closed")
	}
}
