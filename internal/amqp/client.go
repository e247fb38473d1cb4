// Package amqp provides the AMQP 0.9.1 (RabbitMQ) queue subscription used by the relay.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/ibs-source/krolyk/internal/config"
	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/message"
)

// ErrNotConnected is returned when an operation needs an open channel
var ErrNotConnected = errors.New("amqp: not connected")

// prefetchCount keeps at most one unacknowledged message on the channel
const prefetchCount = 1

// Client consumes a single durable queue with manual acknowledgment.
// A Client is used for one connection; the relay builds a new one per attempt.
type Client struct {
	cfg         *config.BrokerConfig
	consumerTag string
	log         *log.Logger

	mu   sync.Mutex
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// NewClient creates an unconnected client
func NewClient(cfg *config.BrokerConfig, logger *log.Logger) *Client {
	return &Client{
		cfg:         cfg,
		consumerTag: "krolyk-" + uuid.NewString(),
		log:         logger,
	}
}

// URL returns the connection URL built from the broker configuration
func (c *Client) URL() string {
	scheme := "amqp"
	if c.cfg.TLSEnabled {
		scheme = "amqps"
	}
	uri := amqp091.URI{
		Scheme:   scheme,
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
		Username: c.cfg.User,
		Password: c.cfg.Password,
		Vhost:    c.cfg.VHost,
	}
	return uri.String()
}

// Connect dials the broker, opens a channel and limits it to one unacknowledged delivery
func (c *Client) Connect(ctx context.Context) error {
	tlsConfig, err := c.cfg.TLSConfig()
	if err != nil {
		return fmt.Errorf("failed to create TLS config: %w", err)
	}

	timeout := c.cfg.ConnectTimeout
	cfg := amqp091.Config{
		Heartbeat:       c.cfg.Heartbeat,
		TLSClientConfig: tlsConfig,
		Locale:          "en_US",
		Dial:            dialContext(ctx, timeout),
	}

	conn, err := amqp091.DialConfig(c.URL(), cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.mu.Unlock()

	c.log.Info("Connected to AMQP broker %s", conn.RemoteAddr())
	return nil
}

// dialContext bounds the TCP dial by ctx and the handshake by timeout.
// The deadline is cleared by amqp091 once the connection is open.
func dialContext(ctx context.Context, timeout time.Duration) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (c *Client) channel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil || c.ch.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.ch, nil
}

// DeclareQueue declares the configured queue as durable; redeclaring an identical queue is a no-op
func (c *Client) DeclareQueue(_ context.Context) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	c.log.Debug("Declaring durable queue %s", c.cfg.Queue)
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.cfg.Queue, err)
	}
	return nil
}

// Consume starts delivery with manual acknowledgment.
// The returned channel is closed when the connection or channel closes, or ctx is done.
func (c *Client) Consume(ctx context.Context) (<-chan message.Delivery, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(c.cfg.Queue, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", c.cfg.Queue, err)
	}

	c.mu.Lock()
	closed := c.conn.NotifyClose(make(chan *amqp091.Error, 1))
	c.mu.Unlock()

	out := make(chan message.Delivery)
	go c.forward(ctx, deliveries, closed, out)
	return out, nil
}

func (c *Client) forward(
	ctx context.Context,
	deliveries <-chan amqp091.Delivery,
	closed <-chan *amqp091.Error,
	out chan<- message.Delivery,
) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				select {
				case reason := <-closed:
					if reason != nil {
						c.log.Warn("AMQP connection closed: %v", reason)
					}
				default:
				}
				return
			}
			select {
			case out <- toDelivery(d):
			case <-ctx.Done():
				// Unacknowledged, the broker redelivers it after the connection closes
				return
			}
		}
	}
}

func toDelivery(d amqp091.Delivery) message.Delivery {
	return message.Delivery{
		ID:          strconv.FormatUint(d.DeliveryTag, 10),
		Tag:         d.DeliveryTag,
		Body:        d.Body,
		Redelivered: d.Redelivered,
	}
}

// Ack removes the delivery from the queue
func (c *Client) Ack(_ context.Context, d message.Delivery) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	if err := ch.Ack(d.Tag, false); err != nil {
		return fmt.Errorf("ack failed for delivery %d: %w", d.Tag, err)
	}
	return nil
}

// Release returns the delivery to the queue for redelivery without acknowledging it
func (c *Client) Release(_ context.Context, d message.Delivery) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	if err := ch.Nack(d.Tag, false, true); err != nil {
		return fmt.Errorf("nack failed for delivery %d: %w", d.Tag, err)
	}
	return nil
}

// Close closes the channel and the connection; closing twice is not an error
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}
