// Package mqtt provides an MQTT persistent-session subscription used by the relay.
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ibs-source/krolyk/internal/config"
	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/message"
)

// qos 1 gives at-least-once delivery with a PUBACK per message
const qos = 1

const disconnectQuiesce = 250 // milliseconds

// Client subscribes to one topic with a non-clean session, so the broker keeps
// undelivered and unacknowledged messages while the relay is away.
type Client struct {
	opts           *mqtt.ClientOptions
	client         mqtt.Client
	topic          string
	connectTimeout time.Duration

	inbox    chan mqtt.Message
	lost     chan struct{}
	lostOnce sync.Once

	mu      sync.Mutex
	pending map[string]mqtt.Message

	log *log.Logger
}

// NewClient prepares the client options; no connection is made until Connect
func NewClient(cfg *config.BrokerConfig, logger *log.Logger) (*Client, error) {
	c := &Client{
		topic:          cfg.Queue,
		connectTimeout: cfg.ConnectTimeout,
		inbox:          make(chan mqtt.Message),
		lost:           make(chan struct{}),
		pending:        make(map[string]mqtt.Message),
		log:            logger,
	}

	scheme := "tcp"
	if cfg.TLSEnabled {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s", scheme, cfg.Address()))
	// The session is keyed by client ID, so it must be stable across restarts
	opts.SetClientID(cfg.Consumer)
	opts.SetCleanSession(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(false) // the relay owns reconnection
	opts.SetConnectRetry(false)
	opts.SetAutoAckDisabled(true)
	opts.SetOrderMatters(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if cfg.HasCredentials() {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if err != nil {
			logger.Error("MQTT connection lost: %v", err)
		}
		c.markLost()
	})

	// Configure TLS if enabled
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.opts = opts
	return c, nil
}

func (c *Client) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

func (c *Client) isLost() bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}

// Connect opens the session
func (c *Client) Connect(ctx context.Context) error {
	c.client = mqtt.NewClient(c.opts)
	if err := c.wait(ctx, c.client.Connect(), "connect"); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	c.log.Info("MQTT connected as %s", c.opts.ClientID)
	return nil
}

func (c *Client) wait(ctx context.Context, token mqtt.Token, op string) error {
	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt %s timeout", op)
	}
}

// DeclareQueue subscribes the session to the topic at QoS 1.
// Resubscribing an existing persistent subscription is harmless.
func (c *Client) DeclareQueue(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("mqtt: not connected")
	}
	token := c.client.Subscribe(c.topic, qos, c.handle)
	if err := c.wait(ctx, token, "subscribe"); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}
	return nil
}

// handle runs on the paho router; with ordered delivery it hands over one message at a time
func (c *Client) handle(_ mqtt.Client, msg mqtt.Message) {
	if c.isLost() {
		return
	}
	select {
	case c.inbox <- msg:
	case <-c.lost:
	}
}

// Consume forwards subscribed messages until the connection is lost or ctx is done
func (c *Client) Consume(ctx context.Context) (<-chan message.Delivery, error) {
	out := make(chan message.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.lost:
				return
			case msg := <-c.inbox:
				// select picks at random; nothing may be handed out once the session ended
				if c.isLost() {
					return
				}
				d := c.track(msg)
				select {
				case out <- d:
				case <-ctx.Done():
					return
				case <-c.lost:
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) track(msg mqtt.Message) message.Delivery {
	id := strconv.FormatUint(uint64(msg.MessageID()), 10)

	c.mu.Lock()
	c.pending[id] = msg
	c.mu.Unlock()

	return message.Delivery{
		ID:          id,
		Tag:         uint64(msg.MessageID()),
		Body:        msg.Payload(),
		Redelivered: msg.Duplicate(),
	}
}

func (c *Client) untrack(id string) mqtt.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.pending[id]
	delete(c.pending, id)
	return msg
}

// Ack sends the PUBACK for the delivery
func (c *Client) Ack(_ context.Context, d message.Delivery) error {
	msg := c.untrack(d.ID)
	if msg == nil {
		return fmt.Errorf("mqtt: unknown delivery %s", d.ID)
	}
	msg.Ack()
	return nil
}

// Release withholds the PUBACK and ends the session. PUBACKs must follow PUBLISH order,
// so nothing after a released message may be acked on this session; the broker
// resends it with DUP set when the persistent session resumes.
func (c *Client) Release(_ context.Context, d message.Delivery) error {
	c.untrack(d.ID)
	c.log.Warn("Released MQTT message %s; ending session for redelivery", d.ID)
	c.markLost()
	return nil
}

// Close disconnects from the broker
func (c *Client) Close() error {
	c.markLost()
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
	}
	return nil
}
