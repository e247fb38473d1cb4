// Package redis provides a Redis stream consumer group subscription used by the relay.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ibs-source/krolyk/internal/config"
	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/message"
)

// PayloadField is the entry field carrying the check result
const PayloadField = "payload"

// Client reads one entry at a time from a stream consumer group.
// The configured queue name is the stream key; the group is "group-<stream>".
type Client struct {
	rdb          *redis.Client
	stream       string
	group        string
	consumer     string
	blockTimeout time.Duration
	claimIdle    time.Duration
	pingTimeout  time.Duration
	settled      chan struct{}
	log          *log.Logger
}

// NewClient creates a client; no connection is made until Connect
func NewClient(cfg *config.BrokerConfig, logger *log.Logger) (*Client, error) {
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	opts := &redis.Options{
		Addr:        cfg.Address(),
		DialTimeout: cfg.ConnectTimeout,
		// Reads must outlive the XREADGROUP block
		ReadTimeout: cfg.BlockTimeout + cfg.ConnectTimeout,
		TLSConfig:   tlsConfig,
	}
	if cfg.HasCredentials() {
		opts.Username = cfg.User
		opts.Password = cfg.Password
	}

	return newClient(redis.NewClient(opts), cfg, logger), nil
}

func newClient(rdb *redis.Client, cfg *config.BrokerConfig, logger *log.Logger) *Client {
	return &Client{
		rdb:          rdb,
		stream:       cfg.Queue,
		group:        "group-" + cfg.Queue,
		consumer:     cfg.Consumer,
		blockTimeout: cfg.BlockTimeout,
		claimIdle:    cfg.ClaimIdle,
		pingTimeout:  cfg.ConnectTimeout,
		settled:      make(chan struct{}, 1),
		log:          logger,
	}
}

// Connect verifies the server is reachable
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	c.log.Info("Connected to Redis %s", c.rdb.Options().Addr)
	return nil
}

// DeclareQueue creates the stream and its consumer group; an existing group is joined
func (c *Client) DeclareQueue(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil {
		if isBusyGroup(err) {
			c.log.Debug("Consumer group '%s' already exists for stream '%s', joining existing group", c.group, c.stream)
			return nil
		}
		return fmt.Errorf("failed to create consumer group for stream %s: %w", c.stream, err)
	}
	c.log.Info("Created consumer group '%s' for stream '%s'", c.group, c.stream)
	return nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Consume reclaims abandoned entries, then delivers entries one at a time.
// The next entry is read only after the previous one is acked or released.
// The channel is closed on a read error or when ctx is done.
func (c *Client) Consume(ctx context.Context) (<-chan message.Delivery, error) {
	if err := c.reclaimAbandoned(ctx); err != nil {
		c.log.Warn("Failed to reclaim idle entries on stream %s: %v", c.stream, err)
	}

	out := make(chan message.Delivery)
	go c.readLoop(ctx, out)
	return out, nil
}

func (c *Client) readLoop(ctx context.Context, out chan<- message.Delivery) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}

		d, ok, err := c.next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error("Failed to read from stream %s: %v", c.stream, err)
			}
			return
		}
		if !ok {
			continue
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return
		}

		select {
		case <-c.settled:
		case <-ctx.Done():
			return
		}
	}
}

// next returns this consumer's oldest pending entry first, then a new one
func (c *Client) next(ctx context.Context) (message.Delivery, bool, error) {
	d, ok, err := c.read(ctx, "0", -1)
	if err != nil {
		return d, false, err
	}
	if ok {
		d.Redelivered = true
		return d, true, nil
	}
	return c.read(ctx, ">", c.blockTimeout)
}

func (c *Client) read(ctx context.Context, id string, block time.Duration) (message.Delivery, bool, error) {
	result, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return message.Delivery{}, false, nil
		}
		return message.Delivery{}, false, fmt.Errorf("xreadgroup failed: %w", err)
	}

	for _, streamResult := range result {
		for _, msg := range streamResult.Messages {
			if len(msg.Values) == 0 {
				// Deleted while pending; nothing left to deliver
				if err := c.rdb.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
					return message.Delivery{}, false, fmt.Errorf("xack failed for deleted entry %s: %w", msg.ID, err)
				}
				continue
			}
			return message.Delivery{
				ID:     msg.ID,
				Stream: streamResult.Stream,
				Body:   entryPayload(msg.Values),
			}, true, nil
		}
	}
	return message.Delivery{}, false, nil
}

// entryPayload takes the payload field, or the only field, or all fields as JSON
func entryPayload(values map[string]interface{}) message.Payload {
	if v, ok := values[PayloadField]; ok {
		return []byte(fmt.Sprint(v))
	}
	if len(values) == 1 {
		for _, v := range values {
			return []byte(fmt.Sprint(v))
		}
	}
	// encoding/json sorts map keys, keeping the output stable
	payload, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return payload
}

// Ack acknowledges and deletes the entry. Once XACK succeeded the entry is settled;
// a failed XDEL only leaves it in the stream history.
func (c *Client) Ack(ctx context.Context, d message.Delivery) error {
	defer c.settle()

	if err := c.rdb.XAck(ctx, c.stream, c.group, d.ID).Err(); err != nil {
		return fmt.Errorf("xack failed for message %s in stream %s: %w", d.ID, c.stream, err)
	}
	if err := c.rdb.XDel(ctx, c.stream, d.ID).Err(); err != nil {
		c.log.Warn("Acked message %s but failed to delete it from stream %s: %v", d.ID, c.stream, err)
	}
	return nil
}

// Release leaves the entry pending; it is read again before any new entry
func (c *Client) Release(_ context.Context, _ message.Delivery) error {
	c.settle()
	return nil
}

func (c *Client) settle() {
	select {
	case c.settled <- struct{}{}:
	default:
	}
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
