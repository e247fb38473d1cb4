// Package broker selects the message queue transport the relay subscribes through.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ibs-source/krolyk/internal/amqp"
	"github.com/ibs-source/krolyk/internal/config"
	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/message"
	"github.com/ibs-source/krolyk/internal/mqtt"
	"github.com/ibs-source/krolyk/internal/redis"
)

// ErrUnknownTransport is returned for a transport name no client implements
var ErrUnknownTransport = errors.New("unknown transport")

// Client is one broker session. At most one delivery is outstanding at a
// time: the next one arrives only after the previous was acked or released.
type Client interface {
	Connect(ctx context.Context) error
	// DeclareQueue creates the queue if needed; repeating it is harmless
	DeclareQueue(ctx context.Context) error
	// Consume streams deliveries; the channel closes when the session ends
	Consume(ctx context.Context) (<-chan message.Delivery, error)
	Ack(ctx context.Context, d message.Delivery) error
	// Release hands a delivery back for redelivery
	Release(ctx context.Context, d message.Delivery) error
	Close() error
}

// Dialer builds a fresh, unconnected client for every session
type Dialer func() (Client, error)

var (
	_ Client = (*amqp.Client)(nil)
	_ Client = (*redis.Client)(nil)
	_ Client = (*mqtt.Client)(nil)
)

// New returns the client for cfg.Transport
func New(cfg *config.BrokerConfig, logger *log.Logger) (Client, error) {
	switch cfg.Transport {
	case config.TransportAMQP:
		return amqp.NewClient(cfg, logger), nil
	case config.TransportRedis:
		return redis.NewClient(cfg, logger)
	case config.TransportMQTT:
		return mqtt.NewClient(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

// NewDialer binds New to a configuration
func NewDialer(cfg *config.BrokerConfig, logger *log.Logger) Dialer {
	return func() (Client, error) {
		return New(cfg, logger)
	}
}
