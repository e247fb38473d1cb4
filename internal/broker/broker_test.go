package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/krolyk/internal/amqp"
	"github.com/ibs-source/krolyk/internal/config"
	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/mqtt"
	"github.com/ibs-source/krolyk/internal/redis"
)

func brokerConfig(transport string) *config.BrokerConfig {
	cfg := config.Default().Broker
	cfg.Transport = transport
	cfg.Port = config.DefaultPort(transport)
	return &cfg
}

func TestNew_SelectsTransport(t *testing.T) {
	logger := log.New()

	c, err := New(brokerConfig(config.TransportAMQP), logger)
	require.NoError(t, err)
	assert.IsType(t, &amqp.Client{}, c)

	c, err = New(brokerConfig(config.TransportRedis), logger)
	require.NoError(t, err)
	assert.IsType(t, &redis.Client{}, c)
	assert.NoError(t, c.Close())

	c, err = New(brokerConfig(config.TransportMQTT), logger)
	require.NoError(t, err)
	assert.IsType(t, &mqtt.Client{}, c)
}

func TestNew_UnknownTransport(t *testing.T) {
	_, err := New(brokerConfig("stomp"), log.New())
	if !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("expected ErrUnknownTransport, got %v", err)
	}
}

func TestNewDialer_FreshClientPerCall(t *testing.T) {
	dial := NewDialer(brokerConfig(config.TransportAMQP), log.New())

	first, err := dial()
	require.NoError(t, err)
	second, err := dial()
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}
