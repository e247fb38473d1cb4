// Package config provides configuration loading and validation from environment variables and command line flags.
package config

import (
	"net"
	"strconv"
	"time"
)

// Transport names accepted by Broker.Transport
const (
	TransportAMQP  = "amqp"
	TransportRedis = "redis"
	TransportMQTT  = "mqtt"
)

// DefaultUser and DefaultPassword are the AMQP guest credentials used when none are given
const (
	DefaultUser     = "guest"
	DefaultPassword = "guest"
)

// Config holds the complete configuration
type Config struct {
	Broker  BrokerConfig
	Pipe    PipeConfig
	Relay   RelayConfig
	Daemon  DaemonConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// BrokerConfig holds the queue subscription settings shared by all transports
type BrokerConfig struct {
	Transport      string
	Host           string
	Port           int // 0 selects the transport default
	User           string
	Password       string
	VHost          string // AMQP only
	Queue          string // AMQP queue, Redis stream or MQTT topic
	Consumer       string // Redis consumer name / MQTT client ID
	ConnectTimeout time.Duration
	Heartbeat      time.Duration // AMQP only
	BlockTimeout   time.Duration // Redis only
	ClaimIdle      time.Duration // Redis only
	// TLS Configuration
	TLSEnabled   bool
	CACert       string
	ClientCert   string
	ClientKey    string
	InsecureSkip bool
}

// PipeConfig holds the named pipe settings
type PipeConfig struct {
	Path string
}

// RelayConfig holds consumer loop tuning
type RelayConfig struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ErrorBackoff     time.Duration // Pause after a failed pipe write
	AckTimeout       time.Duration // Deadline for ack/release calls
}

// DaemonConfig holds process lifecycle settings
type DaemonConfig struct {
	PIDFile         string
	LogFile         string // stdout/stderr of the detached process
	ShutdownTimeout time.Duration
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Syslog bool
}

// MetricsConfig holds the Prometheus listener settings
type MetricsConfig struct {
	Address string // Empty disables the listener
}

// HasCredentials reports whether credentials other than the guest defaults were configured.
// Redis and MQTT servers usually run without authentication, so the guest pair is not sent to them.
func (cfg *BrokerConfig) HasCredentials() bool {
	return cfg.User != "" && !(cfg.User == DefaultUser && cfg.Password == DefaultPassword)
}

// Address returns host:port
func (cfg *BrokerConfig) Address() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
