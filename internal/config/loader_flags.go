package config

import (
	"time"

	"github.com/spf13/pflag"
)

// RegisterFlags declares every configuration flag on fs
// Defaults shown in --help are the built-in defaults; environment overrides are applied in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	d := defaultConfig()

	// Broker flags
	fs.String("transport", d.Broker.Transport, "Broker transport: amqp, redis or mqtt")
	fs.String("broker", d.Broker.Host, "The hostname of the broker")
	fs.Int("port", d.Broker.Port, "Broker port (0 selects the transport default)")
	fs.String("user", d.Broker.User, "The user used to connect to the broker")
	fs.String("password", d.Broker.Password, "The password for user")
	fs.String("vhost", d.Broker.VHost, "AMQP virtual host")
	fs.String("queue", d.Broker.Queue, "The queue to consume")
	fs.String("consumer", d.Broker.Consumer, "Consumer name (redis) or client ID (mqtt)")
	fs.Duration("connect-timeout", d.Broker.ConnectTimeout, "Broker connect timeout")
	fs.Duration("heartbeat", d.Broker.Heartbeat, "AMQP heartbeat interval")
	fs.Duration("block-timeout", d.Broker.BlockTimeout, "Redis XREADGROUP block timeout")
	fs.Duration("claim-idle", d.Broker.ClaimIdle, "Redis idle time before abandoned entries are reclaimed")
	fs.Bool("tls", d.Broker.TLSEnabled, "Enable TLS to the broker")
	fs.String("tls-ca", d.Broker.CACert, "CA certificate path")
	fs.String("tls-cert", d.Broker.ClientCert, "Client certificate path")
	fs.String("tls-key", d.Broker.ClientKey, "Client key path")
	fs.Bool("tls-insecure-skip", d.Broker.InsecureSkip, "Skip TLS verification")

	// Pipe flags
	fs.String("pipe", d.Pipe.Path, "Nagios named pipe")

	// Relay flags
	fs.Duration("reconnect-initial", d.Relay.ReconnectInitial, "Initial reconnect backoff")
	fs.Duration("reconnect-max", d.Relay.ReconnectMax, "Maximum reconnect backoff")
	fs.Duration("error-backoff", d.Relay.ErrorBackoff, "Pause after a failed pipe write")
	fs.Duration("ack-timeout", d.Relay.AckTimeout, "Timeout for ack operations")

	// Daemon flags
	fs.String("pid", d.Daemon.PIDFile, "The location of the pid file")
	fs.String("log-file", d.Daemon.LogFile, "Output file of the detached process")
	fs.Duration("shutdown-timeout", d.Daemon.ShutdownTimeout, "Maximum time to wait for the consumer on stop")

	// Log and metrics flags
	fs.String("log-level", d.Log.Level, "Log level: trace, debug, info, warn, error")
	fs.Bool("syslog", d.Log.Syslog, "Also log to the local syslog daemon")
	fs.String("metrics-address", d.Metrics.Address, "Prometheus listen address (empty disables)")
}

// applyFlags applies explicitly set command line flags to cfg
func applyFlags(fs *pflag.FlagSet, cfg *Config) error {
	if err := applyBrokerFlags(fs, &cfg.Broker); err != nil {
		return err
	}
	if err := applyStringFlag(fs, "pipe", &cfg.Pipe.Path); err != nil {
		return err
	}
	if err := applyRelayFlags(fs, &cfg.Relay); err != nil {
		return err
	}
	if err := applyDaemonFlags(fs, &cfg.Daemon); err != nil {
		return err
	}
	return applyLogFlags(fs, cfg)
}

// applyBrokerFlags applies command line flags to broker configuration
func applyBrokerFlags(fs *pflag.FlagSet, cfg *BrokerConfig) error {
	strs := map[string]*string{
		"transport": &cfg.Transport,
		"broker":    &cfg.Host,
		"user":      &cfg.User,
		"password":  &cfg.Password,
		"vhost":     &cfg.VHost,
		"queue":     &cfg.Queue,
		"consumer":  &cfg.Consumer,
		"tls-ca":    &cfg.CACert,
		"tls-cert":  &cfg.ClientCert,
		"tls-key":   &cfg.ClientKey,
	}
	for name, dst := range strs {
		if err := applyStringFlag(fs, name, dst); err != nil {
			return err
		}
	}

	if isFlagSet(fs, "port") {
		v, err := fs.GetInt("port")
		if err != nil {
			return err
		}
		cfg.Port = v
	}

	durs := map[string]*time.Duration{
		"connect-timeout": &cfg.ConnectTimeout,
		"heartbeat":       &cfg.Heartbeat,
		"block-timeout":   &cfg.BlockTimeout,
		"claim-idle":      &cfg.ClaimIdle,
	}
	for name, dst := range durs {
		if err := applyDurationFlag(fs, name, dst); err != nil {
			return err
		}
	}

	// Handle bool flags - check if explicitly set
	if err := applyBoolFlag(fs, "tls", &cfg.TLSEnabled); err != nil {
		return err
	}
	return applyBoolFlag(fs, "tls-insecure-skip", &cfg.InsecureSkip)
}

// applyRelayFlags applies command line flags to relay configuration
func applyRelayFlags(fs *pflag.FlagSet, cfg *RelayConfig) error {
	durs := map[string]*time.Duration{
		"reconnect-initial": &cfg.ReconnectInitial,
		"reconnect-max":     &cfg.ReconnectMax,
		"error-backoff":     &cfg.ErrorBackoff,
		"ack-timeout":       &cfg.AckTimeout,
	}
	for name, dst := range durs {
		if err := applyDurationFlag(fs, name, dst); err != nil {
			return err
		}
	}
	return nil
}

// applyDaemonFlags applies command line flags to daemon configuration
func applyDaemonFlags(fs *pflag.FlagSet, cfg *DaemonConfig) error {
	if err := applyStringFlag(fs, "pid", &cfg.PIDFile); err != nil {
		return err
	}
	if err := applyStringFlag(fs, "log-file", &cfg.LogFile); err != nil {
		return err
	}
	return applyDurationFlag(fs, "shutdown-timeout", &cfg.ShutdownTimeout)
}

func applyLogFlags(fs *pflag.FlagSet, cfg *Config) error {
	if err := applyStringFlag(fs, "log-level", &cfg.Log.Level); err != nil {
		return err
	}
	if err := applyBoolFlag(fs, "syslog", &cfg.Log.Syslog); err != nil {
		return err
	}
	return applyStringFlag(fs, "metrics-address", &cfg.Metrics.Address)
}

func applyStringFlag(fs *pflag.FlagSet, name string, dst *string) error {
	if !isFlagSet(fs, name) {
		return nil
	}
	v, err := fs.GetString(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func applyDurationFlag(fs *pflag.FlagSet, name string, dst *time.Duration) error {
	if !isFlagSet(fs, name) {
		return nil
	}
	v, err := fs.GetDuration(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func applyBoolFlag(fs *pflag.FlagSet, name string, dst *bool) error {
	if !isFlagSet(fs, name) {
		return nil
	}
	v, err := fs.GetBool(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	return f != nil && f.Changed
}
