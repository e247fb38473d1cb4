package config

import "time"

// defaultBrokerConfig returns the default broker configuration
func defaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Transport:      TransportAMQP,
		Host:           "localhost",
		Port:           0,
		User:           DefaultUser,
		Password:       DefaultPassword,
		VHost:          "/",
		Queue:          "krolyk",
		Consumer:       "krolyk",
		ConnectTimeout: 10 * time.Second,
		Heartbeat:      10 * time.Second,
		BlockTimeout:   5 * time.Second,
		ClaimIdle:      30 * time.Second,
		TLSEnabled:     false,
		CACert:         "",
		ClientCert:     "",
		ClientKey:      "",
		InsecureSkip:   false,
	}
}

// defaultPipeConfig returns the default pipe configuration
func defaultPipeConfig() PipeConfig {
	return PipeConfig{
		Path: "/opt/nagios/var/nagios.cmd",
	}
}

// defaultRelayConfig returns the default relay configuration
func defaultRelayConfig() RelayConfig {
	return RelayConfig{
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		ErrorBackoff:     1 * time.Second,
		AckTimeout:       5 * time.Second,
	}
}

// defaultDaemonConfig returns the default daemon configuration
func defaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		PIDFile:         "file.pid",
		LogFile:         "krolyk.log",
		ShutdownTimeout: 30 * time.Second,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		Broker: defaultBrokerConfig(),
		Pipe:   defaultPipeConfig(),
		Relay:  defaultRelayConfig(),
		Daemon: defaultDaemonConfig(),
		Log: LogConfig{
			Level:  "info",
			Syslog: false,
		},
		Metrics: MetricsConfig{},
	}
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return defaultConfig()
}

// DefaultPort returns the well-known port for a transport
func DefaultPort(transport string) int {
	switch transport {
	case TransportRedis:
		return 6379
	case TransportMQTT:
		return 1883
	default:
		return 5672
	}
}
