package config

import "fmt"

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateBroker(&cfg.Broker); err != nil {
		return err
	}
	if cfg.Pipe.Path == "" {
		return fmt.Errorf("pipe path cannot be empty")
	}
	if err := validateRelay(&cfg.Relay); err != nil {
		return err
	}
	return validateDaemon(&cfg.Daemon)
}

// validateBroker validates broker configuration
func validateBroker(cfg *BrokerConfig) error {
	switch cfg.Transport {
	case TransportAMQP, TransportRedis, TransportMQTT:
	default:
		return fmt.Errorf("unknown broker transport %q", cfg.Transport)
	}
	if cfg.Host == "" {
		return fmt.Errorf("broker host cannot be empty")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("broker port %d out of range", cfg.Port)
	}
	if cfg.Queue == "" {
		return fmt.Errorf("queue name cannot be empty")
	}
	if cfg.Transport != TransportAMQP && cfg.Consumer == "" {
		return fmt.Errorf("consumer name cannot be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("broker connect timeout must be positive")
	}
	return nil
}

// validateRelay validates relay configuration
func validateRelay(cfg *RelayConfig) error {
	if cfg.ReconnectInitial <= 0 {
		return fmt.Errorf("initial reconnect backoff must be positive")
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		return fmt.Errorf("maximum reconnect backoff must not be below the initial backoff")
	}
	if cfg.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout must be positive")
	}
	if cfg.ErrorBackoff < 0 {
		return fmt.Errorf("error backoff cannot be negative")
	}
	return nil
}

// validateDaemon validates daemon configuration
func validateDaemon(cfg *DaemonConfig) error {
	if cfg.PIDFile == "" {
		return fmt.Errorf("pid file path cannot be empty")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}
