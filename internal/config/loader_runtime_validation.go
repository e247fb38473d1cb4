package config

import "strings"

// applyRuntimeValidation applies runtime validations and transformations
func applyRuntimeValidation(cfg *Config) error {
	cfg.Broker.Transport = strings.ToLower(strings.TrimSpace(cfg.Broker.Transport))
	applyDefaultPort(&cfg.Broker)
	return nil
}

// applyDefaultPort resolves a zero port to the transport's well-known port
func applyDefaultPort(cfg *BrokerConfig) {
	if cfg.Port != 0 {
		return
	}
	cfg.Port = DefaultPort(cfg.Transport)
	if !cfg.TLSEnabled {
		return
	}
	switch cfg.Transport {
	case TransportAMQP:
		cfg.Port = 5671
	case TransportMQTT:
		cfg.Port = 8883
	}
}
