package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Load loads configuration with precedence: defaults → environment variables → command line flags
// It performs validation and runtime transformations before returning the configuration.
// fs must have been populated by RegisterFlags and already parsed; nil skips the flag step.
func Load(fs *pflag.FlagSet) (*Config, error) {
	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Apply environment variables
	loadBrokerFromEnv(&cfg.Broker)
	loadPipeFromEnv(&cfg.Pipe)
	loadRelayFromEnv(&cfg.Relay)
	loadDaemonFromEnv(&cfg.Daemon)
	loadLogFromEnv(&cfg.Log)
	loadMetricsFromEnv(&cfg.Metrics)

	// Step 3: Apply command line flags (highest precedence)
	if fs != nil {
		if err := applyFlags(fs, cfg); err != nil {
			return nil, fmt.Errorf("invalid flags: %w", err)
		}
	}

	// Step 4: Apply runtime validations and transformations
	if err := applyRuntimeValidation(cfg); err != nil {
		return nil, err
	}

	// Step 5: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
