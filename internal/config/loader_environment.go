package config

import (
	"os"
	"strconv"
	"time"
)

const envPrefix = "KROLYK_"

// loadBrokerFromEnv loads broker configuration from environment variables
func loadBrokerFromEnv(cfg *BrokerConfig) {
	loadBrokerStrings(cfg)
	loadBrokerInts(cfg)
	loadBrokerTimeouts(cfg)
	loadBrokerTLS(cfg)
}

func loadBrokerStrings(cfg *BrokerConfig) {
	if v := getEnvString("TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := getEnvString("BROKER"); v != "" {
		cfg.Host = v
	}
	if v := getEnvString("USER"); v != "" {
		cfg.User = v
	}
	if v := getEnvString("PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getEnvString("VHOST"); v != "" {
		cfg.VHost = v
	}
	if v := getEnvString("QUEUE"); v != "" {
		cfg.Queue = v
	}
	if v := getEnvString("CONSUMER"); v != "" {
		cfg.Consumer = v
	}
}

func loadBrokerInts(cfg *BrokerConfig) {
	if v := getEnvInt("PORT"); v != 0 {
		cfg.Port = v
	}
}

func loadBrokerTimeouts(cfg *BrokerConfig) {
	if v := getEnvDuration("CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("HEARTBEAT"); v != 0 {
		cfg.Heartbeat = v
	}
	if v := getEnvDuration("BLOCK_TIMEOUT"); v != 0 {
		cfg.BlockTimeout = v
	}
	if v := getEnvDuration("CLAIM_IDLE"); v != 0 {
		cfg.ClaimIdle = v
	}
}

func loadBrokerTLS(cfg *BrokerConfig) {
	if v := getEnvBool("TLS_ENABLED"); v {
		cfg.TLSEnabled = v
	}
	if v := getEnvString("TLS_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("TLS_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("TLS_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
	if v := getEnvBool("TLS_INSECURE_SKIP"); v {
		cfg.InsecureSkip = v
	}
}

// loadPipeFromEnv loads pipe configuration from environment variables
func loadPipeFromEnv(cfg *PipeConfig) {
	if v := getEnvString("PIPE"); v != "" {
		cfg.Path = v
	}
}

// loadRelayFromEnv loads relay configuration from environment variables
func loadRelayFromEnv(cfg *RelayConfig) {
	if v := getEnvDuration("RECONNECT_INITIAL"); v != 0 {
		cfg.ReconnectInitial = v
	}
	if v := getEnvDuration("RECONNECT_MAX"); v != 0 {
		cfg.ReconnectMax = v
	}
	if v := getEnvDuration("ERROR_BACKOFF"); v != 0 {
		cfg.ErrorBackoff = v
	}
	if v := getEnvDuration("ACK_TIMEOUT"); v != 0 {
		cfg.AckTimeout = v
	}
}

// loadDaemonFromEnv loads daemon configuration from environment variables
func loadDaemonFromEnv(cfg *DaemonConfig) {
	if v := getEnvString("PID"); v != "" {
		cfg.PIDFile = v
	}
	if v := getEnvString("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := getEnvDuration("SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
}

// loadLogFromEnv loads logging configuration from environment variables
// LOG_LEVEL is read without prefix, as the logger itself does.
func loadLogFromEnv(cfg *LogConfig) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := getEnvBool("SYSLOG"); v {
		cfg.Syslog = v
	}
}

// loadMetricsFromEnv loads metrics configuration from environment variables
func loadMetricsFromEnv(cfg *MetricsConfig) {
	if v := getEnvString("METRICS_ADDRESS"); v != "" {
		cfg.Address = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(envPrefix + key)
}

func getEnvInt(key string) int {
	value := getEnvString(key)
	if value == "" {
		return 0
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return intValue
}

func getEnvDuration(key string) time.Duration {
	value := getEnvString(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

func getEnvBool(key string) bool {
	value := getEnvString(key)
	return value == "true"
}
