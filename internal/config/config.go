// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all gateway configuration.
type Config struct {
	// Control connection
	ListenAddr string

	// Passive data connections
	PassivePortMin int
	PassivePortMax int
	// Host advertised in PASV replies. Empty means the control
	// connection's local address is used.
	AdvertisedHost string

	// Connection caps
	MaxConnections      int
	MaxConnectionsPerIP int

	// Timeouts
	ControlIdleTimeout time.Duration
	// Idle deadline between reads on an upload data channel. Exceeding
	// it aborts the transfer without any remote write.
	StorIdleTimeout time.Duration

	// Metrics
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Credential store file maintained by the external token tool.
	TokensFile string

	// Optional GitHub Enterprise base URL. Empty means github.com.
	GitHubBaseURL string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8021"),
		PassivePortMin:      envInt("PASV_PORT_MIN", 60000),
		PassivePortMax:      envInt("PASV_PORT_MAX", 65534),
		AdvertisedHost:      envOr("PASV_ADDRESS", ""),
		MaxConnections:      envInt("MAX_CONNECTIONS", 256),
		MaxConnectionsPerIP: envInt("MAX_CONNECTIONS_PER_IP", 5),
		ControlIdleTimeout:  envDuration("CONTROL_IDLE_TIMEOUT", 5*time.Minute),
		StorIdleTimeout:     envDuration("STOR_IDLE_TIMEOUT", 10*time.Second),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		TokensFile:          envOr("TOKENS_FILE", "tokens.json"),
		GitHubBaseURL:       envOr("GITHUB_BASE_URL", ""),
	}

	if cfg.TokensFile == "" {
		return nil, fmt.Errorf("TOKENS_FILE is required")
	}
	if cfg.PassivePortMin > cfg.PassivePortMax {
		return nil, fmt.Errorf("PASV_PORT_MIN %d exceeds PASV_PORT_MAX %d",
			cfg.PassivePortMin, cfg.PassivePortMax)
	}
	if cfg.PassivePortMin < 1 || cfg.PassivePortMax > 65535 {
		return nil, fmt.Errorf("passive port range %d-%d out of bounds",
			cfg.PassivePortMin, cfg.PassivePortMax)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
