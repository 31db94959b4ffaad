// Package config loads the eventrx command configuration from the
// environment. Command line flags override these values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Config holds the eventrx command configuration
type Config struct {
	LogLevel string `env:"EVENTRX_LOG_LEVEL" envDefault:"info"`

	// Server configuration
	Addr      string  `env:"EVENTRX_ADDR" envDefault:":8080"`
	RateLimit float64 `env:"EVENTRX_RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"EVENTRX_RATE_BURST" envDefault:"1"`

	// Stream configuration
	ChunkSize int `env:"EVENTRX_CHUNK_SIZE" envDefault:"65536"`

	// MapsFile is an optional YAML file of event maps loaded at startup
	MapsFile string `env:"EVENTRX_MAPS_FILE"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("address is required")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when limiting, got %d", c.RateBurst)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d", c.ChunkSize)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
}
