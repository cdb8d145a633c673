package exporter

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/airmonio/airmon/internal/airbyte"
	"github.com/airmonio/airmon/internal/export"
)

// Environment variables recognized as overrides. Credentials are
// normally provided this way rather than through the config file.
const (
	envClientID     = "AIRBYTE_CLIENT_ID"
	envClientSecret = "AIRBYTE_CLIENT_SECRET"
	envAPIURL       = "AIRBYTE_API_URL"
	envPort         = "PROMETHEUS_PORT"
	envInterval     = "METRICS_UPDATE_INTERVAL"
	envLogLevel     = "LOG_LEVEL"
)

// Config is the top-level configuration for the exporter.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Airbyte configures the upstream API connection.
	Airbyte airbyte.Config `yaml:"airbyte"`

	// Server configures the exposition HTTP server.
	Server export.ServerConfig `yaml:"server"`

	// PollInterval is how often upstream state is refreshed.
	// Defaults to 60s.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		PollInterval: 60 * time.Second,
		Airbyte: airbyte.Config{
			BaseURL: "https://api.airbyte.com/v1",
		},
		Server: export.ServerConfig{
			Addr: ":8000",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML
// file, and environment overrides, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envClientID); v != "" {
		c.Airbyte.ClientID = v
	}

	if v := os.Getenv(envClientSecret); v != "" {
		c.Airbyte.ClientSecret = v
	}

	if v := os.Getenv(envAPIURL); v != "" {
		c.Airbyte.BaseURL = v
	}

	if v := os.Getenv(envPort); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("parsing %s %q: %w", envPort, v, err)
		}

		c.Server.Addr = ":" + v
	}

	if v := os.Getenv(envInterval); v != "" {
		interval, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", envInterval, v, err)
		}

		c.PollInterval = interval
	}

	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = v
	}

	return nil
}

// parseInterval accepts a Go duration ("90s", "2m") or a bare number
// of seconds ("60").
func parseInterval(v string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return time.ParseDuration(v)
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if c.Airbyte.BaseURL == "" {
		return fmt.Errorf("airbyte.base_url is required")
	}

	if c.Airbyte.ClientID == "" || c.Airbyte.ClientSecret == "" {
		return fmt.Errorf(
			"airbyte client credentials are required (set %s and %s)",
			envClientID, envClientSecret,
		)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}

	return nil
}
