package airbyte

import "time"

// Config holds configuration for the Airbyte management API client.
type Config struct {
	// BaseURL is the HTTP URL of the Airbyte API, e.g.
	// "https://api.airbyte.com/v1". The token endpoint is derived
	// from it as BaseURL + "/applications/token".
	BaseURL string `yaml:"base_url"`

	// ClientID and ClientSecret are the application credentials used
	// for the client_credentials token grant. Sourced from the
	// AIRBYTE_CLIENT_ID / AIRBYTE_CLIENT_SECRET environment variables
	// when not set in the config file.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Timeout for individual HTTP requests. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// TokenExpiryMargin is how long before expiry a cached token is
	// considered stale and refreshed. Defaults to 60s.
	TokenExpiryMargin time.Duration `yaml:"token_expiry_margin"`

	// PageSize is the limit query parameter for list calls.
	// Defaults to 100.
	PageSize int `yaml:"page_size"`

	// MaxPages caps how many pages a single list call will follow
	// before returning what it has. Defaults to 50.
	MaxPages int `yaml:"max_pages"`

	// JobLookback bounds how far back job runs are requested on each
	// poll. Defaults to 24h.
	JobLookback time.Duration `yaml:"job_lookback"`

	// Retry is the policy applied to rate-limited and transient
	// upstream failures.
	Retry RetryPolicy `yaml:"retry"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	if c.TokenExpiryMargin == 0 {
		c.TokenExpiryMargin = 60 * time.Second
	}

	if c.PageSize <= 0 {
		c.PageSize = 100
	}

	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}

	if c.JobLookback <= 0 {
		c.JobLookback = 24 * time.Hour
	}

	c.Retry.ApplyDefaults()
}
