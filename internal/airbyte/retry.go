package airbyte

import (
	"math/rand"
	"time"
)

// RetryPolicy describes bounded exponential backoff for transient
// upstream failures. It is a plain value so tests can zero the delays
// and simulate exhaustion deterministically.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Defaults to 3.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the wait after the first failed attempt.
	// Defaults to 500ms.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the backoff. Defaults to 10s.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Factor is the multiplier applied per attempt. Defaults to 2.0.
	Factor float64 `yaml:"factor"`

	// Jitter is the fraction of the delay randomized in
	// [-Jitter, +Jitter]. Defaults to 0.2.
	Jitter float64 `yaml:"jitter"`
}

// ApplyDefaults fills in zero-valued fields.
func (p *RetryPolicy) ApplyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}

	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}

	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}

	if p.Factor <= 0 {
		p.Factor = 2.0
	}

	if p.Jitter < 0 {
		p.Jitter = 0
	}
}

// Delay returns the wait before retrying the given 0-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Factor
	}

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		delay += delay * (rand.Float64()*2 - 1) * p.Jitter
	}

	if delay < 0 {
		return 0
	}

	return time.Duration(delay)
}
