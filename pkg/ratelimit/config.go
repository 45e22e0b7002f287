package ratelimit

import (
	"fmt"
	"time"
)

const (
	// DefaultLimit is the number of requests an identity may make per window.
	DefaultLimit = 30

	// DefaultWindow is the counter lifetime.
	DefaultWindow = 1 * time.Minute

	// KeyPrefix is prepended to the identity to form the counter key.
	KeyPrefix = "ratelimit:"
)

// RateLimitConfig contains the configuration for the limiter.
type RateLimitConfig struct {
	// Feature flag to enable/disable rate limiting
	Enabled bool `yaml:"enabled"`

	// Limit is the maximum number of requests per identity within Window.
	Limit int `yaml:"limit"`

	// Window is the TTL written with every counter update.
	Window time.Duration `yaml:"window"`

	// Circuit breaker settings for the counter store
	CircuitBreakerFailureThreshold int           `yaml:"breaker_failure_threshold"` // Open circuit after N consecutive failures
	CircuitBreakerResetTimeout     time.Duration `yaml:"breaker_reset_timeout"`     // Try half-open state after this timeout
}

// Validate checks if the RateLimitConfig is valid.
//
// Returns an error if any configuration values are invalid.
func (c *RateLimitConfig) Validate() error {
	if c.Limit < 0 {
		return fmt.Errorf("Limit must be non-negative, got %d", c.Limit)
	}
	if c.Window < 0 {
		return fmt.Errorf("Window must be non-negative, got %s", c.Window)
	}
	if c.CircuitBreakerFailureThreshold < 0 {
		return fmt.Errorf("CircuitBreakerFailureThreshold must be non-negative, got %d", c.CircuitBreakerFailureThreshold)
	}
	if c.CircuitBreakerResetTimeout < 0 {
		return fmt.Errorf("CircuitBreakerResetTimeout must be non-negative, got %s", c.CircuitBreakerResetTimeout)
	}
	return nil
}

// ApplyDefaults sets default values for any zero configuration values.
// Enabled is left as is so that a disabled limiter stays disabled.
func (c *RateLimitConfig) ApplyDefaults() {
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.CircuitBreakerFailureThreshold == 0 {
		c.CircuitBreakerFailureThreshold = 10
	}
	if c.CircuitBreakerResetTimeout == 0 {
		c.CircuitBreakerResetTimeout = 30 * time.Second
	}
}

// DefaultConfig returns an enabled RateLimitConfig with 30 requests per minute.
func DefaultConfig() *RateLimitConfig {
	config := &RateLimitConfig{Enabled: true}
	config.ApplyDefaults()
	return config
}
