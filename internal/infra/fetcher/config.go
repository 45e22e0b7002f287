package fetcher

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultUserAgent identifies the preview bot to remote sites.
const DefaultUserAgent = "LinkEmbedBot/1.0 (+https://github.com/link-embed)"

// Config holds the configuration for page fetching operations.
// This configuration controls security, performance, and politeness of
// outbound requests made while resolving link previews.
//
// Security settings:
//   - DenyPrivateIPs: Prevents SSRF attacks by blocking private IP addresses
//   - MaxBodySize: Prevents memory exhaustion from oversized responses
//   - MaxRedirects: Prevents infinite redirect loops
//   - Timeout: Prevents resource starvation from slow servers
//
// Politeness settings:
//   - RequestsPerSecond / Burst: Caps outbound request rate across all hosts
//   - RetryAttempts: Total attempts for transient failures (1 disables retry)
type Config struct {
	// Timeout is the maximum duration for a single HTTP request, redirects included.
	// Default: 10s
	Timeout time.Duration

	// MaxBodySize is the maximum HTTP response body size in bytes.
	// Responses exceeding this limit are rejected to prevent memory exhaustion.
	// This is enforced during response reading, not based on Content-Length header.
	// Default: 10485760 (10MB)
	MaxBodySize int64

	// MaxRedirects is the maximum number of HTTP redirects to follow.
	// Each redirect target is validated for security (SSRF check).
	// Default: 5
	MaxRedirects int

	// DenyPrivateIPs controls whether to block access to private IP addresses.
	// When true, redirect targets and connected addresses are checked against
	// the loopback, link-local and private ranges.
	// Should always be true in production.
	// Default: true
	DenyPrivateIPs bool

	// UserAgent is sent with every request.
	// Default: DefaultUserAgent
	UserAgent string

	// RequestsPerSecond limits outbound requests across all hosts. 0 disables the limit.
	// Default: 20
	RequestsPerSecond float64

	// Burst is the token bucket size for RequestsPerSecond.
	// Default: 10
	Burst int

	// RetryAttempts is the total number of attempts for transient failures
	// (timeouts, connection resets, 5xx, 429). 1 disables retry; a failed
	// fetch is normally retried by the next Resolve for the same URL.
	// Default: 1
	RetryAttempts int
}

// DefaultConfig returns the default configuration for page fetching.
//
// Example:
//
//	config := DefaultConfig()
//	config.Timeout = 5 * time.Second
//	f := New(config)
func DefaultConfig() Config {
	return Config{
		Timeout:           10 * time.Second,
		MaxBodySize:       10 * 1024 * 1024, // 10MB
		MaxRedirects:      5,
		DenyPrivateIPs:    true,
		UserAgent:         DefaultUserAgent,
		RequestsPerSecond: 20,
		Burst:             10,
		RetryAttempts:     1,
	}
}

// Validate checks if the configuration values are valid and safe.
//
// Validation rules:
//   - Timeout: > 0 (must have timeout)
//   - MaxBodySize: 1KB-100MB (prevent memory issues)
//   - MaxRedirects: 0-10 (reasonable redirect limit)
//   - RequestsPerSecond: >= 0, Burst >= 1 when limited
//   - RetryAttempts: 1-5
//
// Returns:
//   - error: nil if configuration is valid, descriptive error otherwise
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}

	minBodySize := int64(1024)              // 1KB
	maxBodySize := int64(100 * 1024 * 1024) // 100MB
	if c.MaxBodySize < minBodySize || c.MaxBodySize > maxBodySize {
		return fmt.Errorf("max body size must be between %d and %d bytes, got %d", minBodySize, maxBodySize, c.MaxBodySize)
	}

	if c.MaxRedirects < 0 || c.MaxRedirects > 10 {
		return fmt.Errorf("max redirects must be between 0 and 10, got %d", c.MaxRedirects)
	}

	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must be non-negative, got %v", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate limiting is enabled, got %d", c.Burst)
	}

	if c.RetryAttempts < 1 || c.RetryAttempts > 5 {
		return fmt.Errorf("retry attempts must be between 1 and 5, got %d", c.RetryAttempts)
	}

	return nil
}

// LoadConfigFromEnv loads configuration from environment variables.
// If a variable is not set, the default value is used. A variable that is set
// but cannot be parsed is an error. After loading, the configuration is validated.
//
// Environment variables:
//   - FETCH_TIMEOUT: duration string, e.g., "10s" (default: 10s)
//   - FETCH_MAX_BODY_SIZE: integer in bytes (default: 10485760)
//   - FETCH_MAX_REDIRECTS: integer (default: 5)
//   - FETCH_DENY_PRIVATE_IPS: "true" or "false" (default: true)
//   - FETCH_USER_AGENT: string (default: DefaultUserAgent)
//   - FETCH_RPS: float (default: 20, 0 disables)
//   - FETCH_BURST: integer (default: 10)
//   - FETCH_RETRY_ATTEMPTS: integer (default: 2)
//
// Example:
//
//	// Set environment: FETCH_TIMEOUT=5s
//	config, err := LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal("Invalid configuration: %v", err)
//	}
//	// config.Timeout == 5 * time.Second
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if val := os.Getenv("FETCH_TIMEOUT"); val != "" {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return cfg, fmt.Errorf("invalid FETCH_TIMEOUT: %v (expected format: '10s', '1m')", err)
		}
		cfg.Timeout = parsed
	}

	if val := os.Getenv("FETCH_MAX_BODY_SIZE"); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid FETCH_MAX_BODY_SIZE: %v", err)
		}
		cfg.MaxBodySize = parsed
	}

	if val := os.Getenv("FETCH_MAX_REDIRECTS"); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return cfg, fmt.Errorf("invalid FETCH_MAX_REDIRECTS: %v", err)
		}
		cfg.MaxRedirects = parsed
	}

	if val := os.Getenv("FETCH_DENY_PRIVATE_IPS"); val != "" {
		cfg.DenyPrivateIPs = val == "true"
	}

	if val := os.Getenv("FETCH_USER_AGENT"); val != "" {
		cfg.UserAgent = val
	}

	if val := os.Getenv("FETCH_RPS"); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid FETCH_RPS: %v", err)
		}
		cfg.RequestsPerSecond = parsed
	}

	if val := os.Getenv("FETCH_BURST"); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return cfg, fmt.Errorf("invalid FETCH_BURST: %v", err)
		}
		cfg.Burst = parsed
	}

	if val := os.Getenv("FETCH_RETRY_ATTEMPTS"); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return cfg, fmt.Errorf("invalid FETCH_RETRY_ATTEMPTS: %v", err)
		}
		cfg.RetryAttempts = parsed
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
