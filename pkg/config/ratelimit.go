package config

import (
	"log/slog"

	"link-embed/pkg/ratelimit"
)

// LoadRateLimitConfig applies rate limiting environment variables on top of base.
// A nil base starts from ratelimit.DefaultConfig().
//
// Invalid values are logged and replaced by the base value instead of failing.
//
// Environment variables:
//   - RATELIMIT_ENABLED: Enable/disable rate limiting (default: true)
//   - RATELIMIT_LIMIT: Requests per identity per window (default: 30)
//   - RATELIMIT_WINDOW: Counter TTL (default: 1m)
//   - RATELIMIT_CB_FAILURE_THRESHOLD: Store circuit breaker failure threshold (default: 10)
//   - RATELIMIT_CB_RECOVERY_TIMEOUT: Store circuit breaker recovery timeout (default: 30s)
//
// Example:
//
//	cfg := LoadRateLimitConfig(nil)
//	limiter := ratelimit.NewLimiter(store, *cfg)
func LoadRateLimitConfig(base *ratelimit.RateLimitConfig) *ratelimit.RateLimitConfig {
	defaults := ratelimit.DefaultConfig()
	if base != nil {
		merged := *base
		merged.ApplyDefaults()
		defaults = &merged
	}
	config := &ratelimit.RateLimitConfig{
		Enabled: GetEnvBool("RATELIMIT_ENABLED", defaults.Enabled),
	}

	limit := GetEnvInt("RATELIMIT_LIMIT", defaults.Limit)
	if limit <= 0 {
		slog.Warn("invalid RATELIMIT_LIMIT, using default",
			slog.Int("value", limit),
			slog.Int("default", defaults.Limit))
		limit = defaults.Limit
	}
	config.Limit = limit

	window := GetEnvDuration("RATELIMIT_WINDOW", defaults.Window)
	if err := ValidatePositiveDuration(window); err != nil {
		slog.Warn("invalid RATELIMIT_WINDOW, using default",
			slog.String("value", window.String()),
			slog.String("default", defaults.Window.String()),
			slog.String("error", err.Error()))
		window = defaults.Window
	}
	config.Window = window

	threshold := GetEnvInt("RATELIMIT_CB_FAILURE_THRESHOLD", defaults.CircuitBreakerFailureThreshold)
	if threshold < 0 {
		slog.Warn("invalid RATELIMIT_CB_FAILURE_THRESHOLD, using default",
			slog.Int("value", threshold),
			slog.Int("default", defaults.CircuitBreakerFailureThreshold))
		threshold = defaults.CircuitBreakerFailureThreshold
	}
	config.CircuitBreakerFailureThreshold = threshold

	recovery := GetEnvDuration("RATELIMIT_CB_RECOVERY_TIMEOUT", defaults.CircuitBreakerResetTimeout)
	if err := ValidatePositiveDuration(recovery); err != nil {
		slog.Warn("invalid RATELIMIT_CB_RECOVERY_TIMEOUT, using default",
			slog.String("value", recovery.String()),
			slog.String("default", defaults.CircuitBreakerResetTimeout.String()),
			slog.String("error", err.Error()))
		recovery = defaults.CircuitBreakerResetTimeout
	}
	config.CircuitBreakerResetTimeout = recovery

	if err := config.Validate(); err != nil {
		slog.Warn("rate limit configuration validation failed, applying defaults",
			slog.String("error", err.Error()))
		config.ApplyDefaults()
	}

	return config
}
