// Package config provides environment variable helpers shared by the
// application configuration and the per-component loaders.
//
// Every GetEnv* helper returns the default when the variable is unset or
// empty. A value that is set but malformed is logged with slog.Warn and the
// default is used instead, so a typo never prevents startup.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvString returns the value of an environment variable or the default value if not set.
//
// Example:
//
//	addr := GetEnvString("LINKEMBED_ADDR", ":8080")
func GetEnvString(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt returns the value of an environment variable as an integer.
//
// Example:
//
//	limit := GetEnvInt("RATELIMIT_LIMIT", 30)
func GetEnvInt(key string, defaultValue int) int {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		warnInvalid(key, valueStr, strconv.Itoa(defaultValue), "integer", err)
		return defaultValue
	}
	return value
}

// GetEnvInt64 is GetEnvInt for 64-bit values such as byte sizes.
func GetEnvInt64(key string, defaultValue int64) int64 {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		warnInvalid(key, valueStr, strconv.FormatInt(defaultValue, 10), "integer", err)
		return defaultValue
	}
	return value
}

// GetEnvFloat returns the value of an environment variable as a float64.
//
// Example:
//
//	ratio := GetEnvFloat("TRACING_SAMPLE_RATIO", 1.0)
func GetEnvFloat(key string, defaultValue float64) float64 {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		warnInvalid(key, valueStr, strconv.FormatFloat(defaultValue, 'g', -1, 64), "float", err)
		return defaultValue
	}
	return value
}

// GetEnvBool returns the value of an environment variable as a boolean.
//
// Accepted values are those of strconv.ParseBool ("1", "t", "true", "0", "f",
// "false" and their capitalized forms).
//
// Example:
//
//	enabled := GetEnvBool("RATELIMIT_ENABLED", true)
func GetEnvBool(key string, defaultValue bool) bool {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		warnInvalid(key, valueStr, strconv.FormatBool(defaultValue), "boolean", err)
		return defaultValue
	}
	return value
}

// GetEnvDuration returns the value of an environment variable as a time.Duration.
//
// The value must be parseable by time.ParseDuration (e.g., "1m", "30s", "168h").
// A bare integer is read as seconds, so CACHE_TTL=604800 works as well.
//
// Example:
//
//	ttl := GetEnvDuration("CACHE_TTL", 7*24*time.Hour)
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if secs, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		warnInvalid(key, valueStr, defaultValue.String(), "duration", err)
		return defaultValue
	}
	return value
}

// GetEnvStringList returns a comma-separated list of strings from an environment variable.
//
// The values are trimmed of whitespace. Empty values are filtered out.
//
// Example:
//
//	// TRUSTED_PROXIES="10.0.0.0/8, 172.16.0.0/12"
//	proxies := GetEnvStringList("TRUSTED_PROXIES", nil)
//	// Result: ["10.0.0.0/8", "172.16.0.0/12"]
func GetEnvStringList(key string, defaultValue []string) []string {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

func warnInvalid(key, value, defaultValue, kind string, err error) {
	slog.Warn("invalid "+kind+" value for environment variable, using default",
		slog.String("key", key),
		slog.String("value", value),
		slog.String("default", defaultValue),
		slog.String("error", err.Error()))
}
