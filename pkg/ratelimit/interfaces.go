// Package ratelimit provides a per-identity fixed-window request limiter.
//
// Counters live in a pluggable key-value store so that every replica of the
// service sharing the same store observes the same budget. The store only
// needs TTL-aware Get and Set; any repository.KVStore satisfies it.
package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the storage contract the limiter needs.
//
// Implementations must be safe for concurrent use. The limiter performs a
// non-atomic read-then-write, so two concurrent checks for the same identity
// may both observe the same count.
type CounterStore interface {
	// Get returns the stored value and whether it exists.
	// An expired entry must be reported as missing.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A positive ttl makes the entry expire
	// after that duration; the TTL is refreshed on every write.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RateLimitMetrics defines the interface for recording rate limiting metrics.
//
// Implementations can use Prometheus, StatsD, or custom metrics systems.
type RateLimitMetrics interface {
	// RecordAllowed records a rate limit check that resulted in an allowed request.
	//
	// Parameters:
	//   - limiterType: Type of rate limiter (e.g., "resolve")
	RecordAllowed(limiterType string)

	// RecordDenied records a rate limit violation (request denied).
	//
	// Parameters:
	//   - limiterType: Type of rate limiter (e.g., "resolve")
	RecordDenied(limiterType string)

	// RecordStoreError records a failed counter read or write.
	// The request is allowed through when this happens.
	RecordStoreError(limiterType string)

	// RecordCheckDuration records the duration of a rate limit check operation.
	RecordCheckDuration(limiterType string, duration time.Duration)

	// RecordCircuitState records the current state of the circuit breaker.
	//
	// Parameters:
	//   - limiterType: Type of rate limiter
	//   - state: Circuit state ("closed", "open", "half-open")
	RecordCircuitState(limiterType, state string)
}

// Clock provides time abstraction for testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}
