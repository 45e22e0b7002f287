package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitDecision represents the result of a rate limit check.
//
// Counters are refreshed with a full window TTL on every allowed request,
// so ResetAt is an upper bound: the counter expires no later than one
// window after the most recent allowed request.
type RateLimitDecision struct {
	// Key is the storage key of the counter ("ratelimit:<identity>").
	Key string

	// Allowed indicates whether the request should be permitted.
	Allowed bool

	// Limit is the maximum number of requests allowed in the time window.
	Limit int

	// Count is the counter value after this check.
	// A denied check leaves the counter untouched.
	Count int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAt is the latest time at which the counter expires.
	ResetAt time.Time

	// RetryAfter is the duration the client should wait before retrying.
	RetryAfter time.Duration

	// FailedOpen is set when the store could not be consulted and the
	// request was allowed without counting.
	FailedOpen bool
}

// String returns a human-readable representation of the decision.
func (d *RateLimitDecision) String() string {
	if d.Allowed {
		return fmt.Sprintf(
			"RateLimitDecision{Allowed: true, Key: %s, Count: %d/%d, FailedOpen: %t}",
			d.Key,
			d.Count,
			d.Limit,
			d.FailedOpen,
		)
	}

	return fmt.Sprintf(
		"RateLimitDecision{Allowed: false, Key: %s, Limit: %d, RetryAfter: %s}",
		d.Key,
		d.Limit,
		d.RetryAfter.String(),
	)
}

// RetryAfterSeconds returns the retry delay in whole seconds, rounded up.
//
// This is useful for HTTP headers like Retry-After.
func (d *RateLimitDecision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	seconds := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		seconds++
	}
	return seconds
}

func newAllowedDecision(key string, limit, count int, now time.Time, window time.Duration) *RateLimitDecision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitDecision{
		Key:       key,
		Allowed:   true,
		Limit:     limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}
}

func newDeniedDecision(key string, limit, count int, now time.Time, window time.Duration) *RateLimitDecision {
	return &RateLimitDecision{
		Key:        key,
		Allowed:    false,
		Limit:      limit,
		Count:      count,
		Remaining:  0,
		ResetAt:    now.Add(window),
		RetryAfter: window,
	}
}
