// Package retry retries transient page fetch failures with exponential
// backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	// MaxAttempts is the total number of calls, the first one included.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps every wait, including one requested by Retry-After.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// JitterFraction adds up to this fraction of the delay at random (0.0 to 1.0).
	JitterFraction float64

	// Logger receives retry decisions. Default: slog.Default()
	Logger *slog.Logger
}

// PageFetchConfig returns the schedule for fetching preview pages.
// Previews are rendered while a user waits, so the schedule is short.
func PageFetchConfig(attempts int) Config {
	return Config{
		MaxAttempts:    max(attempts, 1),
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// WithBackoff calls fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. A Retry-After hint on an *HTTPError replaces the
// computed delay; a hint longer than MaxDelay ends the retries early.
func WithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.InitialDelay
	logger := cfg.logger()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("fetch succeeded after retry", slog.Int("attempt", attempt))
			}
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts {
			break
		}

		wait := addJitter(delay, cfg.JitterFraction)
		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > 0 {
			if cfg.MaxDelay > 0 && httpErr.RetryAfter > cfg.MaxDelay {
				logger.Debug("retry-after exceeds max delay, giving up",
					slog.Duration("retry_after", httpErr.RetryAfter),
					slog.Duration("max_delay", cfg.MaxDelay))
				break
			}
			wait = httpErr.RetryAfter
		}

		logger.Debug("fetch failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", wait),
			slog.Any("error", lastErr))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

// IsRetryable reports whether err is a transient network or upstream failure.
// Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500 && httpErr.StatusCode < 600:
			return true
		case httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode == http.StatusRequestTimeout:
			return true
		}
	}
	return false
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Message    string

	// RetryAfter is the upstream's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ParseRetryAfter reads a Retry-After header value given in seconds or as an
// HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func addJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	fraction = min(fraction, 1.0)
	// #nosec G404 -- backoff jitter does not need cryptographic randomness
	return d + time.Duration(rand.Float64()*float64(d)*fraction)
}
