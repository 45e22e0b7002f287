package retry

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return &HTTPError{StatusCode: http.StatusBadGateway}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoff_ReturnsLastErrorUnwrapped(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(2), func() error {
		calls++
		return &HTTPError{StatusCode: http.StatusServiceUnavailable}
	})

	assert.Equal(t, 2, calls)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestWithBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(5), func() error {
		calls++
		return &HTTPError{StatusCode: http.StatusNotFound}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls, "4xx pages are not retried")
}

func TestWithBackoff_SingleAttempt(t *testing.T) {
	calls := 0
	_ = WithBackoff(context.Background(), fastConfig(1), func() error {
		calls++
		return syscall.ECONNRESET
	})
	assert.Equal(t, 1, calls)
}

func TestWithBackoff_RetryAfterBeyondMaxDelayGivesUp(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), func() error {
		calls++
		return &HTTPError{StatusCode: http.StatusTooManyRequests, RetryAfter: time.Minute}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithBackoff_HonoursShortRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	err := WithBackoff(context.Background(), Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2}, func() error {
		calls++
		if calls == 1 {
			return &HTTPError{StatusCode: http.StatusTooManyRequests, RetryAfter: 20 * time.Millisecond}
		}
		return nil
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWithBackoff_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	err := WithBackoff(ctx, cfg, func() error {
		cancel()
		return syscall.ECONNREFUSED
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"net timeout", timeoutErr{}, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"500", &HTTPError{StatusCode: 500}, true},
		{"503 wrapped", errors.Join(errors.New("ctx"), &HTTPError{StatusCode: 503}), true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"408", &HTTPError{StatusCode: 408}, true},
		{"404", &HTTPError{StatusCode: 404}, false},
		{"403", &HTTPError{StatusCode: 403}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"-3", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRetryAfter(tt.value, now))
		})
	}
}

func TestAddJitter(t *testing.T) {
	assert.Equal(t, time.Second, addJitter(time.Second, 0))
	for range 100 {
		d := addJitter(time.Second, 0.5)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestPageFetchConfig(t *testing.T) {
	assert.Equal(t, 1, PageFetchConfig(0).MaxAttempts)
	assert.Equal(t, 2, PageFetchConfig(2).MaxAttempts)
}
