package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"link-embed/internal/domain/entity"
)

// ExceededMessage is the caller-facing message of a rate_limit_exceeded error.
const ExceededMessage = "too many requests; please wait a moment and try again"

// Limiter enforces Limit requests per identity per Window.
//
// The counter for an identity is stored as a decimal string under
// "ratelimit:<identity>" and rewritten with a fresh Window TTL on every
// allowed request, so the window rolls forward from the most recent allowed
// request and the counter disappears by expiry rather than by reset.
type Limiter struct {
	store   CounterStore
	config  RateLimitConfig
	breaker *CircuitBreaker
	metrics RateLimitMetrics
	clock   Clock
	logger  *slog.Logger
	name    string
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMetrics sets the metrics recorder.
func WithMetrics(m RateLimitMetrics) Option {
	return func(l *Limiter) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithClock sets the clock used for decisions and the store breaker.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithName sets the limiter type label used in metrics and logs.
// Default: "resolve".
func WithName(name string) Option {
	return func(l *Limiter) {
		if name != "" {
			l.name = name
		}
	}
}

// NewLimiter creates a Limiter over store. Zero config values take defaults.
func NewLimiter(store CounterStore, config RateLimitConfig, opts ...Option) *Limiter {
	config.ApplyDefaults()
	l := &Limiter{
		store:   store,
		config:  config,
		metrics: NewNoOpMetrics(),
		clock:   &SystemClock{},
		logger:  slog.Default(),
		name:    "resolve",
	}
	for _, opt := range opts {
		opt(l)
	}
	l.breaker = NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: config.CircuitBreakerFailureThreshold,
		RecoveryTimeout:  config.CircuitBreakerResetTimeout,
		Clock:            l.clock,
		Metrics:          l.metrics,
		LimiterType:      l.name,
		Logger:           l.logger,
	})
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() RateLimitConfig {
	return l.config
}

// Key returns the counter key for identity.
func Key(identity string) string {
	return KeyPrefix + identity
}

// Check admits or rejects one request for identity.
//
// It returns nil when the request is allowed and a *entity.PreviewError of
// kind rate_limit_exceeded (status 429) when the identity has already used
// its budget. A disabled limiter allows everything without touching the store.
func (l *Limiter) Check(ctx context.Context, identity string) error {
	decision, err := l.Decide(ctx, identity)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return entity.NewPreviewError(entity.KindRateLimitExceeded, ExceededMessage)
	}
	return nil
}

// Decide performs the check and returns the full decision.
//
// Store failures never deny a request: the decision is allowed with
// FailedOpen set and the failure is logged. Only context errors are returned.
func (l *Limiter) Decide(ctx context.Context, identity string) (*RateLimitDecision, error) {
	key := Key(identity)
	now := l.clock.Now()

	if !l.config.Enabled {
		return newAllowedDecision(key, l.config.Limit, 0, now, l.config.Window), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		l.metrics.RecordCheckDuration(l.name, time.Since(start))
	}()

	var count int
	err := l.breaker.Execute(func() error {
		raw, ok, err := l.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			count = parseCount(raw)
		}
		return nil
	})
	if err != nil {
		return l.failOpen(ctx, key, now, "read", err)
	}

	// 上限到達時はカウンタを更新しない
	if count >= l.config.Limit {
		l.metrics.RecordDenied(l.name)
		l.logger.Debug("rate limit exceeded",
			slog.String("key", key),
			slog.Int("count", count),
			slog.Int("limit", l.config.Limit))
		return newDeniedDecision(key, l.config.Limit, count, now, l.config.Window), nil
	}

	count++
	err = l.breaker.Execute(func() error {
		return l.store.Set(ctx, key, []byte(strconv.Itoa(count)), l.config.Window)
	})
	if err != nil {
		return l.failOpen(ctx, key, now, "write", err)
	}

	l.metrics.RecordAllowed(l.name)
	return newAllowedDecision(key, l.config.Limit, count, now, l.config.Window), nil
}

func (l *Limiter) failOpen(ctx context.Context, key string, now time.Time, op string, err error) (*RateLimitDecision, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	l.metrics.RecordStoreError(l.name)
	if !errors.Is(err, ErrCircuitOpen) {
		l.logger.Warn("rate limit store unavailable, allowing request",
			slog.String("key", key),
			slog.String("op", op),
			slog.Any("error", err))
	}
	d := newAllowedDecision(key, l.config.Limit, 0, now, l.config.Window)
	d.FailedOpen = true
	return d, nil
}

// parseCount reads a stored counter. Garbage is treated as zero.
func parseCount(raw []byte) int {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
