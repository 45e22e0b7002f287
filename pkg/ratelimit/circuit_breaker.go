package ratelimit

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the store is not consulted.
var ErrCircuitOpen = errors.New("ratelimit: counter store circuit open")

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// StateClosed is the normal operating state.
	StateClosed CircuitState = iota

	// StateOpen skips the counter store entirely; the limiter fails open.
	StateOpen

	// StateHalfOpen lets the next call through to probe the store.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures required to open the circuit.
	// Default: 10
	FailureThreshold int

	// RecoveryTimeout is the duration to wait before attempting recovery (half-open state).
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// Clock provides time abstraction for testing.
	// Default: SystemClock
	Clock Clock

	// Metrics for recording circuit state changes.
	// Default: NoOpMetrics
	Metrics RateLimitMetrics

	// LimiterType labels metrics and logs.
	LimiterType string

	// Logger receives state transitions. Default: slog.Default()
	Logger *slog.Logger
}

// CircuitBreaker guards the counter store.
//
// After FailureThreshold consecutive store failures the circuit opens and
// Execute returns ErrCircuitOpen without calling the store, so a dead KV
// backend costs nothing per request. The limiter treats that as fail-open.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastStateChange     time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 10
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = &SystemClock{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoOpMetrics{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	cb := &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: config.Clock.Now(),
	}
	config.Metrics.RecordCircuitState(config.LimiterType, cb.state.String())
	return cb
}

// Execute runs operation unless the circuit is open.
//
// Behavior by state:
//   - Closed: run the operation, count consecutive failures
//   - Open: return ErrCircuitOpen without running it
//   - Half-Open: run it; success closes the circuit, failure reopens it
func (cb *CircuitBreaker) Execute(operation func() error) error {
	cb.mu.Lock()
	cb.attemptRecoveryLocked()
	state := cb.state
	cb.mu.Unlock()

	if state == StateOpen {
		return ErrCircuitOpen
	}

	err := operation()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.consecutiveFailures++
		if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
		return err
	}
	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.transitionLocked(StateClosed)
	}
	return nil
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.attemptRecoveryLocked()
	return cb.state
}

// Reset resets the circuit breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) attemptRecoveryLocked() {
	if cb.state != StateOpen {
		return
	}
	if cb.config.Clock.Now().Sub(cb.lastStateChange) >= cb.config.RecoveryTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(next CircuitState) {
	prev := cb.state
	cb.state = next
	cb.lastStateChange = cb.config.Clock.Now()
	cb.config.Metrics.RecordCircuitState(cb.config.LimiterType, next.String())

	if prev != next {
		cb.config.Logger.Warn("rate limit circuit breaker state changed",
			slog.String("limiter_type", cb.config.LimiterType),
			slog.String("previous_state", prev.String()),
			slog.String("new_state", next.String()),
			slog.Int("consecutive_failures", cb.consecutiveFailures),
			slog.Duration("recovery_timeout", cb.config.RecoveryTimeout),
		)
	}
}
