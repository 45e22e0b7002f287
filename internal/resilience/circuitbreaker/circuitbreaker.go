// Package circuitbreaker wraps github.com/sony/gobreaker for the outbound
// calls the preview service makes: remote page fetches and SQL cache queries.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpenState is returned by Execute while the circuit is open.
var ErrOpenState = gobreaker.ErrOpenState

// ErrTooManyRequests is returned by Execute when the half-open probe budget is spent.
var ErrTooManyRequests = gobreaker.ErrTooManyRequests

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name labels state-change logs, e.g. "page-fetch:example.com".
	Name string

	// MaxRequests is the number of probes allowed through while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the circuit, e.g. 0.8.
	FailureThreshold float64

	// MinRequests is the sample size required before the ratio is considered.
	MinRequests uint32

	// IsSuccessful decides whether a returned error still counts as a success.
	// Nil means only a nil error is a success.
	IsSuccessful func(err error) bool

	// Logger receives state transitions. Default: slog.Default()
	Logger *slog.Logger
}

// PageFetchConfig returns configuration for fetching preview pages from one host.
// A host that keeps failing is left alone for a minute instead of being hammered
// by every embed that points at it.
func PageFetchConfig(host string) Config {
	return Config{
		Name:             "page-fetch:" + host,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// CircuitBreaker is a named gobreaker.CircuitBreaker.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a circuit breaker from cfg.
func New(cfg Config) *CircuitBreaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: cfg.IsSuccessful,
	}

	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn through the breaker. While the circuit is open it returns
// ErrOpenState without calling fn.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.breaker.Execute(fn)
}

// State returns the current state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether calls are currently being rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// Group lazily creates one circuit breaker per key (a host name for the
// fetcher), so a single failing site cannot open the circuit for every other site.
type Group struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   func(key string) Config
}

// NewGroup creates a Group. configFor builds the configuration for a new key.
func NewGroup(configFor func(key string) Config) *Group {
	return &Group{
		breakers: make(map[string]*CircuitBreaker),
		config:   configFor,
	}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[key]; ok {
		return cb
	}
	cb := New(g.config(key))
	g.breakers[key] = cb
	return cb
}

// Len returns the number of breakers created so far.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.breakers)
}
