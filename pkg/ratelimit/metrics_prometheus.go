package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements the RateLimitMetrics interface using Prometheus.
//
// All metrics use a custom registry so tests and multiple instances stay
// isolated. Pass Registry() to prometheus.Registerer.Register or gather it
// alongside the default registry to expose the metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// requestsTotal tracks rate limit decisions.
	// Labels:
	//   - limiter_type: e.g. "resolve"
	//   - status: "allowed", "denied" or "store_error"
	requestsTotal *prometheus.CounterVec

	// checkDuration tracks the round trip to the counter store.
	checkDuration *prometheus.HistogramVec

	// circuitState tracks the fail-open breaker.
	// Values: 0 closed, 1 open, 2 half-open.
	circuitState *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with a custom registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkembed_rate_limit_requests_total",
			Help: "Total rate limit decisions by limiter type and status",
		},
		[]string{"limiter_type", "status"},
	)

	// KV round trips are slower than in-memory checks; buckets go up to 1s.
	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkembed_rate_limit_check_duration_seconds",
			Help:    "Duration of rate limit check operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"limiter_type"},
	)

	circuitState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkembed_rate_limit_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"limiter_type"},
	)

	registry.MustRegister(requestsTotal, checkDuration, circuitState)

	return &PrometheusMetrics{
		registry:      registry,
		requestsTotal: requestsTotal,
		checkDuration: checkDuration,
		circuitState:  circuitState,
	}
}

// Registry returns the Prometheus registry containing all rate limit metrics.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAllowed records an allowed request.
func (m *PrometheusMetrics) RecordAllowed(limiterType string) {
	m.requestsTotal.WithLabelValues(limiterType, "allowed").Inc()
}

// RecordDenied records a rate limit violation (request denied).
func (m *PrometheusMetrics) RecordDenied(limiterType string) {
	m.requestsTotal.WithLabelValues(limiterType, "denied").Inc()
}

// RecordStoreError records a request allowed because the store failed.
func (m *PrometheusMetrics) RecordStoreError(limiterType string) {
	m.requestsTotal.WithLabelValues(limiterType, "store_error").Inc()
}

// RecordCheckDuration records the duration of a rate limit check operation.
func (m *PrometheusMetrics) RecordCheckDuration(limiterType string, duration time.Duration) {
	m.checkDuration.WithLabelValues(limiterType).Observe(duration.Seconds())
}

// RecordCircuitState records the current state of the circuit breaker.
func (m *PrometheusMetrics) RecordCircuitState(limiterType, state string) {
	var stateValue float64
	switch state {
	case "open":
		stateValue = 1
	case "half-open":
		stateValue = 2
	default:
		stateValue = 0
	}
	m.circuitState.WithLabelValues(limiterType).Set(stateValue)
}
