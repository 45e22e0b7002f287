package ratelimit

import "time"

// NoOpMetrics implements the RateLimitMetrics interface with no-op implementations.
//
// Used in tests and when the process does not expose Prometheus metrics.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new NoOpMetrics instance.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// RecordAllowed is a no-op implementation.
func (m *NoOpMetrics) RecordAllowed(limiterType string) {}

// RecordDenied is a no-op implementation.
func (m *NoOpMetrics) RecordDenied(limiterType string) {}

// RecordStoreError is a no-op implementation.
func (m *NoOpMetrics) RecordStoreError(limiterType string) {}

// RecordCheckDuration is a no-op implementation.
func (m *NoOpMetrics) RecordCheckDuration(limiterType string, duration time.Duration) {}

// RecordCircuitState is a no-op implementation.
func (m *NoOpMetrics) RecordCircuitState(limiterType, state string) {}
