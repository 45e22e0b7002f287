// Package observability groups the logging, metrics and tracing infrastructure.
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry tracer and HTTP middleware
//
// Example usage:
//
//	import (
//	    "link-embed/internal/observability/logging"
//	    "link-embed/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.FromEnv()
//	    registry := event.NewRegistry(event.WithListener(metrics.NewRecorder()))
//	    // ...
//	}
package observability
