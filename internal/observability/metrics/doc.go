// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes application metrics:
//   - HTTP request metrics (duration, count, size)
//   - Preview resolution outcomes and fetch latency
//   - Cache activity (hits, misses, writes, deletes, clears)
//
// All metrics are registered with the Prometheus default registry and exposed
// via the /metrics endpoint. Recorder plugs the preview and cache metrics into
// the service as an event listener.
//
// Example usage:
//
//	rec := metrics.NewRecorder()
//	events := event.NewRegistry(event.WithListener(rec))
//	svc := preview.NewService(f, x, c, preview.WithRecorder(rec))
package metrics
