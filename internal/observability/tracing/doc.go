// Package tracing provides OpenTelemetry tracing integration.
//
// Setup installs the global tracer provider; spans are written to the
// structured log at debug level. Middleware opens a server span per HTTP
// request, and GetTracer is used for internal spans such as preview.Resolve.
//
// Example usage:
//
//	shutdown, _ := tracing.Setup(tracing.Config{Enabled: true, SampleRatio: 0.1})
//	defer shutdown(context.Background())
package tracing
