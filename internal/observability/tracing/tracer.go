package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used across link-embed.
const InstrumentationName = "link-embed"

// GetTracer returns the tracer for creating spans from the global provider.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Config controls the tracer provider installed by Setup.
type Config struct {
	Enabled bool

	// SampleRatio is the fraction of root spans sampled, 0 < r <= 1.
	SampleRatio float64

	// Logger receives finished spans. Default: slog.Default()
	Logger *slog.Logger
}

// Setup installs a global tracer provider that writes finished spans to the
// structured log, and the W3C trace-context propagator. The returned function
// flushes and stops the provider. When tracing is disabled the global no-op
// provider is left in place and shutdown does nothing.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(NewLogExporter(logger)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
