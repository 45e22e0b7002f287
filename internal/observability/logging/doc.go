// Package logging provides structured logging utilities with context propagation.
//
// JSON output is the production default. LOG_FORMAT=text switches to a
// colored console handler for local development.
//
// Example usage:
//
//	logger := logging.FromEnv()
//	slog.SetDefault(logger)
//
//	func handle(ctx context.Context) {
//	    logging.WithRequestID(ctx, slog.Default()).Info("resolving preview")
//	}
package logging
