package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"link-embed/internal/handler/http/clientip"
	"link-embed/internal/handler/http/requestid"
	"link-embed/internal/handler/http/respond"
	"link-embed/internal/observability/logging"
)

const (
	// MaxPathLength bounds the request path.
	MaxPathLength = 2048

	// MaxQueryLength bounds the raw query string, which carries the target URL.
	MaxQueryLength = 8192
)

// Logging returns middleware that logs HTTP requests with structured logging.
// It captures request details, response status, size, and processing duration,
// along with the request ID and the OpenTelemetry trace ID for correlation.
// Handlers reach a request-scoped logger through logging.FromContext.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := r.Context()
			r = r.WithContext(logging.WithLogger(ctx, logging.WithRequestID(ctx, logger)))

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			}

			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("request_id", requestid.FromContext(r.Context())),
				slog.String("trace_id", trace.SpanFromContext(r.Context()).SpanContext().TraceID().String()),
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.String("path", r.URL.Path),
				slog.String("client_ip", clientip.FromContext(r.Context())),
				slog.String("user_agent", r.Header.Get("User-Agent")),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Recover returns middleware that catches panics and logs them with structured logging.
// It prevents the server from crashing and returns a 500 Internal Server Error response.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// ErrAbortHandler は net/http に任せる
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("panic recovered",
					slog.String("request_id", requestid.FromContext(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				respond.SafeError(w, http.StatusInternalServerError, fmt.Errorf("panic: %v", rec))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// InputValidation rejects oversized paths and query strings and caps request
// bodies at 64 KiB. None of the endpoints accept a body.
func InputValidation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(r.URL.Path) > MaxPathLength || len(r.URL.RawQuery) > MaxQueryLength {
				respond.JSON(w, http.StatusRequestURITooLong, respond.ErrorBody{
					Code:    "uri_too_long",
					Message: "request URI too long",
					Data:    respond.ErrorData{Status: http.StatusRequestURITooLong},
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
			next.ServeHTTP(w, r)
		})
	}
}

// routePattern returns the matched chi route, or "unmatched" when routing
// found nothing. Raw paths are never used as labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
