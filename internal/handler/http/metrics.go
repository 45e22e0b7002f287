package http

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"link-embed/internal/observability/metrics"
)

// MetricsMiddleware records HTTP request metrics including duration, size, and status codes.
// Requests are labelled by chi route pattern, so query strings and unknown
// paths cannot blow up label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(status),
			time.Since(start), ww.BytesWritten())
	})
}

// MetricsHandler returns an HTTP handler for the Prometheus metrics endpoint.
// Extra gatherers (such as the rate limiter's private registry) are merged
// with the default registry.
func MetricsHandler(extra ...prometheus.Gatherer) http.Handler {
	if len(extra) == 0 {
		return promhttp.Handler()
	}
	gatherers := append(prometheus.Gatherers{prometheus.DefaultGatherer}, extra...)
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
