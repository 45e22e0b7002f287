package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track HTTP request patterns and performance
var (
	// HTTPRequestsTotal counts total HTTP requests by method, route, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds.
	// Preview requests include the remote fetch, so buckets reach 10s.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPResponseSize measures HTTP response body size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks requests currently being served
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)
)

// Preview metrics track the resolve pipeline
var (
	// ResolveTotal counts Resolve calls by outcome: hit, miss or an error kind
	ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkembed_resolve_total",
			Help: "Total number of preview resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// ResolveDuration measures end-to-end Resolve latency
	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkembed_resolve_duration_seconds",
			Help:    "Preview resolution duration in seconds",
			Buckets: []float64{.001, .005, .025, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// FetchDuration measures remote page fetches by result
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkembed_fetch_duration_seconds",
			Help:    "Remote page fetch duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.4, 0.8, 1.6, 3.2, 6.4, 12.8},
		},
		[]string{"result"}, // result: success, failure
	)
)

// Cache metrics track cache activity
var (
	// CacheEventsTotal counts cache events: hit, miss, set, delete
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkembed_cache_events_total",
			Help: "Total number of cache events by type",
		},
		[]string{"event"},
	)

	// CacheClearedEntriesTotal counts entries removed by ClearAll
	CacheClearedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkembed_cache_cleared_entries_total",
			Help: "Total number of cache entries removed by clear operations",
		},
	)

	// CacheEntries reports the indexed entry count at the last stats or prune run
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkembed_cache_entries",
			Help: "Number of indexed cache entries",
		},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration, responseSize int) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())

	if responseSize > 0 {
		HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// UpdateCacheEntries sets the indexed cache entry gauge.
func UpdateCacheEntries(count int) {
	CacheEntries.Set(float64(count))
}
