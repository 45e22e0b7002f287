package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"link-embed/internal/handler/http/clientip"
	"link-embed/internal/handler/http/preview"
	"link-embed/internal/handler/http/requestid"
	"link-embed/internal/observability/tracing"
)

// RouterConfig holds what NewRouter wires together.
type RouterConfig struct {
	Preview     *preview.Handler
	Health      *HealthHandler
	ClientIP    clientip.Extractor
	Logger      *slog.Logger
	Gatherers   []prometheus.Gatherer
	Timeout     time.Duration
	CORSOrigins []string
}

// NewRouter builds the chi router.
//
// Middleware order: request ID → recover → tracing → client IP → metrics →
// logging → input limits → timeout. /health, /live and /metrics sit outside
// the timeout.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extractor := cfg.ClientIP
	if extractor == nil {
		extractor = clientip.RemoteAddr{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(Recover(logger))
	r.Use(tracing.Middleware)
	r.Use(clientip.Middleware(extractor))
	r.Use(MetricsMiddleware)
	r.Use(Logging(logger))
	r.Use(InputValidation())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	}
	r.Method(http.MethodGet, "/live", LiveHandler{})
	r.Method(http.MethodGet, "/metrics", MetricsHandler(cfg.Gatherers...))

	if cfg.Preview != nil {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(timeout))
			preview.Register(r, cfg.Preview)
		})
	}
	return r
}
