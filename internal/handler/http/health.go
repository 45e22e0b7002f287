// Package http assembles the HTTP surface of link-embed: the chi router,
// its middleware chain, and the health and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"link-embed/internal/repository"
)

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status    string                 `json:"status"`    // "healthy" or "unhealthy"
	Timestamp string                 `json:"timestamp"` // ISO 8601 format
	Checks    map[string]CheckStatus `json:"checks"`    // Status of each check item
	Version   string                 `json:"version"`   // Application version
}

// CheckStatus represents the status of a single health check.
type CheckStatus struct {
	Status  string `json:"status"`            // "healthy" or "unhealthy"
	Message string `json:"message,omitempty"` // Optional status message
	Latency string `json:"latency,omitempty"`
}

// CheckFunc probes one dependency. A nil error is healthy.
type CheckFunc func(ctx context.Context) error

// StoreCheck probes a KVStore with a read of a key that never exists.
func StoreCheck(store repository.KVStore) CheckFunc {
	return func(ctx context.Context) error {
		_, _, err := store.Get(ctx, "health:probe")
		return err
	}
}

// HealthHandler handles health check endpoint requests.
// Every check runs on each request; any failure makes the response 503.
type HealthHandler struct {
	Version string
	Checks  map[string]CheckFunc
	Logger  *slog.Logger
}

// ServeHTTP runs the checks and writes a HealthResponse.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]CheckStatus, len(names))
	allHealthy := true
	for _, name := range names {
		start := time.Now()
		err := h.Checks[name](ctx)
		st := CheckStatus{Status: "healthy", Latency: time.Since(start).Round(time.Microsecond).String()}
		if err != nil {
			allHealthy = false
			st.Status = "unhealthy"
			st.Message = err.Error()
			h.logger().Warn("health check failed", slog.String("check", name), slog.Any("error", err))
		}
		checks[name] = st
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	}); err != nil {
		h.logger().Error("health: failed to encode response", slog.Any("error", err))
	}
}

func (h *HealthHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// LiveHandler handles liveness probe requests.
// It always returns 200 OK while the process can serve HTTP.
type LiveHandler struct{}

func (LiveHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
