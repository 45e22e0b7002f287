// Package preview exposes the link preview operations over HTTP.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"link-embed/internal/domain/entity"
	"link-embed/internal/handler/http/clientip"
	"link-embed/internal/handler/http/respond"
	"link-embed/internal/infra/cache"
	"link-embed/internal/observability/logging"
)

// Service is the subset of preview.Service the handlers call.
type Service interface {
	Resolve(ctx context.Context, caller, rawURL string) (*entity.MetadataRecord, error)
	InvalidateURL(ctx context.Context, rawURL string) (bool, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
	ClearAllCache(ctx context.Context) (int, error)
}

// Handler serves the /v1 endpoints.
type Handler struct {
	Svc Service

	// Caller derives the rate-limit identity from a request.
	// Default: the client IP stored by clientip.Middleware.
	Caller func(r *http.Request) string
}

// Register mounts the preview routes on r.
//
//	GET    /v1/fetch?url=     resolve a preview
//	DELETE /v1/cache?url=     invalidate one entry
//	GET    /v1/cache/stats    cache statistics
//	DELETE /v1/cache/all      clear the whole cache
func Register(r chi.Router, h *Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/fetch", h.Fetch)
		r.Delete("/cache", h.Invalidate)
		r.Get("/cache/stats", h.Stats)
		r.Delete("/cache/all", h.Clear)
	})
}

func (h *Handler) caller(r *http.Request) string {
	if h.Caller != nil {
		return h.Caller(r)
	}
	if ip := clientip.FromContext(r.Context()); ip != "" {
		return ip
	}
	// 識別できない場合も無制限にはしない
	return "unknown"
}

// Fetch resolves the url query parameter.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Svc.Resolve(r.Context(), h.caller(r), r.URL.Query().Get("url"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

// InvalidateResponse is the body of a successful invalidation.
type InvalidateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// Invalidate deletes the cached record for the url query parameter.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	existed, err := h.Svc.InvalidateURL(r.Context(), target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "cache entry deleted"
	if !existed {
		msg = "no cache entry for url"
	}
	respond.JSON(w, http.StatusOK, InvalidateResponse{Success: true, Message: msg, URL: target})
}

// Stats reports cache statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.CacheStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

// ClearResponse is the body of a successful clear.
type ClearResponse struct {
	Success bool `json:"success"`
	Cleared int  `json:"cleared"`
}

// Clear deletes every cached record.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.Svc.ClearAllCache(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ClearResponse{Success: true, Cleared: n})
}

// writeError maps cache outages to 503 and everything else through respond.Error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *entity.PreviewError
	if !errors.As(err, &pe) {
		logging.FromContext(r.Context()).Warn("cache backend unavailable",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		respond.SafeError(w, http.StatusServiceUnavailable, err)
		return
	}
	respond.Error(w, err)
}
