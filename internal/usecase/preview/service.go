package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"link-embed/internal/domain/entity"
	"link-embed/internal/domain/event"
	"link-embed/internal/infra/cache"
	"link-embed/internal/infra/fetcher"
	"link-embed/internal/infra/scraper/youtube"
	"link-embed/internal/observability/tracing"
	"link-embed/pkg/security/urlguard"
)

// Fetcher retrieves a page. *fetcher.HTTPFetcher satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetcher.Page, error)
}

// Extractor builds the generic record from a page. It never fails.
type Extractor interface {
	Extract(html, requestedURL, finalURL string) entity.MetadataRecord
}

// Enricher applies platform-specific values on top of the generic record.
type Enricher interface {
	Enrich(ctx context.Context, html, requestedURL string, base entity.MetadataRecord) entity.MetadataRecord
}

// RateLimiter admits or rejects one request for an identity.
type RateLimiter interface {
	Check(ctx context.Context, identity string) error
}

// Cache is the record cache. *cache.Cache satisfies it.
type Cache interface {
	Get(ctx context.Context, url string) (*entity.MetadataRecord, error)
	Set(ctx context.Context, url string, record entity.MetadataRecord) error
	Delete(ctx context.Context, url string) (bool, error)
	ClearAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

// Recorder observes resolve outcomes. outcome is "hit", "miss" or an error kind.
type Recorder interface {
	RecordResolve(outcome string, duration time.Duration)
	RecordFetch(duration time.Duration, err error)
}

// Service resolves URLs to preview records.
//
// Thread safety: Service is safe for concurrent use. Concurrent misses for the
// same URL are not coalesced; each fetches and the last cache write wins.
type Service struct {
	fetcher   Fetcher
	extractor Extractor
	enricher  Enricher
	cache     Cache
	limiter   RateLimiter
	events    *event.Registry
	recorder  Recorder
	logger    *slog.Logger
	debug     bool
	now       func() time.Time
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimiter enables per-caller rate limiting.
func WithRateLimiter(l RateLimiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithEnricher sets the platform enricher. Default: YouTube.
func WithEnricher(e Enricher) Option {
	return func(s *Service) {
		if e != nil {
			s.enricher = e
		}
	}
}

// WithEvents sets the registry whose record filters run before caching.
func WithEvents(r *event.Registry) Option {
	return func(s *Service) {
		s.events = r
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDebug attaches requested_url, timestamp and error_code to fetch errors.
func WithDebug(debug bool) Option {
	return func(s *Service) {
		s.debug = debug
	}
}

// WithNow overrides the clock used for debug timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracer overrides the tracer. Default: tracing.GetTracer().
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewService creates a preview Service.
//
// Parameters:
//   - f: Page fetcher, normally an *fetcher.HTTPFetcher
//   - x: Generic metadata extractor
//   - c: Record cache
//
// Example:
//
//	svc := preview.NewService(httpFetcher, scraper.NewExtractor(), recordCache,
//	    preview.WithRateLimiter(limiter),
//	    preview.WithDebug(cfg.Debug),
//	)
//	rec, err := svc.Resolve(ctx, clientIP, "https://example.com/")
func NewService(f Fetcher, x Extractor, c Cache, opts ...Option) *Service {
	s := &Service{
		fetcher:   f,
		extractor: x,
		enricher:  youtube.NewEnricher(),
		cache:     c,
		logger:    slog.Default(),
		now:       time.Now,
		tracer:    tracing.GetTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the preview record for rawURL.
//
// caller identifies the requester for rate limiting; an empty caller skips
// the limiter. Cached records are returned unless the staleness policy says
// they must be refetched. Cache failures are logged and never fail the call.
//
// Errors are *entity.PreviewError values:
//   - URL validation kinds (empty_url, invalid_url, ...) for rejected input
//   - rate_limit_exceeded when caller has used its budget
//   - fetch_error when the page could not be retrieved
func (s *Service) Resolve(ctx context.Context, caller, rawURL string) (*entity.MetadataRecord, error) {
	ctx, span := s.tracer.Start(ctx, "preview.Resolve")
	defer span.End()
	start := time.Now()

	rec, outcome, err := s.resolve(ctx, caller, rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("preview.outcome", outcome))
	if s.recorder != nil {
		s.recorder.RecordResolve(outcome, time.Since(start))
	}
	return rec, err
}

func (s *Service) resolve(ctx context.Context, caller, rawURL string) (*entity.MetadataRecord, string, error) {
	if err := urlguard.Validate(rawURL); err != nil {
		return nil, outcomeOf(err), err
	}

	if caller != "" && s.limiter != nil {
		if err := s.limiter.Check(ctx, caller); err != nil {
			return nil, outcomeOf(err), err
		}
	}

	target := youtube.NormalizeURL(strings.TrimSpace(rawURL))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("preview.url", target))

	cached, err := s.cache.Get(ctx, target)
	if err != nil {
		s.logger.Warn("cache read failed, fetching",
			slog.String("url", target),
			slog.Any("error", err))
	}
	if cached != nil {
		if !youtube.IsStale(target, *cached) {
			return cached, "hit", nil
		}
		s.logger.Debug("cached record is stale, refetching", slog.String("url", target))
	}

	fetchStart := time.Now()
	page, err := s.fetcher.Get(ctx, target)
	if s.recorder != nil {
		s.recorder.RecordFetch(time.Since(fetchStart), err)
	}
	if err != nil {
		ferr := s.fetchError(rawURL, err)
		s.logger.Info("page fetch failed",
			slog.String("url", target),
			slog.Any("error", err))
		return nil, outcomeOf(ferr), ferr
	}

	record := s.extractor.Extract(page.HTML, target, page.FinalURL)
	record = s.enricher.Enrich(ctx, page.HTML, target, record)
	record = s.events.FilterRecord(ctx, target, record)

	if err := s.cache.Set(ctx, target, record); err != nil {
		s.logger.Warn("cache write failed",
			slog.String("url", target),
			slog.Any("error", err))
	}
	return &record, "miss", nil
}

// fetchError turns any fetch failure into a fetch_error, adding debug fields
// when debug mode is on.
func (s *Service) fetchError(rawURL string, err error) error {
	var pe *entity.PreviewError
	if !errors.As(err, &pe) {
		pe = entity.NewFetchError(0, "failed to retrieve page", err)
	}
	if !s.debug || pe.Kind != entity.KindFetchError {
		return pe
	}

	debug := map[string]any{
		"requested_url": rawURL,
		"timestamp":     s.now().UTC().Format(time.RFC3339),
	}
	if pe.UpstreamStatus > 0 {
		debug["error_code"] = pe.UpstreamStatus
	} else {
		debug["error_code"] = string(pe.Kind)
	}
	return pe.WithDebug(debug)
}

// InvalidateURL removes the cached record for rawURL and reports whether one existed.
// The URL is normalized the same way Resolve normalizes it.
func (s *Service) InvalidateURL(ctx context.Context, rawURL string) (bool, error) {
	if err := urlguard.Validate(rawURL); err != nil {
		return false, err
	}
	target := youtube.NormalizeURL(strings.TrimSpace(rawURL))

	existed, err := s.cache.Delete(ctx, target)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	s.logger.Info("cache entry invalidated",
		slog.String("url", target),
		slog.Bool("existed", existed))
	return existed, nil
}

// CacheStats reports the cache size and TTL.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return cache.Stats{}, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return stats, nil
}

// ClearAllCache deletes every cached record and returns how many were removed.
func (s *Service) ClearAllCache(ctx context.Context) (int, error) {
	n, err := s.cache.ClearAll(ctx)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return n, nil
}

func outcomeOf(err error) string {
	if kind, ok := entity.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}
