// Package bootstrap assembles the preview service from configuration.
// Both the API server and linkctl build their object graph here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"link-embed/internal/config"
	"link-embed/internal/domain/event"
	"link-embed/internal/infra/adapter/persistence/bolt"
	"link-embed/internal/infra/adapter/persistence/memory"
	"link-embed/internal/infra/adapter/persistence/redis"
	"link-embed/internal/infra/adapter/persistence/sqlstore"
	"link-embed/internal/infra/cache"
	"link-embed/internal/infra/db"
	"link-embed/internal/infra/fetcher"
	"link-embed/internal/infra/scraper"
	"link-embed/internal/infra/scraper/youtube"
	"link-embed/internal/repository"
	"link-embed/internal/usecase/preview"
	"link-embed/pkg/ratelimit"
)

// Store is an opened KVStore together with whatever must be closed with it.
type Store struct {
	repository.KVStore
	Backend string
	closers []func() error
}

// Close releases the backend connection.
func (s *Store) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// OpenStore connects to the backend selected by cfg.Backend.
// The SQL backends get their schema created on first use.
func OpenStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return &Store{KVStore: memory.New(), Backend: config.BackendMemory}, nil

	case config.BackendBolt:
		s, err := bolt.Open(cfg.BoltPath, bolt.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &Store{KVStore: s, Backend: cfg.Backend, closers: []func() error{s.Close}}, nil

	case config.BackendRedis:
		s, client, err := redis.Dial(ctx, cfg.RedisURL, redis.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &Store{KVStore: s, Backend: cfg.Backend, closers: []func() error{client.Close}}, nil

	case config.BackendPostgres, config.BackendSQLite:
		dialect, err := db.ParseDialect(cfg.Backend)
		if err != nil {
			return nil, err
		}
		conn, err := db.Open(ctx, dialect, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(ctx, conn, dialect); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		s := sqlstore.New(conn, dialect, sqlstore.WithLogger(logger))
		return &Store{KVStore: s, Backend: cfg.Backend, closers: []func() error{conn.Close}}, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Options adds observers to the assembled graph.
type Options struct {
	Listeners []event.Listener
	Filters   []event.RecordFilter
	Recorder  preview.Recorder

	// LimiterMetrics is attached to the rate limiter when set.
	LimiterMetrics ratelimit.RateLimitMetrics
}

// Components is the assembled preview object graph.
type Components struct {
	Store     *Store
	Cache     *cache.Cache
	Fetcher   *fetcher.HTTPFetcher
	Extractor *scraper.Extractor
	Limiter   *ratelimit.Limiter
	Service   *preview.Service
}

// Close releases the store.
func (c *Components) Close() error {
	return c.Store.Close()
}

// Build opens the store and wires the cache, fetcher, limiter and service.
//
// The persisted TTL setting, if any, takes precedence over cfg.Cache.TTL.
// The rate limiter keeps its counters in the same store as the cache.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Components, error) {
	store, err := OpenStore(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Cache.Backend, err)
	}

	var regOpts []event.Option
	for _, l := range opts.Listeners {
		regOpts = append(regOpts, event.WithListener(l))
	}
	for _, f := range opts.Filters {
		regOpts = append(regOpts, event.WithFilter(f))
	}
	events := event.NewRegistry(regOpts...)

	recordCache := cache.New(store,
		cache.WithPrefix(cfg.Cache.Prefix),
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithNormalizer(youtube.NormalizeURL),
		cache.WithEvents(events),
		cache.WithClearConcurrency(cfg.Cache.ClearConcurrency),
		cache.WithLogger(logger),
	)
	if err := recordCache.LoadSettings(ctx); err != nil {
		logger.Warn("failed to load persisted cache settings, using configured ttl",
			slog.Any("error", err))
	}

	httpFetcher := fetcher.New(cfg.Fetch, fetcher.WithLogger(logger))

	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(logger)}
	if opts.LimiterMetrics != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithMetrics(opts.LimiterMetrics))
	}
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit, limiterOpts...)

	svcOpts := []preview.Option{
		preview.WithRateLimiter(limiter),
		preview.WithEnricher(youtube.NewEnricher(
			youtube.WithOEmbed(httpFetcher),
			youtube.WithLogger(logger),
		)),
		preview.WithEvents(events),
		preview.WithDebug(cfg.Server.Debug),
		preview.WithLogger(logger),
	}
	if opts.Recorder != nil {
		svcOpts = append(svcOpts, preview.WithRecorder(opts.Recorder))
	}
	extractor := scraper.NewExtractor(
		scraper.WithReadabilityFallback(cfg.Extract.ReadabilityFallback),
		scraper.WithLogger(logger),
	)
	svc := preview.NewService(httpFetcher, extractor, recordCache, svcOpts...)

	logger.Info("preview service assembled",
		slog.String("backend", store.Backend),
		slog.Duration("cache_ttl", recordCache.TTL()),
		slog.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		slog.Int("rate_limit", cfg.RateLimit.Limit),
		slog.Duration("rate_limit_window", cfg.RateLimit.Window),
		slog.Bool("readability_fallback", cfg.Extract.ReadabilityFallback),
		slog.Bool("debug", cfg.Server.Debug))

	return &Components{
		Store:     store,
		Cache:     recordCache,
		Fetcher:   httpFetcher,
		Extractor: extractor,
		Limiter:   limiter,
		Service:   svc,
	}, nil
}
