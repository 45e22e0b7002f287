// Command api serves link preview metadata over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"link-embed/internal/bootstrap"
	"link-embed/internal/config"
	"link-embed/internal/domain/event"
	hhttp "link-embed/internal/handler/http"
	"link-embed/internal/handler/http/clientip"
	hpreview "link-embed/internal/handler/http/preview"
	"link-embed/internal/infra/cache"
	"link-embed/internal/observability/logging"
	"link-embed/internal/observability/metrics"
	"link-embed/internal/observability/tracing"
	"link-embed/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", os.Getenv("LINKEMBED_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.FromEnv().Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)

	if err := run(logger, cfg); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

// initLogger builds the process logger and installs it as the slog default.
func initLogger(cfg config.LogConfig) *slog.Logger {
	logger := logging.New(os.Stdout, logging.Format(cfg.Format), logging.ParseLevel(cfg.Level))
	slog.SetDefault(logger)
	return logger
}

func run(logger *slog.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		SampleRatio: cfg.Tracing.SampleRatio,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", slog.Any("error", err))
		}
	}()

	recorder := metrics.NewRecorder()
	limiterMetrics := ratelimit.NewPrometheusMetrics()
	components, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{
		Listeners:      []event.Listener{recorder},
		Recorder:       recorder,
		LimiterMetrics: limiterMetrics,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("failed to close store", slog.Any("error", err))
		}
	}()

	extractor, err := newClientIPExtractor(cfg.Server.TrustedProxies, logger)
	if err != nil {
		return err
	}

	origins, err := hhttp.ParseOrigins(strings.Join(cfg.Server.CORSOrigins, ","))
	if err != nil {
		return err
	}

	handler := hhttp.NewRouter(hhttp.RouterConfig{
		Preview: &hpreview.Handler{Svc: components.Service},
		Health: &hhttp.HealthHandler{
			Version: cfg.Server.Version,
			Checks:  map[string]hhttp.CheckFunc{"store": hhttp.StoreCheck(components.Store)},
			Logger:  logger,
		},
		ClientIP:    extractor,
		Logger:      logger,
		Gatherers:   []prometheus.Gatherer{limiterMetrics.Registry()},
		Timeout:     cfg.Server.RequestTimeout,
		CORSOrigins: origins,
	})

	scheduler, err := startPruneJob(ctx, logger, components.Cache, cfg.Cache.PruneSchedule)
	if err != nil {
		return err
	}
	defer func() { <-scheduler.Stop().Done() }()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", cfg.Server.Addr),
			slog.String("version", cfg.Server.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// newClientIPExtractor trusts forwarding headers only from the configured proxies.
func newClientIPExtractor(proxies []string, logger *slog.Logger) (clientip.Extractor, error) {
	if len(proxies) == 0 {
		logger.Info("client ip: using RemoteAddr (proxy headers ignored)")
		return clientip.RemoteAddr{}, nil
	}
	prefixes, err := clientip.ParseTrustedProxies(strings.Join(proxies, ","))
	if err != nil {
		return nil, err
	}
	logger.Info("client ip: trusted proxy mode enabled", slog.Int("trusted_proxies_count", len(prefixes)))
	return &clientip.TrustedProxies{Prefixes: prefixes, Logger: logger}, nil
}

// startPruneJob runs one prune, then schedules the rest. Scheduled runs are
// waited for by Stop, so none outlive the store.
func startPruneJob(ctx context.Context, logger *slog.Logger, c *cache.Cache, schedule string) (*cron.Cron, error) {
	scheduler := cron.New()
	job := func() {
		runPrune(ctx, logger, c)
	}
	if _, err := scheduler.AddFunc(schedule, job); err != nil {
		return nil, err
	}

	// 起動時に一度ゲージを埋める。Stop の待機対象外なので同期で実行する
	job()

	scheduler.Start()
	logger.Info("cache prune scheduled", slog.String("schedule", schedule))
	return scheduler, nil
}

func runPrune(ctx context.Context, logger *slog.Logger, c *cache.Cache) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	forgotten, err := c.Prune(jobCtx)
	if err != nil {
		logger.Error("cache prune failed", slog.Any("error", err))
		return
	}
	stats, err := c.Stats(jobCtx)
	if err != nil {
		logger.Warn("failed to read cache stats after prune", slog.Any("error", err))
		return
	}
	metrics.UpdateCacheEntries(stats.TotalCacheCount)

	logger.Info("cache prune completed",
		slog.Int("forgotten", forgotten),
		slog.Int("entries", stats.TotalCacheCount),
		slog.Duration("duration", time.Since(start)))
}
