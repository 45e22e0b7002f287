// Command linkctl resolves previews and manages the preview cache from a shell.
//
// It reads the same configuration as the API server, so it operates on the
// same cache backend:
//
//	linkctl resolve https://example.com/
//	linkctl cache stats
//	linkctl cache invalidate https://youtu.be/dQw4w9WgXcQ
//	linkctl cache prune
//	linkctl cache clear
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"link-embed/internal/bootstrap"
	"link-embed/internal/config"
	"link-embed/internal/observability/logging"
)

// CLI is the linkctl command tree.
type CLI struct {
	Config   string `help:"Path to YAML config file." env:"LINKEMBED_CONFIG" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"warn" env:"LOG_LEVEL"`

	Resolve ResolveCmd `cmd:"" help:"Resolve preview metadata for a URL."`
	Cache   CacheCmd   `cmd:"" help:"Inspect and manage the preview cache."`
}

// CacheCmd groups the cache subcommands.
type CacheCmd struct {
	Stats      StatsCmd      `cmd:"" help:"Show entry count and TTL."`
	Invalidate InvalidateCmd `cmd:"" help:"Delete the cached record for a URL."`
	Prune      PruneCmd      `cmd:"" help:"Drop expired entries and stale index keys."`
	Clear      ClearCmd      `cmd:"" help:"Delete every cached record."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("linkctl"),
		kong.Description("Link preview resolver and cache administration."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(os.Stderr, logging.FormatText, logging.ParseLevel(cli.LogLevel))
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err)

	components, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{})
	kctx.FatalIfErrorf(err)

	app := &App{Ctx: ctx, Components: components, Out: os.Stdout}
	err = kctx.Run(app)
	if closeErr := components.Close(); closeErr != nil {
		logger.Warn("failed to close store", slog.Any("error", closeErr))
	}
	kctx.FatalIfErrorf(err)
}
