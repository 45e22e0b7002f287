package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"link-embed/internal/bootstrap"
)

// App is bound into every command's Run method.
type App struct {
	Ctx        context.Context
	Components *bootstrap.Components
	Out        io.Writer
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ResolveCmd resolves one URL.
type ResolveCmd struct {
	URL     string `arg:"" help:"URL to resolve."`
	Refresh bool   `help:"Invalidate the cached record before resolving."`
}

// Run prints the record as JSON. The rate limiter is not consulted.
func (c *ResolveCmd) Run(app *App) error {
	svc := app.Components.Service
	if c.Refresh {
		if _, err := svc.InvalidateURL(app.Ctx, c.URL); err != nil {
			return err
		}
	}
	rec, err := svc.Resolve(app.Ctx, "", c.URL)
	if err != nil {
		return err
	}
	return app.printJSON(rec)
}

// StatsCmd prints cache statistics.
type StatsCmd struct{}

func (c *StatsCmd) Run(app *App) error {
	stats, err := app.Components.Service.CacheStats(app.Ctx)
	if err != nil {
		return err
	}
	return app.printJSON(stats)
}

// InvalidateCmd deletes one record.
type InvalidateCmd struct {
	URL string `arg:"" help:"URL whose cached record is deleted."`
}

func (c *InvalidateCmd) Run(app *App) error {
	deleted, err := app.Components.Service.InvalidateURL(app.Ctx, c.URL)
	if err != nil {
		return err
	}
	if deleted {
		_, err = fmt.Fprintf(app.Out, "deleted %s\n", c.URL)
	} else {
		_, err = fmt.Fprintf(app.Out, "no cache entry for %s\n", c.URL)
	}
	return err
}

// PruneCmd sweeps expired entries.
type PruneCmd struct{}

func (c *PruneCmd) Run(app *App) error {
	forgotten, err := app.Components.Cache.Prune(app.Ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(app.Out, "pruned %d index keys\n", forgotten)
	return err
}

// ClearCmd deletes everything the cache tracks.
type ClearCmd struct {
	Yes bool `short:"y" help:"Do not ask for confirmation."`
}

func (c *ClearCmd) Run(app *App) error {
	if !c.Yes {
		return fmt.Errorf("refusing to clear the cache without --yes")
	}
	cleared, err := app.Components.Service.ClearAllCache(app.Ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(app.Out, "cleared %d entries\n", cleared)
	return err
}
