package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-embed/internal/domain/entity"
	"link-embed/internal/infra/adapter/persistence/memory"
	"link-embed/internal/infra/cache"
)

func TestStartPruneJob_InitialRunCompletesBeforeReturn(t *testing.T) {
	now := time.Now()
	store := memory.New(memory.WithNow(func() time.Time { return now }))
	c := cache.New(store)
	ctx := context.Background()

	const url = "https://example.com/"
	require.NoError(t, c.SetWithTTL(ctx, url, entity.MetadataRecord{URL: url, Title: "Example"}, time.Minute))
	now = now.Add(2 * time.Minute)

	scheduler, err := startPruneJob(ctx, slog.Default(), c, "@every 1h")
	require.NoError(t, err)
	<-scheduler.Stop().Done()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCacheCount)
	assert.Equal(t, 1, store.Len(), "only the index entry remains")
}

func TestStartPruneJob_InvalidSchedule(t *testing.T) {
	_, err := startPruneJob(context.Background(), slog.Default(), cache.New(memory.New()), "not a schedule")
	assert.Error(t, err)
}
