package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"link-embed/internal/domain/entity"
	"link-embed/internal/domain/event"
)

func TestRegistry_FansOutInOrder(t *testing.T) {
	var calls []string
	first := event.Hooks{
		OnCacheHit:     func(_ context.Context, url, _ string) { calls = append(calls, "first:hit:"+url) },
		OnCacheCleared: func(_ context.Context, n int) { calls = append(calls, "first:cleared") },
	}
	second := event.Hooks{
		OnCacheHit: func(_ context.Context, url, _ string) { calls = append(calls, "second:hit:"+url) },
	}

	r := event.NewRegistry(event.WithListener(first), event.WithListener(second), event.WithListener(nil))
	assert.Equal(t, 2, r.Listeners())

	ctx := context.Background()
	r.CacheHit(ctx, "https://example.com", "k")
	r.CacheMiss(ctx, "https://example.com", "k")
	r.CacheSet(ctx, "https://example.com", "k", entity.MetadataRecord{}, time.Hour)
	r.CacheDeleted(ctx, "https://example.com", "k")
	r.CacheCleared(ctx, 3)

	assert.Equal(t, []string{
		"first:hit:https://example.com",
		"second:hit:https://example.com",
		"first:cleared",
	}, calls)
}

func TestRegistry_FilterRecord(t *testing.T) {
	upper := func(_ context.Context, _ string, rec entity.MetadataRecord) entity.MetadataRecord {
		rec.SiteName = "Filtered"
		return rec
	}
	suffix := func(_ context.Context, _ string, rec entity.MetadataRecord) entity.MetadataRecord {
		rec.SiteName += "!"
		return rec
	}
	r := event.NewRegistry(event.WithFilter(upper), event.WithFilter(suffix))

	got := r.FilterRecord(context.Background(), "https://example.com", entity.MetadataRecord{Title: "t"})
	assert.Equal(t, "Filtered!", got.SiteName)
	assert.Equal(t, "t", got.Title)
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *event.Registry
	ctx := context.Background()
	assert.NotPanics(t, func() {
		r.CacheHit(ctx, "u", "k")
		r.CacheCleared(ctx, 1)
	})
	rec := entity.MetadataRecord{Title: "x"}
	assert.Equal(t, rec, r.FilterRecord(ctx, "u", rec))
	assert.Zero(t, r.Listeners())
}
