package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"link-embed/internal/domain/entity"
	"link-embed/internal/domain/event"
	"link-embed/internal/infra/adapter/persistence/memory"
	"link-embed/internal/infra/cache"
	"link-embed/internal/infra/fetcher"
	"link-embed/internal/infra/scraper"
	"link-embed/internal/infra/scraper/youtube"
)

const examplePage = `<!doctype html><html><head>
<title>Fallback Title</title>
<meta property="og:title" content="Example Domain">
<meta property="og:description" content="An example page">
<meta property="og:image" content="/img/cover.png">
<meta property="og:site_name" content="Example">
<link rel="icon" href="/favicon.ico">
</head><body></body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*fetcher.Page
	err   error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]*fetcher.Page)}
}

func (f *fakeFetcher) add(url, html string) {
	f.pages[url] = &fetcher.Page{HTML: html, FinalURL: url, StatusCode: 200}
}

func (f *fakeFetcher) Get(_ context.Context, url string) (*fetcher.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.pages[url]
	if !ok {
		return nil, entity.NewFetchError(404, "remote server returned HTTP 404", nil)
	}
	return p, nil
}

type fakeLimiter struct {
	denied map[string]bool
	seen   []string
}

func (l *fakeLimiter) Check(_ context.Context, identity string) error {
	l.seen = append(l.seen, identity)
	if l.denied[identity] {
		return entity.NewPreviewError(entity.KindRateLimitExceeded, "too many requests")
	}
	return nil
}

type brokenCache struct {
	Cache
	getErr error
	setErr error
}

func (c *brokenCache) Get(ctx context.Context, url string) (*entity.MetadataRecord, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.Cache.Get(ctx, url)
}

func (c *brokenCache) Set(ctx context.Context, url string, record entity.MetadataRecord) error {
	if c.setErr != nil {
		return c.setErr
	}
	return c.Cache.Set(ctx, url, record)
}

type recorderStub struct {
	outcomes []string
	fetches  int
}

func (r *recorderStub) RecordResolve(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorderStub) RecordFetch(time.Duration, error) { r.fetches++ }

func newTestService(t *testing.T, f Fetcher, opts ...Option) (*Service, *cache.Cache) {
	t.Helper()
	c := cache.New(memory.New(), cache.WithNormalizer(youtube.NormalizeURL))
	return NewService(f, scraper.NewExtractor(), c, opts...), c
}

func TestService_Resolve_FetchesThenCaches(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/", examplePage)
	rec := &recorderStub{}
	svc, _ := newTestService(t, f, WithRecorder(rec))
	ctx := context.Background()

	want := entity.MetadataRecord{
		Title:       "Example Domain",
		Description: "An example page",
		Image:       "https://example.com/img/cover.png",
		URL:         "https://example.com/",
		SiteName:    "Example",
		Domain:      "example.com",
		Favicon:     "https://example.com/favicon.ico",
	}

	got, err := svc.Resolve(ctx, "203.0.113.7", "https://example.com/")
	require.NoError(t, err)
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("first resolve mismatch (-want +got):\n%s", diff)
	}

	got, err = svc.Resolve(ctx, "203.0.113.7", "https://example.com/")
	require.NoError(t, err)
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("cached resolve mismatch (-want +got):\n%s", diff)
	}

	assert.Len(t, f.calls, 1, "second resolve must be served from cache")
	assert.Equal(t, []string{"miss", "hit"}, rec.outcomes)
	assert.Equal(t, 1, rec.fetches)
}

func TestService_Resolve_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want *entity.PreviewError
	}{
		{"empty", "  ", entity.ErrEmptyURL},
		{"garbage", "not a url", entity.ErrInvalidURL},
		{"ftp", "ftp://example.com/file", entity.ErrInvalidScheme},
		{"localhost", "http://localhost:8080/", entity.ErrBlockedHost},
		{"metadata", "http://169.254.169.254/latest/meta-data/", entity.ErrBlockedHost},
		{"private", "http://192.168.1.10/", entity.ErrPrivateIPBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			lim := &fakeLimiter{}
			svc, _ := newTestService(t, f, WithRateLimiter(lim))

			_, err := svc.Resolve(context.Background(), "caller", tt.url)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.calls)
			assert.Empty(t, lim.seen, "invalid URLs are rejected before rate limiting")
		})
	}
}

func TestService_Resolve_RateLimited(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/", examplePage)
	lim := &fakeLimiter{denied: map[string]bool{"1.2.3.4": true}}
	svc, _ := newTestService(t, f, WithRateLimiter(lim))
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "1.2.3.4", "https://example.com/")
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrRateLimitExceeded)
	var pe *entity.PreviewError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.HTTPStatus())
	assert.Empty(t, f.calls)

	// An empty caller bypasses the limiter.
	_, err = svc.Resolve(ctx, "", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4"}, lim.seen)
}

func TestService_Resolve_FetchError(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("debug off", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeFetcher())
		_, err := svc.Resolve(context.Background(), "", "https://example.com/missing")

		var pe *entity.PreviewError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, entity.KindFetchError, pe.Kind)
		assert.Equal(t, 400, pe.HTTPStatus())
		assert.Nil(t, pe.Debug)
	})

	t.Run("debug on", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeFetcher(), WithDebug(true), WithNow(func() time.Time { return now }))
		_, err := svc.Resolve(context.Background(), "", "https://example.com/missing")

		var pe *entity.PreviewError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, map[string]any{
			"requested_url": "https://example.com/missing",
			"timestamp":     "2025-03-01T12:00:00Z",
			"error_code":    404,
		}, pe.Debug)
	})

	t.Run("plain error is wrapped", func(t *testing.T) {
		f := newFakeFetcher()
		f.err = errors.New("connection reset")
		svc, _ := newTestService(t, f, WithDebug(true))
		_, err := svc.Resolve(context.Background(), "", "https://example.com/")

		assert.ErrorIs(t, err, entity.ErrFetch)
		var pe *entity.PreviewError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "fetch_error", pe.Debug["error_code"])
	})
}

func TestService_Resolve_FailedFetchIsNotCached(t *testing.T) {
	f := newFakeFetcher()
	svc, c := newTestService(t, f)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "", "https://example.com/")
	require.Error(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCacheCount)
}

func TestService_Resolve_StaleYouTubeRecordIsRefetched(t *testing.T) {
	const video = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	f := newFakeFetcher()
	f.add(video, `<html><head><meta property="og:title" content="Real Title"><meta property="og:image" content="https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg"></head></html>`)
	svc, c := newTestService(t, f)
	ctx := context.Background()

	// A previous fetch only managed the placeholder title.
	require.NoError(t, c.Set(ctx, video, entity.MetadataRecord{Title: video, URL: video, Domain: "www.youtube.com"}))

	got, err := svc.Resolve(ctx, "", video+"&si=tracking")
	require.NoError(t, err)
	assert.Equal(t, "Real Title", got.Title)
	assert.Equal(t, []string{video}, f.calls, "si parameter is stripped before fetching")
}

func TestService_Resolve_NonPlatformCacheIsNeverStale(t *testing.T) {
	f := newFakeFetcher()
	svc, c := newTestService(t, f)
	ctx := context.Background()
	cached := entity.MetadataRecord{Title: "https://example.com/", URL: "https://example.com/"}
	require.NoError(t, c.Set(ctx, "https://example.com/", cached))

	got, err := svc.Resolve(ctx, "", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, cached, *got)
	assert.Empty(t, f.calls)
}

func TestService_Resolve_FiltersRunBeforeCaching(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/", examplePage)
	registry := event.NewRegistry(event.WithFilter(
		func(_ context.Context, _ string, r entity.MetadataRecord) entity.MetadataRecord {
			r.SiteName = "Filtered"
			return r
		}))
	svc, c := newTestService(t, f, WithEvents(registry))
	ctx := context.Background()

	got, err := svc.Resolve(ctx, "", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "Filtered", got.SiteName)

	cached, err := c.Get(ctx, "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Filtered", cached.SiteName)
}

func TestService_Resolve_CacheFailuresAreNotFatal(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/", examplePage)
	base := cache.New(memory.New())
	broken := &brokenCache{Cache: base, getErr: errors.New("kv down"), setErr: errors.New("kv down")}
	svc := NewService(f, scraper.NewExtractor(), broken)

	got, err := svc.Resolve(context.Background(), "", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", got.Title)
}

func TestService_Resolve_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFakeFetcher()
	svc, _ := newTestService(t, f, WithTracer(tp.Tracer("test")))

	_, err := svc.Resolve(context.Background(), "", "https://example.com/")
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "preview.Resolve", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestService_InvalidateURL(t *testing.T) {
	f := newFakeFetcher()
	const video = "https://youtu.be/dQw4w9WgXcQ"
	f.add(video, examplePage)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "", video)
	require.NoError(t, err)

	existed, err := svc.InvalidateURL(ctx, video+"?si=abc")
	require.NoError(t, err)
	assert.True(t, existed, "normalized URL addresses the same entry")

	existed, err = svc.InvalidateURL(ctx, video)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = svc.InvalidateURL(ctx, "")
	assert.ErrorIs(t, err, entity.ErrEmptyURL)
}

func TestService_CacheStatsAndClear(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://a.example/", examplePage)
	f.add("https://b.example/", examplePage)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	for _, u := range []string{"https://a.example/", "https://b.example/"} {
		_, err := svc.Resolve(ctx, "", u)
		require.NoError(t, err)
	}

	stats, err := svc.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.Stats{TotalCacheCount: 2, ExpirationSeconds: 604800, ExpirationDays: 7}, stats)

	n, err := svc.ClearAllCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err = svc.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCacheCount)
}
