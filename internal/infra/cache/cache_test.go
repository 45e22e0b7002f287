package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-embed/internal/domain/entity"
	"link-embed/internal/domain/event"
	"link-embed/internal/infra/adapter/persistence/memory"
)

type recorder struct {
	mu      sync.Mutex
	events  []string
	cleared []int
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) registry() *event.Registry {
	return event.NewRegistry(event.WithListener(event.Hooks{
		OnCacheHit:  func(_ context.Context, url, _ string) { r.add("hit " + url) },
		OnCacheMiss: func(_ context.Context, url, _ string) { r.add("miss " + url) },
		OnCacheSet: func(_ context.Context, url, _ string, _ entity.MetadataRecord, _ time.Duration) {
			r.add("set " + url)
		},
		OnCacheDeleted: func(_ context.Context, url, _ string) { r.add("deleted " + url) },
		OnCacheCleared: func(_ context.Context, count int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cleared = append(r.cleared, count)
		},
	}))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *memory.Store, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithNow(clk.Now))
	return New(store, opts...), store, clk
}

func record(url, title string) entity.MetadataRecord {
	return entity.MetadataRecord{
		Title:  title,
		URL:    url,
		Domain: "example.com",
	}
}

func TestKey(t *testing.T) {
	k := Key("ogp:", "https://example.com/")

	assert.True(t, strings.HasPrefix(k, "ogp:"))
	assert.Len(t, k, len("ogp:")+32)
	assert.Equal(t, k, Key("ogp:", "https://example.com/"))
	assert.NotEqual(t, k, Key("ogp:", "https://example.com/other"))
}

func TestCache_SetGet(t *testing.T) {
	rec := &recorder{}
	c, _, _ := newTestCache(t, WithEvents(rec.registry()))
	ctx := context.Background()
	want := record("https://example.com/", "Example")

	got, err := c.Get(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, "https://example.com/", want))

	got, err = c.Get(ctx, "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("cached record mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{
		"miss https://example.com/",
		"set https://example.com/",
		"hit https://example.com/",
	}, rec.events)
}

func TestCache_ExpiredEntryIsMissAndLeavesIndex(t *testing.T) {
	c, _, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "https://example.com/", record("https://example.com/", "x")))
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCacheCount)

	clk.Advance(DefaultTTL)

	got, err := c.Get(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCacheCount)
}

func TestCache_CorruptPayloadIsMiss(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, c.Key("https://example.com/"), []byte("{not json"), 0))

	got, err := c.Get(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_IncompleteRecordIsMiss(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, c.Key("https://example.com/"), []byte(`{"url":"https://example.com/","title":""}`), 0))

	got, err := c.Get(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_Normalizer(t *testing.T) {
	strip := func(s string) string { return strings.TrimSuffix(s, "?si=abc") }
	c, _, _ := newTestCache(t, WithNormalizer(strip))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "https://youtu.be/x?si=abc", record("https://youtu.be/x", "x")))

	got, err := c.Get(ctx, "https://youtu.be/x")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCache_Delete(t *testing.T) {
	rec := &recorder{}
	c, _, _ := newTestCache(t, WithEvents(rec.registry()))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "https://a.example/", record("https://a.example/", "a")))

	existed, err := c.Delete(ctx, "https://a.example/")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Delete(ctx, "https://a.example/")
	require.NoError(t, err)
	assert.False(t, existed)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCacheCount)

	assert.Equal(t, []string{"set https://a.example/", "deleted https://a.example/"}, rec.events,
		"deleted fires only when an entry existed")
}

func TestCache_ClearAll(t *testing.T) {
	rec := &recorder{}
	c, store, clk := newTestCache(t, WithEvents(rec.registry()), WithClearConcurrency(2))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "https://a.example/", record("https://a.example/", "a")))
	require.NoError(t, c.SetWithTTL(ctx, "https://b.example/", record("https://b.example/", "b"), time.Second))
	require.NoError(t, c.Set(ctx, "https://c.example/", record("https://c.example/", "c")))

	// b expires but is still indexed; it is not counted as removed.
	clk.Advance(2 * time.Second)

	n, err := c.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{2}, rec.cleared)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCacheCount)

	for _, u := range []string{"https://a.example/", "https://c.example/"} {
		_, ok, err := store.Get(ctx, c.Key(u))
		require.NoError(t, err)
		assert.False(t, ok, u)
	}
}

func TestCache_ClearAll_Empty(t *testing.T) {
	rec := &recorder{}
	c, _, _ := newTestCache(t, WithEvents(rec.registry()))

	n, err := c.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []int{0}, rec.cleared)
}

func TestCache_Stats(t *testing.T) {
	tests := []struct {
		name     string
		ttl      time.Duration
		wantSecs int64
		wantDays float64
	}{
		{"default week", DefaultTTL, 604800, 7},
		{"one day", 24 * time.Hour, 86400, 1},
		{"36 hours", 36 * time.Hour, 129600, 1.5},
		{"one hour", time.Hour, 3600, 0},
		{"ten hours", 10 * time.Hour, 36000, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestCache(t, WithTTL(tt.ttl))
			stats, err := c.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantSecs, stats.ExpirationSeconds)
			assert.InDelta(t, tt.wantDays, stats.ExpirationDays, 1e-9)
		})
	}
}

func TestCache_SetTTLPersists(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetTTL(ctx, 2*time.Hour))
	assert.Equal(t, 2*time.Hour, c.TTL())

	other := New(store)
	require.NoError(t, other.LoadSettings(ctx))
	assert.Equal(t, 2*time.Hour, other.TTL())

	assert.Error(t, c.SetTTL(ctx, 0))
}

func TestCache_Prune(t *testing.T) {
	c, store, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "https://short.example/", record("https://short.example/", "s"), time.Minute))
	require.NoError(t, c.Set(ctx, "https://long.example/", record("https://long.example/", "l")))

	clk.Advance(2 * time.Minute)

	n, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := c.index.keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{c.Key("https://long.example/")}, keys)
	// index + long entry remain physically.
	assert.Equal(t, 2, store.Len())
}

func TestKeyIndex_SanitizesOnLoad(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, c.prefix+indexSuffix, []byte(`["a","","b","a"]`), 0))

	keys, err := c.index.keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, c.index.remember(ctx, "b"))
	require.NoError(t, c.index.remember(ctx, "c"))
	keys, err = c.index.keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestKeyIndex_CorruptIndexStartsEmpty(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, c.prefix+indexSuffix, []byte("oops"), 0))

	keys, err := c.index.keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

type failingStore struct {
	*memory.Store
	setErr    error
	deleteErr error
}

func (s *failingStore) Delete(ctx context.Context, key string) (bool, error) {
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	return s.Store.Delete(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func TestCache_SetFailureSkipsEvent(t *testing.T) {
	rec := &recorder{}
	store := &failingStore{Store: memory.New(), setErr: errors.New("disk full")}
	c := New(store, WithEvents(rec.registry()))

	err := c.Set(context.Background(), "https://example.com/", record("https://example.com/", "x"))
	require.Error(t, err)
	assert.Empty(t, rec.events)
}

func TestCache_DeleteFailureStillForgetsKey(t *testing.T) {
	store := &failingStore{Store: memory.New()}
	c := New(store)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "https://example.com/", record("https://example.com/", "x")))

	store.deleteErr = errors.New("backend delete failed")
	existed, err := c.Delete(ctx, "https://example.com/")
	require.Error(t, err)
	assert.False(t, existed)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCacheCount)
}

func TestCache_ClearAllResetsIndexWhenCanceled(t *testing.T) {
	store := &failingStore{Store: memory.New()}
	c := New(store)
	ctx, cancel := context.WithCancel(context.Background())
	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		require.NoError(t, c.Set(ctx, u, record(u, "x")))
	}

	store.deleteErr = context.Canceled
	cancel()
	_, err := c.ClearAll(ctx)
	require.Error(t, err)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCacheCount)
}

// Two concurrent misses for the same URL both resolve and both write. There is
// no request coalescing, so whichever write lands last is what stays cached.
func TestCache_ConcurrentMissLastWriterWins(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	const url = "https://example.com/stampede"

	var missed sync.WaitGroup
	missed.Add(2)
	firstWritten := make(chan struct{})
	done := make(chan struct{}, 2)

	resolve := func(title string, waitFor <-chan struct{}, signal chan<- struct{}) {
		defer func() { done <- struct{}{} }()
		got, err := c.Get(ctx, url)
		assert.NoError(t, err)
		assert.Nil(t, got)
		missed.Done()
		missed.Wait()

		if waitFor != nil {
			<-waitFor
		}
		assert.NoError(t, c.Set(ctx, url, record(url, title)))
		if signal != nil {
			close(signal)
		}
	}

	go resolve("first", nil, firstWritten)
	go resolve("second", firstWritten, nil)
	<-done
	<-done

	got, err := c.Get(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.Title)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCacheCount, "index holds the key once")
}
