// Package cache stores resolved preview records in a KVStore.
//
// Records are keyed by a digest of the normalized URL and expire after the
// configured TTL (one week by default). Because a KVStore cannot enumerate
// its keys, the cache keeps its own index of written keys under a reserved
// key; ClearAll and Stats are driven by that index.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"link-embed/internal/domain/entity"
	"link-embed/internal/domain/event"
	"link-embed/internal/repository"
)

const (
	// DefaultPrefix is prepended to every key the cache writes.
	DefaultPrefix = "ogp:"

	// DefaultTTL is how long a record lives: one week.
	DefaultTTL = 604800 * time.Second

	// DefaultClearConcurrency bounds parallel deletes in ClearAll.
	DefaultClearConcurrency = 8

	indexSuffix = "index"
	ttlSuffix   = "settings:ttl"
)

// Stats summarizes the cache.
type Stats struct {
	TotalCacheCount   int     `json:"total_cache_count"`
	ExpirationSeconds int64   `json:"expiration_seconds"`
	ExpirationDays    float64 `json:"expiration_days"`
}

// Cache is a TTL'd record cache over a KVStore.
type Cache struct {
	store       repository.KVStore
	prefix      string
	ttl         atomic.Int64
	index       *keyIndex
	events      *event.Registry
	normalize   func(string) string
	logger      *slog.Logger
	concurrency int
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix sets the key prefix. Default: "ogp:".
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL sets the initial record TTL. Default: one week.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl.Store(int64(ttl))
		}
	}
}

// WithEvents sets the registry cache events are emitted to.
func WithEvents(r *event.Registry) Option {
	return func(c *Cache) {
		c.events = r
	}
}

// WithNormalizer sets the URL normalization applied before key derivation.
// Default: identity.
func WithNormalizer(fn func(string) string) Option {
	return func(c *Cache) {
		if fn != nil {
			c.normalize = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClearConcurrency bounds parallel deletes in ClearAll.
func WithClearConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New creates a Cache over store.
//
// Example:
//
//	c := cache.New(memory.New(), cache.WithNormalizer(youtube.NormalizeURL))
//	rec, err := c.Get(ctx, "https://example.com/")
func New(store repository.KVStore, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		prefix:      DefaultPrefix,
		normalize:   func(s string) string { return s },
		logger:      slog.Default(),
		concurrency: DefaultClearConcurrency,
	}
	c.ttl.Store(int64(DefaultTTL))
	for _, opt := range opts {
		opt(c)
	}
	c.index = &keyIndex{
		store:  store,
		key:    c.prefix + indexSuffix,
		logger: c.logger,
	}
	return c
}

// Key returns the storage key for url.
func (c *Cache) Key(url string) string {
	return Key(c.prefix, c.normalize(url))
}

// TTL returns the current record TTL.
func (c *Cache) TTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// SetTTL changes the TTL used for subsequent writes and persists it so
// LoadSettings on another instance picks it up. Existing entries keep their
// original expiry.
func (c *Cache) SetTTL(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	secs := strconv.FormatInt(int64(ttl/time.Second), 10)
	if err := c.store.Set(ctx, c.prefix+ttlSuffix, []byte(secs), 0); err != nil {
		return fmt.Errorf("persisting cache ttl: %w", err)
	}
	c.ttl.Store(int64(ttl))
	return nil
}

// LoadSettings reads a TTL previously persisted by SetTTL, if any.
func (c *Cache) LoadSettings(ctx context.Context) error {
	raw, ok, err := c.store.Get(ctx, c.prefix+ttlSuffix)
	if err != nil {
		return fmt.Errorf("loading cache settings: %w", err)
	}
	if !ok {
		return nil
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || secs <= 0 {
		c.logger.Warn("ignoring invalid persisted cache ttl", slog.String("value", string(raw)))
		return nil
	}
	c.ttl.Store(int64(time.Duration(secs) * time.Second))
	return nil
}

// Get returns the cached record for url, or nil when there is none.
//
// A miss removes the key from the index, which is how expired entries leave
// it. Undecodable or incomplete payloads are treated as a miss.
func (c *Cache) Get(ctx context.Context, url string) (*entity.MetadataRecord, error) {
	key := c.Key(url)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	if ok {
		var rec entity.MetadataRecord
		err := json.Unmarshal(raw, &rec)
		if err == nil {
			err = rec.Validate()
		}
		if err == nil {
			c.events.CacheHit(ctx, url, key)
			return &rec, nil
		}
		c.logger.Warn("discarding undecodable cache entry",
			slog.String("key", key),
			slog.Any("error", err))
	}

	if err := c.index.forget(ctx, key); err != nil {
		c.logger.Warn("failed to update cache index", slog.String("key", key), slog.Any("error", err))
	}
	c.events.CacheMiss(ctx, url, key)
	return nil, nil
}

// Set stores record for url with the current TTL.
func (c *Cache) Set(ctx context.Context, url string, record entity.MetadataRecord) error {
	return c.SetWithTTL(ctx, url, record, c.TTL())
}

// SetWithTTL stores record for url with an explicit TTL.
func (c *Cache) SetWithTTL(ctx context.Context, url string, record entity.MetadataRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.TTL()
	}
	key := c.Key(url)

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if err := c.index.remember(ctx, key); err != nil {
		c.logger.Warn("failed to update cache index", slog.String("key", key), slog.Any("error", err))
	}

	c.events.CacheSet(ctx, url, key, record, ttl)
	return nil
}

// Delete removes the entry for url and reports whether a live one existed.
// The key leaves the index either way, including when the store delete fails.
func (c *Cache) Delete(ctx context.Context, url string) (bool, error) {
	key := c.Key(url)

	existed, err := c.store.Delete(ctx, key)
	if ferr := c.index.forget(ctx, key); ferr != nil {
		c.logger.Warn("failed to update cache index", slog.String("key", key), slog.Any("error", ferr))
	}
	if err != nil {
		return false, fmt.Errorf("cache delete: %w", err)
	}

	if existed {
		c.events.CacheDeleted(ctx, url, key)
	}
	return existed, nil
}

// ClearAll deletes every indexed entry and empties the index.
// It returns the number of entries that were actually removed. The index is
// reset even when the context is canceled part way through.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	keys, err := c.index.keys(ctx)
	if err != nil {
		return 0, err
	}

	var removed atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for _, key := range keys {
		eg.Go(func() error {
			ok, err := c.store.Delete(egCtx, key)
			if err != nil {
				if ctxErr := egCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.logger.Warn("failed to delete cache entry", slog.String("key", key), slog.Any("error", err))
				return nil
			}
			if ok {
				removed.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		// キャンセルされてもインデックスは空にする
		if rerr := c.index.reset(context.WithoutCancel(ctx)); rerr != nil {
			c.logger.Warn("failed to reset cache index", slog.Any("error", rerr))
		}
		return int(removed.Load()), fmt.Errorf("cache clear: %w", err)
	}

	if err := c.index.reset(ctx); err != nil {
		return int(removed.Load()), err
	}

	count := int(removed.Load())
	c.events.CacheCleared(ctx, count)
	c.logger.Info("cache cleared", slog.Int("count", count))
	return count, nil
}

// Stats reports the indexed entry count and the current TTL.
//
// The count may include entries that expired since they were last read.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.index.keys(ctx)
	if err != nil {
		return Stats{}, err
	}
	secs := int64(c.TTL() / time.Second)
	return Stats{
		TotalCacheCount:   len(keys),
		ExpirationSeconds: secs,
		ExpirationDays:    math.Round(float64(secs)/86400*10) / 10,
	}, nil
}

// Prune drops index entries whose records are gone and, when the store
// supports it, physically removes expired records. It returns the number of
// keys dropped from the index.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	if sweeper, ok := c.store.(repository.ExpiredSweeper); ok {
		n, err := sweeper.DeleteExpired(ctx)
		if err != nil {
			return 0, fmt.Errorf("cache prune: %w", err)
		}
		c.logger.Debug("expired records swept", slog.Int("count", n))
	}

	keys, err := c.index.keys(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, key := range keys {
		_, ok, err := c.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return 0, err
			}
			c.logger.Warn("prune lookup failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		if !ok {
			stale = append(stale, key)
		}
	}

	if err := c.index.forget(ctx, stale...); err != nil {
		return 0, err
	}
	if len(stale) > 0 {
		c.logger.Info("cache index pruned", slog.Int("count", len(stale)))
	}
	return len(stale), nil
}
