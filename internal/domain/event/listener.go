// Package event provides the hook points preview operations emit to.
//
// Listeners are supplied when a Registry is constructed; there is no global
// registration. Hooks run synchronously on the calling goroutine, so a
// listener must not block.
package event

import (
	"context"
	"time"

	"link-embed/internal/domain/entity"
)

// Listener observes cache activity.
type Listener interface {
	// CacheHit fires when Get returns a stored record.
	CacheHit(ctx context.Context, url, key string)
	// CacheMiss fires when Get finds nothing usable.
	CacheMiss(ctx context.Context, url, key string)
	CacheSet(ctx context.Context, url, key string, record entity.MetadataRecord, ttl time.Duration)
	CacheDeleted(ctx context.Context, url, key string)
	CacheCleared(ctx context.Context, count int)
}

// RecordFilter may rewrite a freshly resolved record before it is cached and returned.
type RecordFilter func(ctx context.Context, url string, record entity.MetadataRecord) entity.MetadataRecord

// Hooks adapts plain functions to Listener. Nil fields are skipped.
type Hooks struct {
	OnCacheHit     func(ctx context.Context, url, key string)
	OnCacheMiss    func(ctx context.Context, url, key string)
	OnCacheSet     func(ctx context.Context, url, key string, record entity.MetadataRecord, ttl time.Duration)
	OnCacheDeleted func(ctx context.Context, url, key string)
	OnCacheCleared func(ctx context.Context, count int)
}

// CacheHit calls OnCacheHit.
func (h Hooks) CacheHit(ctx context.Context, url, key string) {
	if h.OnCacheHit != nil {
		h.OnCacheHit(ctx, url, key)
	}
}

// CacheMiss calls OnCacheMiss.
func (h Hooks) CacheMiss(ctx context.Context, url, key string) {
	if h.OnCacheMiss != nil {
		h.OnCacheMiss(ctx, url, key)
	}
}

// CacheSet calls OnCacheSet.
func (h Hooks) CacheSet(ctx context.Context, url, key string, record entity.MetadataRecord, ttl time.Duration) {
	if h.OnCacheSet != nil {
		h.OnCacheSet(ctx, url, key, record, ttl)
	}
}

// CacheDeleted calls OnCacheDeleted.
func (h Hooks) CacheDeleted(ctx context.Context, url, key string) {
	if h.OnCacheDeleted != nil {
		h.OnCacheDeleted(ctx, url, key)
	}
}

// CacheCleared calls OnCacheCleared.
func (h Hooks) CacheCleared(ctx context.Context, count int) {
	if h.OnCacheCleared != nil {
		h.OnCacheCleared(ctx, count)
	}
}

// Registry fans events out to its listeners in registration order.
// A nil *Registry is valid and drops every event.
type Registry struct {
	listeners []Listener
	filters   []RecordFilter
}

// Option configures a Registry.
type Option func(*Registry)

// WithListener appends a listener.
func WithListener(l Listener) Option {
	return func(r *Registry) {
		if l != nil {
			r.listeners = append(r.listeners, l)
		}
	}
}

// WithFilter appends a record filter. Filters are applied in order.
func WithFilter(f RecordFilter) Option {
	return func(r *Registry) {
		if f != nil {
			r.filters = append(r.filters, f)
		}
	}
}

// NewRegistry creates a Registry from options.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Listeners returns the number of registered listeners.
func (r *Registry) Listeners() int {
	if r == nil {
		return 0
	}
	return len(r.listeners)
}

// CacheHit reports a usable cached record for url.
func (r *Registry) CacheHit(ctx context.Context, url, key string) {
	if r == nil {
		return
	}
	for _, l := range r.listeners {
		l.CacheHit(ctx, url, key)
	}
}

// CacheMiss reports that url had no usable cached record.
func (r *Registry) CacheMiss(ctx context.Context, url, key string) {
	if r == nil {
		return
	}
	for _, l := range r.listeners {
		l.CacheMiss(ctx, url, key)
	}
}

// CacheSet reports that record was stored under key for ttl.
func (r *Registry) CacheSet(ctx context.Context, url, key string, record entity.MetadataRecord, ttl time.Duration) {
	if r == nil {
		return
	}
	for _, l := range r.listeners {
		l.CacheSet(ctx, url, key, record, ttl)
	}
}

// CacheDeleted reports that a live entry for url was removed.
func (r *Registry) CacheDeleted(ctx context.Context, url, key string) {
	if r == nil {
		return
	}
	for _, l := range r.listeners {
		l.CacheDeleted(ctx, url, key)
	}
}

// CacheCleared reports a full clear that removed count entries.
func (r *Registry) CacheCleared(ctx context.Context, count int) {
	if r == nil {
		return
	}
	for _, l := range r.listeners {
		l.CacheCleared(ctx, count)
	}
}

// FilterRecord runs every filter over record and returns the result.
func (r *Registry) FilterRecord(ctx context.Context, url string, record entity.MetadataRecord) entity.MetadataRecord {
	if r == nil {
		return record
	}
	for _, f := range r.filters {
		record = f(ctx, url, record)
	}
	return record
}

var (
	_ Listener = Hooks{}
	_ Listener = (*Registry)(nil)
)
