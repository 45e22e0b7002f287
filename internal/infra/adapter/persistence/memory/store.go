// Package memory provides an in-process KVStore.
//
// It backs tests and single-instance deployments that do not need the cache
// to survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"link-embed/internal/repository"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a mutex-guarded map honouring TTLs lazily on read.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the stored value.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores a copy of value.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return false, nil
	}
	delete(s.data, key)
	return !e.expired(s.now()), nil
}

// DeleteExpired drops every expired entry and returns how many were removed.
func (s *Store) DeleteExpired(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var (
	_ repository.KVStore       = (*Store)(nil)
	_ repository.ExpiredSweeper = (*Store)(nil)
)
