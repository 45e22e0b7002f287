// Package bolt provides a KVStore on an embedded bbolt file.
//
// Values at or above CompressionThreshold are zstd-compressed. Expiry is
// stored in a small header in front of each value and checked on read;
// DeleteExpired reclaims space.
package bolt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"link-embed/internal/repository"
)

var bucketKV = []byte("kv")

// Store implements repository.KVStore using bbolt.
type Store struct {
	db     *bbolt.DB
	codec  *codec
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithNoSync disables fsync per transaction. Use only in tests.
func WithNoSync(noSync bool) Option {
	return func(s *Store) {
		s.noSync = noSync
	}
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", bucketKV, err)
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.db = db
	s.codec = c
	s.logger.Debug("opened bolt store", slog.String("path", path), slog.Bool("noSync", s.noSync))
	return s, nil
}

// Close closes the database and releases codec resources.
func (s *Store) Close() error {
	if s.codec != nil {
		s.codec.close()
		s.codec = nil
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value for key, treating expired or corrupt records as a miss.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketKV).Get([]byte(key))
		if val != nil {
			raw = make([]byte, len(val))
			copy(raw, val)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	if raw == nil {
		return nil, false, nil
	}

	expiresAt, err := expiry(raw)
	if err != nil {
		s.logger.Warn("corrupted bolt record", slog.String("key", key))
		return nil, false, nil
	}
	if !expiresAt.IsZero() && !s.now().Before(expiresAt) {
		return nil, false, nil
	}

	value, err := s.codec.decode(raw)
	if err != nil {
		s.logger.Warn("undecodable bolt record", slog.String("key", key), slog.Any("error", err))
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value with an optional TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	raw := s.codec.encode(value, expiresAt)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketKV).Put([]byte(key), raw); err != nil {
			return fmt.Errorf("putting %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes key and reports whether a live entry was removed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	var live bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		val := b.Get([]byte(key))
		if val == nil {
			return nil
		}
		if expiresAt, err := expiry(val); err == nil {
			live = expiresAt.IsZero() || s.now().Before(expiresAt)
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return live, nil
}

// DeleteExpired walks the bucket with a cursor and removes expired records.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		var expired [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			expiresAt, err := expiry(v)
			if err != nil || (!expiresAt.IsZero() && !now.Before(expiresAt)) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting expired records: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("removed expired bolt records", slog.Int("count", removed))
	}
	return removed, nil
}

var (
	_ repository.KVStore        = (*Store)(nil)
	_ repository.ExpiredSweeper = (*Store)(nil)
)
