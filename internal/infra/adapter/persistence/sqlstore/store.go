// Package sqlstore provides a KVStore on a SQL table.
//
// The same code serves PostgreSQL (pgx) and SQLite (modernc); only the bind
// parameter syntax differs. Calls go through a gobreaker-backed
// DBCircuitBreaker so an unavailable database fails fast.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"link-embed/internal/infra/db"
	"link-embed/internal/repository"
	"link-embed/internal/resilience/circuitbreaker"
)

// Store implements repository.KVStore on the kv_entries table.
type Store struct {
	db      *circuitbreaker.DBCircuitBreaker
	dialect db.Dialect
	now     func() time.Time
	logger  *slog.Logger

	getSQL        string
	upsertSQL     string
	deleteLiveSQL string
	deleteSQL     string
	sweepSQL      string
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBreakerConfig overrides the circuit breaker configuration.
func WithBreakerConfig(cfg circuitbreaker.Config) Option {
	return func(s *Store) {
		s.db = circuitbreaker.NewDBCircuitBreakerWithConfig(s.db.DB(), cfg)
	}
}

// New creates a Store over an open connection. The schema must exist (see db.MigrateUp).
func New(conn *sql.DB, dialect db.Dialect, opts ...Option) *Store {
	s := &Store{
		db:      circuitbreaker.NewDBCircuitBreaker(conn, "kv-store:"+string(dialect)),
		dialect: dialect,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	p := dialect.Placeholder
	s.getSQL = fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = %s`, db.KVTable, p(1))
	s.upsertSQL = fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES (%s, %s, %s)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		db.KVTable, p(1), p(2), p(3))
	s.deleteLiveSQL = fmt.Sprintf(`DELETE FROM %s WHERE key = %s AND (expires_at IS NULL OR expires_at > %s)`,
		db.KVTable, p(1), p(2))
	s.deleteSQL = fmt.Sprintf(`DELETE FROM %s WHERE key = %s`, db.KVTable, p(1))
	s.sweepSQL = fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= %s`, db.KVTable, p(1))
	return s
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Get returns the value for key. Expired rows are reported as a miss and left
// for DeleteExpired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rows, err := s.db.QueryContext(ctx, s.getSQL, key)
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("kv get %s: %w", key, err)
		}
		return nil, false, nil
	}

	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	if err := rows.Scan(&value, &expiresAt); err != nil {
		return nil, false, fmt.Errorf("kv get %s: scan: %w", key, err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.nowMillis() {
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts value with an optional TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, s.upsertSQL, key, value, expiresAt); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether a live row was removed.
// An expired leftover row is removed as well but reported as absent.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.deleteLiveSQL, key, s.nowMillis())
	if err != nil {
		return false, fmt.Errorf("kv delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv delete %s: %w", key, err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, s.deleteSQL, key); err != nil {
		return false, fmt.Errorf("kv delete %s: %w", key, err)
	}
	return false, nil
}

// DeleteExpired removes every expired row.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.sweepSQL, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("kv delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kv delete expired: %w", err)
	}
	if n > 0 {
		s.logger.Debug("removed expired kv rows", slog.Int64("count", n))
	}
	return int(n), nil
}

// IsUnavailable reports whether err means the database breaker is open.
func IsUnavailable(err error) bool {
	return errors.Is(err, circuitbreaker.ErrOpenState) || errors.Is(err, circuitbreaker.ErrTooManyRequests)
}

var (
	_ repository.KVStore        = (*Store)(nil)
	_ repository.ExpiredSweeper = (*Store)(nil)
)
