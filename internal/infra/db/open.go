package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	envcfg "link-embed/pkg/config"
)

// ConnectionConfig holds database connection pool configuration.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConnectionConfig returns the default connection pool configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    25,               // Maximum number of open connections
		MaxIdleConns:    10,               // Maximum number of idle connections
		ConnMaxLifetime: 1 * time.Hour,    // Maximum lifetime of a connection
		ConnMaxIdleTime: 30 * time.Minute, // Maximum idle time of a connection
	}
}

// Open creates and verifies a connection pool for the given dialect.
// For SQLite, dsn is a file path and the pool is limited to a single writer.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty dsn for %s", dialect)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dialect, err)
	}

	cfg := getConnectionConfigFromEnv()
	if dialect == SQLite {
		// SQLite: single writer
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slog.Info("database connection pool configured",
		slog.String("dialect", string(dialect)),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("database connection established successfully")
	return db, nil
}

// getConnectionConfigFromEnv reads pool settings from DB_MAX_OPEN_CONNS,
// DB_MAX_IDLE_CONNS, DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME.
// Non-positive values keep the default. Idle connections never exceed open ones.
func getConnectionConfigFromEnv() ConnectionConfig {
	def := DefaultConnectionConfig()
	cfg := ConnectionConfig{
		MaxOpenConns:    positiveOr(envcfg.GetEnvInt("DB_MAX_OPEN_CONNS", def.MaxOpenConns), def.MaxOpenConns),
		MaxIdleConns:    positiveOr(envcfg.GetEnvInt("DB_MAX_IDLE_CONNS", def.MaxIdleConns), def.MaxIdleConns),
		ConnMaxLifetime: positiveOr(envcfg.GetEnvDuration("DB_CONN_MAX_LIFETIME", def.ConnMaxLifetime), def.ConnMaxLifetime),
		ConnMaxIdleTime: positiveOr(envcfg.GetEnvDuration("DB_CONN_MAX_IDLE_TIME", def.ConnMaxIdleTime), def.ConnMaxIdleTime),
	}
	cfg.MaxIdleConns = min(cfg.MaxIdleConns, cfg.MaxOpenConns)
	return cfg
}

func positiveOr[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}
