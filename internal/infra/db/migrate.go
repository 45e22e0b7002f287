package db

import (
	"context"
	"database/sql"
	"fmt"
)

// KVTable is the table holding cache entries, rate counters and the key index.
const KVTable = "kv_entries"

// MigrateUp creates the key-value schema. It is idempotent.
//
// expires_at holds unix milliseconds so the same comparison works on both
// backends; NULL means the entry never expires.
func MigrateUp(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    key        TEXT PRIMARY KEY,
    value      %s NOT NULL,
    expires_at BIGINT
)`, KVTable, dialect.BlobType()),
		// 期限切れエントリ削除用
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s(expires_at)`, KVTable, KVTable),
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating %s: %w", KVTable, err)
		}
	}
	return nil
}

// MigrateDown drops the key-value schema.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`DROP INDEX IF EXISTS idx_%s_expires_at`, KVTable),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, KVTable),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
