package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUp_Success(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		blobType string
	}{
		{"postgres", Postgres, "BYTEA"},
		{"sqlite", SQLite, "BLOB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()

			mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries .*value\\s+" + tt.blobType).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at").
				WillReturnResult(sqlmock.NewResult(0, 0))

			assert.NoError(t, MigrateUp(context.Background(), db, tt.dialect))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMigrateUp_TableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries").
		WillReturnError(sql.ErrConnDone)

	err = MigrateUp(context.Background(), db, Postgres)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateDown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("DROP INDEX IF EXISTS idx_kv_entries_expires_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS kv_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, MigrateDown(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"postgres", Postgres, false},
		{"PostgreSQL", Postgres, false},
		{"pgx", Postgres, false},
		{"sqlite", SQLite, false},
		{" sqlite3 ", SQLite, false},
		{"mysql", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDialect(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialect_Placeholder(t *testing.T) {
	assert.Equal(t, "$2", Postgres.Placeholder(2))
	assert.Equal(t, "?", SQLite.Placeholder(2))
	assert.Equal(t, "pgx", Postgres.DriverName())
	assert.Equal(t, "sqlite", SQLite.DriverName())
}
