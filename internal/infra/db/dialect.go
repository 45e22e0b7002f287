package db

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL backends.
type Dialect string

const (
	// Postgres uses the pgx stdlib driver.
	Postgres Dialect = "postgres"
	// SQLite uses the pure Go modernc.org/sqlite driver.
	SQLite Dialect = "sqlite"
)

// ParseDialect accepts "postgres", "postgresql", "pgx" or "sqlite".
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", s)
	}
}

// DriverName returns the database/sql driver name.
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// BlobType returns the column type for opaque bytes.
func (d Dialect) BlobType() string {
	if d == SQLite {
		return "BLOB"
	}
	return "BYTEA"
}
