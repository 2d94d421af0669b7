// Package database opens the coremonitor SQLite database and applies its
// schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database. Used by tests.
const MemoryPath = ":memory:"

// pragmas apply to every connection of a file database.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

// Open opens the database at path, creating its directory if needed. The pool
// holds one connection: plan leases and history writes rely on SQLite seeing
// a single writer.
func Open(path string) (*sql.DB, error) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if path == MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}
	return db, nil
}

func dsn(path string) string {
	if path == MemoryPath {
		return path
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		// Ping reports the unusable path.
		return path
	}
	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}
