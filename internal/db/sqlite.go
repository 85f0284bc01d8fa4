package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// defaultSQLiteReaderConns is the number of concurrent read connections.
	// SQLite WAL mode allows many readers alongside a single writer; 4 is
	// plenty for this workload.
	defaultSQLiteReaderConns = 4
)

// OpenSQLitePool opens a writer/reader Pool for the given SQLite file path.
// The special path ":memory:" opens a single shared in-memory database and
// uses the same connection for reads and writes (WAL does not apply).
func OpenSQLitePool(dbPath string) (*Pool, error) {
	if dbPath == ":memory:" {
		mem, err := sqlx.Open("sqlite3", "file::memory:?cache=shared&_foreign_keys=on")
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory database: %w", err)
		}
		mem.SetMaxOpenConns(1)
		return NewPool(mem, mem), nil
	}

	writer, err := openSQLiteWriter(dbPath)
	if err != nil {
		return nil, err
	}
	reader, err := openSQLiteReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return NewPool(writer, reader), nil
}

// openSQLiteWriter opens a SQLite database configured for writes (single connection).
func openSQLiteWriter(dbPath string) (*sqlx.DB, error) {
	normalizedPath := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteDir(normalizedPath); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}

	// Writer DSN settings:
	// - foreign_keys=on: enforce FK constraints consistently.
	// - busy_timeout: wait briefly on locks to reduce transient "database is locked".
	// - journal_mode=WAL: better read concurrency with a single writer.
	// - synchronous=NORMAL: reasonable durability/perf tradeoff for app workloads.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		normalizedPath,
		int(defaultBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection: serializes writes and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// openSQLiteReader opens a read-only SQLite connection pool with multiple
// concurrent connections.
func openSQLiteReader(dbPath string) (*sqlx.DB, error) {
	normalizedPath := normalizeSQLitePath(dbPath)

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		normalizedPath,
		int(defaultBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}

	db.SetMaxOpenConns(defaultSQLiteReaderConns)
	db.SetMaxIdleConns(defaultSQLiteReaderConns)

	return db, nil
}

func ensureSQLiteDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// normalizeSQLitePath expands a leading ~ to the user's home directory.
func normalizeSQLitePath(dbPath string) string {
	if strings.HasPrefix(dbPath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dbPath[2:])
		}
	}
	return dbPath
}
