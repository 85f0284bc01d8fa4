package db

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// OpenPostgresPool opens a PostgreSQL connection pool using pgx.
// If maxConns or minConns are 0, they default to 25 and 5 respectively.
// Reads and writes share the same pool; pgx handles pooling internally.
func OpenPostgresPool(dsn string, maxConns, minConns int) (*Pool, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return NewPool(db, db), nil
}
