package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection. Inside Transaction the same type is
// handed to the callback with every query routed through the open *sql.Tx.
type DB struct {
	conn *sql.DB
	q    querier
	path string
	mu   *sync.Mutex
}

// New creates a new database connection
func New(path string) (*DB, error) {
	// WAL for concurrent readers, foreign keys for ON DELETE behaviour, busy timeout
	// so writers queue instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite with WAL mode supports concurrent reads but serializes writes
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	log.Debug().Str("path", path).Msg("Database connection established")

	return &DB{
		conn: conn,
		q:    conn,
		path: path,
		mu:   &sync.Mutex{},
	}, nil
}

// Close closes the underlying connection pool
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// IsFirstRun checks if this is the first run (no users exist)
func (db *DB) IsFirstRun(ctx context.Context) (bool, error) {
	count, err := db.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Transaction wraps a function in a database transaction. Nested calls reuse the
// outer transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	if _, inTx := db.q.(*sql.Tx); inTx {
		return fn(db)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txDB := &DB{conn: db.conn, q: tx, path: db.path, mu: db.mu}
	if err := fn(txDB); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
