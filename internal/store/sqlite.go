package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/automl-assistant/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLitePersister implements Persister using a SQLite key/value table.
type SQLitePersister struct {
	db    *sql.DB
	key   string
	retry shared.RetryPolicy
	mu    sync.Mutex // Serialises writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed persister.
func NewSQLite(dbPath, key string) (*SQLitePersister, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &SQLitePersister{db: db, key: key, retry: shared.DefaultRetryPolicy}
	if err := p.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return p, nil
}

// WithRetry overrides the busy retry policy.
func (p *SQLitePersister) WithRetry(policy shared.RetryPolicy) *SQLitePersister {
	p.retry = policy
	return p
}

func (p *SQLitePersister) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := p.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load returns the blob stored under the persister key.
func (p *SQLitePersister) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, p.key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p.key, err)
	}
	return blob, nil
}

// Save upserts the blob, retrying on SQLite lock conflicts.
func (p *SQLitePersister) Save(ctx context.Context, blob []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	query := `
	INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, p.retry, "save "+p.key, func() error {
		_, err := p.db.ExecContext(ctx, query, p.key, blob, time.Now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", p.key, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (p *SQLitePersister) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection.
func (p *SQLitePersister) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
