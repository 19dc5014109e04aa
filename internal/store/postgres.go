package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresPersister keeps the blob in a Postgres key/value table.
type PostgresPersister struct {
	db  *sql.DB
	key string
}

// NewPostgres connects with the pgx stdlib driver and ensures the schema.
func NewPostgres(ctx context.Context, dsn, key string) (*PostgresPersister, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS kv_store (
  key TEXT PRIMARY KEY,
  value BYTEA NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresPersister{db: db, key: key}, nil
}

// Load returns the blob stored under the persister key.
func (p *PostgresPersister) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1`, p.key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p.key, err)
	}
	return blob, nil
}

// Save upserts the blob.
func (p *PostgresPersister) Save(ctx context.Context, blob []byte) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		p.key, blob)
	if err != nil {
		return fmt.Errorf("save %s: %w", p.key, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (p *PostgresPersister) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *PostgresPersister) Close() error {
	return p.db.Close()
}
