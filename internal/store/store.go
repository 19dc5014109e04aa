// Package store provides the persistence port for the project workflow
// store and its backends. Every backend keeps a single opaque blob under a
// fixed key.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/automl-assistant/internal/config"
	"github.com/ashureev/automl-assistant/internal/shared"
)

// DefaultKey is the storage key used when none is configured.
const DefaultKey = "automl-assistant-storage"

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Persister loads and saves the serialized store state.
type Persister interface {
	// Load returns the stored blob, or (nil, nil) when nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the stored blob.
	Save(ctx context.Context, blob []byte) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Open builds the persister selected by cfg.Backend. retry applies to the
// SQLite backend only.
func Open(ctx context.Context, cfg config.StoreConfig, retry shared.RetryPolicy) (Persister, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	var (
		p   Persister
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		p = NewMemory()
	case BackendFile:
		p, err = asPersister(NewFile(cfg.FilePath))
	case "", BackendSQLite:
		var sp *SQLitePersister
		if sp, err = NewSQLite(cfg.DBPath, key); err == nil {
			p = sp.WithRetry(retry)
		}
	case BackendBadger:
		p, err = asPersister(NewBadger(cfg.BadgerDir, key))
	case BackendPostgres:
		p, err = asPersister(NewPostgres(ctx, cfg.PostgresDSN, key))
	case BackendS3:
		p, err = asPersister(NewS3(S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		}, key))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	return p, nil
}

// asPersister keeps a failed constructor from producing a typed nil.
func asPersister[T Persister](p T, err error) (Persister, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
