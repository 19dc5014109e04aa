package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FilePersister keeps the blob in a single JSON file.
type FilePersister struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed persister writing to path.
func NewFile(path string) (*FilePersister, error) {
	if path == "" {
		return nil, fmt.Errorf("store file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Load reads the file. A missing file means nothing was saved.
func (f *FilePersister) Load(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	return b, nil
}

// Save writes blob to a temporary file and renames it over the target.
func (f *FilePersister) Save(_ context.Context, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close store file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// Ping checks that the store directory is accessible.
func (f *FilePersister) Ping(_ context.Context) error {
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("stat store directory: %w", err)
	}
	return nil
}

// Close is a no-op.
func (f *FilePersister) Close() error { return nil }
