package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerPersister keeps the blob in an embedded Badger database.
type BadgerPersister struct {
	db  *badger.DB
	key []byte
}

// NewBadger opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func NewBadger(dir, key string) (*BadgerPersister, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerPersister{db: db, key: []byte(key)}, nil
}

// Load returns the blob stored under the persister key.
func (b *BadgerPersister) Load(_ context.Context) ([]byte, error) {
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", b.key, err)
	}
	return blob, nil
}

// Save replaces the blob.
func (b *BadgerPersister) Save(_ context.Context, blob []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, blob)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", b.key, err)
	}
	return nil
}

// Ping reports whether the database is still open.
func (b *BadgerPersister) Ping(_ context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close closes the database.
func (b *BadgerPersister) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
