package store

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrInjected is returned by MemoryPersister when a failure is injected.
var ErrInjected = errors.New("injected persistence failure")

// MemoryPersister keeps the blob in memory. It is used for ephemeral
// deployments and as a test double with fault injection.
type MemoryPersister struct {
	mu        sync.Mutex
	blob      []byte
	saves     int
	failSaves bool
	failLoads bool
}

// NewMemory creates an empty in-memory persister.
func NewMemory() *MemoryPersister {
	return &MemoryPersister{}
}

// NewMemoryWith creates an in-memory persister preloaded with blob.
func NewMemoryWith(blob []byte) *MemoryPersister {
	return &MemoryPersister{blob: slices.Clone(blob)}
}

// Load returns a copy of the stored blob.
func (m *MemoryPersister) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoads {
		return nil, ErrInjected
	}
	return slices.Clone(m.blob), nil
}

// Save stores a copy of blob.
func (m *MemoryPersister) Save(_ context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves {
		return ErrInjected
	}
	m.blob = slices.Clone(blob)
	m.saves++
	return nil
}

// Ping always succeeds.
func (m *MemoryPersister) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryPersister) Close() error { return nil }

// FailSaves makes subsequent saves fail until reset.
func (m *MemoryPersister) FailSaves(fail bool) {
	m.mu.Lock()
	m.failSaves = fail
	m.mu.Unlock()
}

// FailLoads makes subsequent loads fail until reset.
func (m *MemoryPersister) FailLoads(fail bool) {
	m.mu.Lock()
	m.failLoads = fail
	m.mu.Unlock()
}

// Saves returns the number of successful saves.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Blob returns a copy of the last saved blob.
func (m *MemoryPersister) Blob() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.blob)
}
