package agent

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Registry keeps one Client per browser session so each tab has its own
// in-flight exchange. Least recently used clients are evicted and aborted.
type Registry struct {
	mu      sync.Mutex
	clients *lru.Cache[string, *Client]
	factory func() *Client
}

// NewRegistry returns a registry holding at most size clients built by factory.
func NewRegistry(size int, factory func() *Client) (*Registry, error) {
	cache, err := lru.NewWithEvict(size, func(_ string, c *Client) {
		c.Abort()
	})
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	return &Registry{clients: cache, factory: factory}, nil
}

// Client returns the client for key, creating it on first use.
func (r *Registry) Client(key string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients.Get(key); ok {
		return c
	}
	c := r.factory()
	r.clients.Add(key, c)
	return c
}

// Abort cancels the running exchange for key. Unknown keys are ignored.
func (r *Registry) Abort(key string) {
	if c, ok := r.clients.Peek(key); ok {
		c.Abort()
	}
}

// Len returns the number of cached clients.
func (r *Registry) Len() int {
	return r.clients.Len()
}

// Close aborts every client and empties the registry.
func (r *Registry) Close() {
	r.clients.Purge()
}
