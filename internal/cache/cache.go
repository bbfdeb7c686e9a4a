// Package cache adapts the teacher's common/cache.MemoryCache for the
// Resource Gateway's per-run definition cache (SPEC_FULL.md §4.7): a plain
// byte-value store keyed by (kind, id, version), with no TTL since a run's
// cache lives exactly as long as the run does and is dropped wholesale at
// termination rather than expired entry by entry.
package cache

import (
	"context"
	"sync"

	"github.com/lyzr/coordinator/internal/logger"
)

// Cache is the teacher's key-value contract, kept verbatim so a Redis-backed
// implementation could stand in without touching callers.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryCache is an in-memory cache scoped to one workflow run's lifetime.
// Unlike the teacher's version there is no expiry cleanup goroutine: a run's
// cache is discarded in one shot (Close) at run termination, never trickled
// away entry by entry.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string][]byte
	log  *logger.Logger
}

// NewMemoryCache creates an empty cache for one run.
func NewMemoryCache(log *logger.Logger) *MemoryCache {
	return &MemoryCache{data: make(map[string][]byte), log: log}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close discards every cached entry, called once at run termination.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	if c.log != nil {
		c.log.Debug("gateway cache closed")
	}
	return nil
}
