package cachemem

import (
	"context"
	"sync"
	"time"

	"auditchain/internal/usecase"
)

// Cache holds scope lineages in process memory.
type Cache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     []string
	expiresAt time.Time
	hasExpiry bool
}

func New() *Cache {
	return &Cache{
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]string, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.hasExpiry && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]string(nil), entry.value...), true, nil
}

func (c *Cache) Put(ctx context.Context, key string, value []string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{value: append([]string(nil), value...)}
	if ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

var _ usecase.LineageCache = (*Cache)(nil)
