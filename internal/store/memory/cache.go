package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gatehouse-dev/gatehouse/internal/store"
)

// Cache implements store.Cache using in-memory storage.
// This implementation is for testing and development only.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewCache creates a new in-memory cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func cacheKey(key, category string) string {
	if category == "" {
		return key
	}
	return category + ":" + key
}

// Get returns the value for a key, or store.ErrCacheMiss if absent or expired.
func (c *Cache) Get(ctx context.Context, key, category string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[cacheKey(key, category)]
	if !exists {
		return nil, store.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, store.ErrCacheMiss
	}

	// Clone to avoid external modifications
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Put stores a value with the given lifetime. A zero lifetime means no expiry.
func (c *Cache) Put(ctx context.Context, key string, value []byte, lifetime time.Duration, category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clone := make([]byte, len(value))
	copy(clone, value)

	entry := cacheEntry{value: clone}
	if lifetime > 0 {
		entry.expiresAt = time.Now().Add(lifetime)
	}
	c.entries[cacheKey(key, category)] = entry
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key, category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, cacheKey(key, category))
	return nil
}
