package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for cache operations
var (
	// ErrCacheMiss means the key is not present, either never written or
	// expired. It is the only benign cache error; anything else is a
	// backend failure and must be treated as a hard failure by callers.
	ErrCacheMiss = errors.New("cache: key not found")
)

// Cache is the key-value cache backing the session store. One entry per
// session id, value = the serialized session blob. Expiry is enforced by
// the cache, not by the session layer.
type Cache interface {
	// Get returns the value stored under key within category.
	// Returns ErrCacheMiss if the key is absent or expired.
	Get(ctx context.Context, key, category string) ([]byte, error)

	// Put stores value under key within category with the given lifetime.
	// A Put for an existing key replaces the whole value and resets the
	// lifetime.
	Put(ctx context.Context, key string, value []byte, lifetime time.Duration, category string) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key, category string) error
}
