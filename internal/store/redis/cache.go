package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gatehouse-dev/gatehouse/internal/store"
)

// Cache implements store.Cache backed by redis. Keys are namespaced by
// category so session entries can share a redis database with other data.
type Cache struct {
	client *goredis.Client
}

// New connects to redis and verifies the connection with a ping.
func New(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing redis client.
func NewFromClient(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) key(key, category string) string {
	if category == "" {
		return key
	}
	return category + ":" + key
}

// Get returns the value for a key, or store.ErrCacheMiss if absent.
// Any other redis error is returned as-is; callers treat it as a hard
// failure rather than an empty entry.
func (c *Cache) Get(ctx context.Context, key, category string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.key(key, category)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return value, nil
}

// Put stores a value with the given lifetime.
func (c *Cache) Put(ctx context.Context, key string, value []byte, lifetime time.Duration, category string) error {
	if err := c.client.Set(ctx, c.key(key, category), value, lifetime).Err(); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key, category string) error {
	if err := c.client.Del(ctx, c.key(key, category)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
