// Package redis stores resource ETags in Redis so several engine processes
// sharing one database also share conditional-request validators.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "triagetree:etag:"

// Cache implements core.ETagCache on a Redis string per key.
type Cache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTTL expires cached ETags after ttl. Zero keeps them until invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// New connects to the Redis server at address.
func New(address, password string, db int, opts ...Option) *Cache {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(k string) string { return c.prefix + k }

// Get returns the cached ETag for key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, backend.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get etag %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores etag under key.
func (c *Cache) Set(ctx context.Context, key, etag string) error {
	if err := c.client.Set(ctx, c.key(key), etag, c.ttl).Err(); err != nil {
		return fmt.Errorf("set etag %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes every key in a single round trip.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("invalidate etags: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
