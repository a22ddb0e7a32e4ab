package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Well-known cache keys for the catalog listings
const (
	KeyCategoriesList = "categories_list"
	KeyProductsList   = "products_list"
)

// ProductKey returns the cache key for a single product
func ProductKey(id int64) string {
	return fmt.Sprintf("product_%d", id)
}

// Cache is a best-effort byte cache over Redis. Read and write failures are
// logged and treated as misses so an unavailable Redis never fails a request.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// New creates a Cache backed by the given Redis client
func New(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Get returns the cached value for key, or ok=false on a miss or error
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// Set stores value under key with the given TTL
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes the given keys; unknown keys are ignored
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
