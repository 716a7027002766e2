package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/procflow/procflow/pkg/logger"
	"github.com/procflow/procflow/pkg/metrics"
)

// RedisCache backs Cache with Redis. With FailOpen set (the default) every
// backend failure degrades to a miss or a logged warning; set FailOpen false
// for strict deployments that prefer surfacing cache errors.
type RedisCache struct {
	client   *redis.Client
	failOpen bool
}

func NewRedisCache(client *redis.Client, failOpen bool) *RedisCache {
	return &RedisCache{client: client, failOpen: failOpen}
}

func (c *RedisCache) absorb(op, key string, err error) error {
	metrics.CacheBackendErrors.Inc()
	if c.failOpen {
		logger.Warnf("cache: %s %q failed, continuing without cache: %v", op, key, err)
		return nil
	}
	return err
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, c.absorb("GET", key, err)
	}
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return c.absorb("SET", key, err)
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return c.absorb("DEL", keys[0], err)
	}
	return nil
}

// DelPattern removes every key under the given prefix. SCAN keeps this safe on
// shared Redis instances; it is used for coarse invalidation only.
func (c *RedisCache) DelPattern(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	batch := []string{}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return c.absorb("DEL", prefix, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return c.absorb("SCAN", prefix, err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return c.absorb("DEL", prefix, err)
		}
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
