// Package redis stores the portal cache in Redis through go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/portal/cache"
)

const pingTimeout = 5 * time.Second

// Cache keeps every key under the configured cache name.
type Cache struct {
	client *redis.Client
	opts   *cache.Options
}

// New connects to a redis://, rediss:// or valkey:// dsn and pings it.
func New(opts ...cache.Option) (*Cache, error) {
	o := cache.NewOptions(opts...)
	if !o.DSN.IsRedis() && !o.DSN.IsValkey() {
		return nil, cache.ErrUnsupportedDSN
	}

	parsed, err := redis.ParseURL(o.DSN.ToRedisURL())
	if err != nil {
		return nil, err
	}
	if o.Name != "" {
		parsed.ClientName = o.Name
	}
	client := redis.NewClient(parsed)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", parsed.Addr, err)
	}

	return &Cache{client: client, opts: o}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.opts.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value for ttl, or for the cache max age when ttl is zero.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.MaxAge
	}
	return c.client.Set(ctx, c.opts.Key(key), value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.opts.Key(key)).Err()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.opts.Key(key)).Result()
	return n > 0, err
}

func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.client.IncrBy(ctx, c.opts.Key(key), delta).Result()
}

func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Expire(ctx, c.opts.Key(key), ttl).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
