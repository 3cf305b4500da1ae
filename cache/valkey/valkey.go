// Package valkey stores the portal cache in Valkey through valkey-go.
package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/pitabwire/portal/cache"
)

const pingTimeout = 5 * time.Second

// Cache keeps every key under the configured cache name.
type Cache struct {
	client valkey.Client
	opts   *cache.Options
}

// New connects to a redis://, rediss:// or valkey:// dsn and pings it.
func New(opts ...cache.Option) (*Cache, error) {
	o := cache.NewOptions(opts...)
	if !o.DSN.IsRedis() && !o.DSN.IsValkey() {
		return nil, cache.ErrUnsupportedDSN
	}

	parsed, err := valkey.ParseURL(o.DSN.ToRedisURL())
	if err != nil {
		return nil, err
	}
	if o.Name != "" {
		parsed.ClientName = o.Name
	}
	client, err := valkey.NewClient(parsed)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err = client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping %v: %w", parsed.InitAddress, err)
	}

	return &Cache{client: client, opts: o}, nil
}

// seconds rounds ttl down to whole seconds, at least one.
func seconds(ttl time.Duration) int64 {
	return max(int64(ttl/time.Second), 1)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Do(ctx, c.client.B().Get().Key(c.opts.Key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
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
	set := c.client.B().Set().Key(c.opts.Key(key)).Value(valkey.BinaryString(value))
	if ttl <= 0 {
		return c.client.Do(ctx, set.Build()).Error()
	}
	return c.client.Do(ctx, set.ExSeconds(seconds(ttl)).Build()).Error()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.opts.Key(key)).Build()).Error()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.opts.Key(key)).Build()).AsInt64()
	return n > 0, err
}

func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.client.Do(ctx, c.client.B().Incrby().Key(c.opts.Key(key)).Increment(delta).Build()).AsInt64()
}

func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Do(ctx, c.client.B().Expire().Key(c.opts.Key(key)).Seconds(seconds(ttl)).Build()).Error()
}

func (c *Cache) Close() error {
	c.client.Close()
	return nil
}
