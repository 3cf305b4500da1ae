package portal

import (
	"context"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/cache/redis"
	"github.com/pitabwire/portal/cache/valkey"
)

// OpenCache connects the cache named by dsn: mem:// keeps everything in
// process, redis:// and rediss:// use go-redis, valkey:// uses valkey-go.
func OpenCache(ctx context.Context, dsn cache.DSN) (cache.RawCache, error) {
	opts := []cache.Option{cache.WithDSN(dsn), cache.WithName("portal")}

	var (
		raw cache.RawCache
		err error
	)
	switch {
	case dsn.IsMem():
		raw = cache.NewInMemoryCache()
	case dsn.IsRedis():
		raw, err = redis.New(opts...)
	case dsn.IsValkey():
		raw, err = valkey.New(opts...)
	default:
		return nil, fmt.Errorf("%w: scheme %q", cache.ErrUnsupportedDSN, dsn.Scheme())
	}
	if err != nil {
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	util.Log(ctx).WithField("scheme", dsn.Scheme()).Debug("cache connected")
	return raw, nil
}
