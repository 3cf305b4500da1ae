package redis_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/cache/cachetest"
	cacheredis "github.com/pitabwire/portal/cache/redis"
)

func TestRedisRejectsUnknownScheme(t *testing.T) {
	_, err := cacheredis.New(cache.WithDSN("mem://portal"))
	require.ErrorIs(t, err, cache.ErrUnsupportedDSN)
}

func TestRedisConformance(t *testing.T) {
	dsn := cachetest.ValkeyDSN(t)

	raw, err := cacheredis.New(cache.WithDSN(dsn), cache.WithMaxAge(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	cachetest.RunConformance(t, raw)
}

func TestRedisKeysStayUnderCacheName(t *testing.T) {
	dsn := cachetest.ValkeyDSN(t)

	cachetest.RunNamespacing(t, func(name string) cache.RawCache {
		raw, err := cacheredis.New(cache.WithDSN(dsn), cache.WithName(name))
		require.NoError(t, err)
		t.Cleanup(func() { _ = raw.Close() })
		return raw
	})
}
