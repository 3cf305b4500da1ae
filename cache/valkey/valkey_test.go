package valkey_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/cache/cachetest"
	cacheredis "github.com/pitabwire/portal/cache/redis"
	cachevalkey "github.com/pitabwire/portal/cache/valkey"
)

func TestValkeyRejectsUnknownScheme(t *testing.T) {
	_, err := cachevalkey.New(cache.WithDSN("mem://portal"))
	require.ErrorIs(t, err, cache.ErrUnsupportedDSN)
}

func TestValkeyConformance(t *testing.T) {
	dsn := cachetest.ValkeyDSN(t)

	raw, err := cachevalkey.New(cache.WithDSN(dsn), cache.WithMaxAge(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	cachetest.RunConformance(t, raw)
}

func TestValkeyKeysStayUnderCacheName(t *testing.T) {
	dsn := cachetest.ValkeyDSN(t)

	cachetest.RunNamespacing(t, func(name string) cache.RawCache {
		raw, err := cachevalkey.New(cache.WithDSN(dsn), cache.WithName(name))
		require.NoError(t, err)
		t.Cleanup(func() { _ = raw.Close() })
		return raw
	})
}

func TestValkeyReadsWhatRedisWrote(t *testing.T) {
	dsn := cachetest.ValkeyDSN(t)
	ctx := context.Background()

	writer, err := cacheredis.New(cache.WithDSN(dsn), cache.WithName("portal"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	reader, err := cachevalkey.New(cache.WithDSN(dsn), cache.WithName("portal"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	require.NoError(t, writer.Set(ctx, "session:token", []byte(`{"ok":true}`), time.Minute))

	val, found, err := reader.Get(ctx, "session:token")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"ok":true}`, string(val))
}
