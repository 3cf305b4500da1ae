// Package cachetest holds a backend-agnostic conformance suite for cache.RawCache
// and a helper that provisions a valkey container for integration runs.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcvalkey "github.com/testcontainers/testcontainers-go/modules/valkey"

	"github.com/pitabwire/portal/cache"
)

const ValkeyImage = "docker.io/valkey/valkey:8"

// ValkeyDSN starts a throwaway valkey container and returns its redis:// dsn.
// The test is skipped under -short or when no container runtime is reachable.
func ValkeyDSN(t *testing.T) cache.DSN {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container backed cache test in short mode")
	}

	ctx := context.Background()
	container, err := tcvalkey.Run(ctx, ValkeyImage)
	if err != nil {
		t.Skipf("valkey container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	conn, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	return cache.DSN(conn)
}

// RunConformance exercises the RawCache contract against raw.
func RunConformance(t *testing.T, raw cache.RawCache) {
	t.Helper()
	ctx := context.Background()

	t.Run("set get exists delete", func(t *testing.T) {
		require.NoError(t, raw.Set(ctx, "conf:key", []byte("value"), time.Minute))

		val, found, err := raw.Get(ctx, "conf:key")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte("value"), val)

		exists, err := raw.Exists(ctx, "conf:key")
		require.NoError(t, err)
		require.True(t, exists)

		require.NoError(t, raw.Delete(ctx, "conf:key"))

		_, found, err = raw.Get(ctx, "conf:key")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("missing key", func(t *testing.T) {
		val, found, err := raw.Get(ctx, "conf:missing")
		require.NoError(t, err)
		require.False(t, found)
		require.Nil(t, val)
	})

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, raw.Set(ctx, "conf:ttl", []byte("v"), time.Second))
		require.Eventually(t, func() bool {
			exists, err := raw.Exists(ctx, "conf:ttl")
			return err == nil && !exists
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("increment and expire", func(t *testing.T) {
		n, err := raw.Increment(ctx, "conf:counter", 2)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		n, err = raw.Increment(ctx, "conf:counter", 3)
		require.NoError(t, err)
		require.Equal(t, int64(5), n)

		require.NoError(t, raw.Expire(ctx, "conf:counter", time.Second))
		require.Eventually(t, func() bool {
			exists, existsErr := raw.Exists(ctx, "conf:counter")
			return existsErr == nil && !exists
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("typed view", func(t *testing.T) {
		type record struct {
			Code string `json:"code"`
		}
		typed := cache.NewGenericCache[string, record](raw, cache.Prefixed("conf:typed"))

		require.NoError(t, typed.Set(ctx, "a", record{Code: "ar"}, time.Minute))
		got, found, err := typed.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "ar", got.Code)

		exists, err := raw.Exists(ctx, "conf:typed:a")
		require.NoError(t, err)
		require.True(t, exists)

		require.NoError(t, typed.Delete(ctx, "a"))
		_, found, err = typed.Get(ctx, "a")
		require.NoError(t, err)
		require.False(t, found)
	})
}

// RunNamespacing checks that caches opened by open under different names
// do not see each other's keys.
func RunNamespacing(t *testing.T, open func(name string) cache.RawCache) {
	t.Helper()
	ctx := context.Background()

	first, second := open("portal-a"), open("portal-b")

	require.NoError(t, first.Set(ctx, "locale:visitor", []byte("ar"), time.Minute))
	require.NoError(t, second.Set(ctx, "locale:visitor", []byte("fr"), time.Minute))

	val, found, err := first.Get(ctx, "locale:visitor")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("ar"), val)

	require.NoError(t, second.Delete(ctx, "locale:visitor"))

	exists, err := first.Exists(ctx, "locale:visitor")
	require.NoError(t, err)
	require.True(t, exists)
}
