package visitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/portal/broadcast"
)

func TestRegistryObtainIsStable(t *testing.T) {
	r := NewRegistry(time.Minute)

	a := r.Obtain("one")
	b := r.Obtain("one")
	require.Same(t, a, b)
	require.Equal(t, 1, r.Len())

	_, ok := r.Get("two")
	require.False(t, ok)
}

func TestRegistrySweepEvictsIdleScopes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(time.Minute)
	r.now = func() time.Time { return now }

	stale := r.Obtain("stale")
	stale.Mount("content", broadcast.NewCallback("cases", nil))

	now = now.Add(45 * time.Second)
	r.Obtain("fresh")

	now = now.Add(30 * time.Second)
	require.Equal(t, 1, r.Sweep())

	_, ok := r.Get("stale")
	require.False(t, ok)
	_, ok = r.Get("fresh")
	require.True(t, ok)
	require.Equal(t, 0, stale.Hub().Len())
}

func TestRegistryEvict(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Obtain("one")
	s.Mount("content", broadcast.NewCallback("cases", nil))

	r.Evict("one")
	r.Evict("one")

	require.Equal(t, 0, r.Len())
	require.Equal(t, 0, s.Hub().Len())
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
