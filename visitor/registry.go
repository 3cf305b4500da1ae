package visitor

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

const minSweepInterval = time.Second

// Registry owns every live scope and evicts the idle ones.
type Registry struct {
	mu      sync.Mutex
	scopes  map[string]*Scope
	idleTTL time.Duration
	now     func() time.Time
}

// NewRegistry creates a registry evicting scopes idle longer than idleTTL.
func NewRegistry(idleTTL time.Duration) *Registry {
	return &Registry{
		scopes:  make(map[string]*Scope),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Get returns the scope for id without creating it.
func (r *Registry) Get(id string) (*Scope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[id]
	return s, ok
}

// Obtain returns the scope for id, creating it when missing, and marks it as seen.
func (r *Registry) Obtain(id string) *Scope {
	now := r.now()

	r.mu.Lock()
	s, ok := r.scopes[id]
	if !ok {
		s = NewScope(id)
		r.scopes[id] = s
	}
	r.mu.Unlock()

	s.touch(now)
	return s
}

// Evict drops the scope for id.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	s, ok := r.scopes[id]
	delete(r.scopes, id)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scopes)
}

// Sweep evicts every scope idle for longer than the configured ttl and
// reports how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var idle []*Scope
	for id, s := range r.scopes {
		if s.idleSince(now) > r.idleTTL {
			idle = append(idle, s)
			delete(r.scopes, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := max(r.idleTTL/2, minSweepInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				util.Log(ctx).WithField("evicted", n).Debug("evicted idle visitor scopes")
			}
		}
	}
}
