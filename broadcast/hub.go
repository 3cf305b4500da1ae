// Package broadcast fans a locale change out to every mounted data view of a visitor.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/pitabwire/util"
)

// Callback re-fetches the data a view shows. Identity is the pointer, so the
// same *Callback registered twice is held once.
type Callback struct {
	Name string
	Fn   func(ctx context.Context) error
}

// NewCallback wraps fn under a name used in logs.
func NewCallback(name string, fn func(ctx context.Context) error) *Callback {
	return &Callback{Name: name, Fn: fn}
}

// Hub is a set of callbacks triggered together.
type Hub struct {
	mu        sync.Mutex
	callbacks map[*Callback]struct{}
	order     []*Callback
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{callbacks: make(map[*Callback]struct{})}
}

// Register adds cb to the set and returns a function removing it again.
// Calling the returned function more than once is a no-op.
func (h *Hub) Register(cb *Callback) func() {
	if cb == nil {
		return func() {}
	}

	h.mu.Lock()
	if _, ok := h.callbacks[cb]; !ok {
		h.callbacks[cb] = struct{}{}
		h.order = append(h.order, cb)
	}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(cb) })
	}
}

func (h *Hub) remove(cb *Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.callbacks[cb]; !ok {
		return
	}
	delete(h.callbacks, cb)
	for i, c := range h.order {
		if c == cb {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Len reports how many callbacks are registered.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// Contains reports whether cb is registered.
func (h *Hub) Contains(cb *Callback) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.callbacks[cb]
	return ok
}

// TriggerAll invokes every callback registered when the call starts. Callers
// must not rely on the order callbacks run in. A failing or panicking
// callback is logged and does not stop the rest. It returns how many
// callbacks ran without failure.
func (h *Hub) TriggerAll(ctx context.Context) int {
	h.mu.Lock()
	snapshot := make([]*Callback, len(h.order))
	copy(snapshot, h.order)
	h.mu.Unlock()

	succeeded := 0
	for _, cb := range snapshot {
		if err := invoke(ctx, cb); err != nil {
			util.Log(ctx).WithError(err).WithField("callback", cb.Name).Warn("refetch callback failed")
			continue
		}
		succeeded++
	}
	return succeeded
}

func invoke(ctx context.Context, cb *Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()

	if cb.Fn == nil {
		return nil
	}
	return cb.Fn(ctx)
}
