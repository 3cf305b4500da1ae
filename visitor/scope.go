// Package visitor keeps the per-visitor state of the portal: the active
// locale, the document attributes, the refetch hub and the mounted views.
package visitor

import (
	"sync"
	"time"

	"github.com/pitabwire/portal/broadcast"
	"github.com/pitabwire/portal/localization"
)

// Document holds the attributes rendered on the root html element.
type Document struct {
	Lang string
	Dir  localization.Direction
}

// Scope is the state owned by one visitor.
type Scope struct {
	id  string
	hub *broadcast.Hub

	mu       sync.Mutex
	current  localization.Locale
	document Document
	mounted  map[string]mount
	lastSeen time.Time
}

// NewScope creates an empty scope for id.
func NewScope(id string) *Scope {
	return &Scope{
		id:       id,
		hub:      broadcast.NewHub(),
		mounted:  make(map[string]mount),
		lastSeen: time.Now(),
	}
}

func (s *Scope) ID() string {
	return s.id
}

func (s *Scope) Hub() *broadcast.Hub {
	return s.hub
}

// Locale returns the active locale, false until one was activated.
func (s *Scope) Locale() (localization.Locale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, !s.current.IsZero()
}

// Activate makes locale active and updates the document attributes.
// changed is true only when a different locale was active before.
func (s *Scope) Activate(locale localization.Locale) (localization.Locale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.current
	s.current = locale
	s.document = Document{Lang: locale.Code, Dir: locale.Direction}

	return prior, !prior.IsZero() && prior.Code != locale.Code
}

func (s *Scope) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

type mount struct {
	cb         *broadcast.Callback
	unregister func()
}

// Mount registers cb on the hub under slot, replacing whatever the slot
// held before. Mounting the callback a slot already holds is a no-op.
func (s *Scope) Mount(slot string, cb *broadcast.Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.mounted[slot]
	if ok && previous.cb == cb {
		return
	}

	s.mounted[slot] = mount{cb: cb, unregister: s.hub.Register(cb)}
	if ok {
		previous.unregister()
	}
}

// Unmount removes the callback held by slot, if any.
func (s *Scope) Unmount(slot string) {
	s.mu.Lock()
	held, ok := s.mounted[slot]
	delete(s.mounted, slot)
	s.mu.Unlock()

	if ok {
		held.unregister()
	}
}

// Close unmounts every slot.
func (s *Scope) Close() {
	s.mu.Lock()
	mounted := s.mounted
	s.mounted = make(map[string]mount)
	s.mu.Unlock()

	for _, held := range mounted {
		held.unregister()
	}
}

func (s *Scope) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Scope) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}
