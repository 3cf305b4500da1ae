package localization

import (
	"context"
	"time"

	"github.com/pitabwire/portal/cache"
)

const localeKeyPrefix = "locale"

// Store persists the last resolved locale code of a visitor across sessions.
type Store interface {
	Load(ctx context.Context, visitorID string) (string, bool, error)
	Save(ctx context.Context, visitorID string, code string) error
}

type cacheStore struct {
	raw cache.RawCache
	key func(string) string
	ttl time.Duration
}

// NewCacheStore keeps one key per visitor in raw, refreshed on every save.
func NewCacheStore(raw cache.RawCache, ttl time.Duration) Store {
	return &cacheStore{raw: raw, key: cache.Prefixed(localeKeyPrefix), ttl: ttl}
}

func (s *cacheStore) Load(ctx context.Context, visitorID string) (string, bool, error) {
	if visitorID == "" {
		return "", false, nil
	}
	val, found, err := s.raw.Get(ctx, s.key(visitorID))
	if err != nil || !found {
		return "", false, err
	}
	return string(val), true, nil
}

func (s *cacheStore) Save(ctx context.Context, visitorID string, code string) error {
	if visitorID == "" {
		return nil
	}
	return s.raw.Set(ctx, s.key(visitorID), []byte(code), s.ttl)
}
