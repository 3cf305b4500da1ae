package cache

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// inMemoryCacheItem represents a cache item with expiration.
type inMemoryCacheItem struct {
	value      []byte
	expiration time.Time
}

func (i *inMemoryCacheItem) isExpired(now time.Time) bool {
	if i.expiration.IsZero() {
		return false
	}
	return now.After(i.expiration)
}

// InMemoryCache is a thread-safe in-memory cache implementation.
type InMemoryCache struct {
	items      sync.Map // map[string]*inMemoryCacheItem
	counterMu  sync.Mutex
	closeOnce  sync.Once
	stopClean  chan struct{}
	cleanupInt time.Duration
}

const (
	defaultCleanupInterval = 5 * time.Minute
	int64Size              = 8
)

// NewInMemoryCache creates a new in-memory cache and starts its janitor.
func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		stopClean:  make(chan struct{}),
		cleanupInt: defaultCleanupInterval,
	}

	go c.startCleanup()

	return c
}

func (c *InMemoryCache) startCleanup() {
	ticker := time.NewTicker(c.cleanupInt)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopClean:
			return
		}
	}
}

func (c *InMemoryCache) cleanup() {
	now := time.Now()
	c.items.Range(func(key, value any) bool {
		item, ok := value.(*inMemoryCacheItem)
		if ok && item.isExpired(now) {
			c.items.Delete(key)
		}
		return true
	})
}

func (c *InMemoryCache) load(key string) (*inMemoryCacheItem, bool) {
	value, ok := c.items.Load(key)
	if !ok {
		return nil, false
	}

	item, ok := value.(*inMemoryCacheItem)
	if !ok || item.isExpired(time.Now()) {
		c.items.Delete(key)
		return nil, false
	}
	return item, true
}

// Get retrieves an item from the cache.
func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := c.load(key)
	if !ok {
		return nil, false, nil
	}
	return item.value, true, nil
}

// Set sets an item in the cache with the specified TTL, zero means no expiry.
func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := &inMemoryCacheItem{value: value}
	if ttl > 0 {
		item.expiration = time.Now().Add(ttl)
	}

	c.items.Store(key, item)
	return nil
}

// Delete removes an item from the cache.
func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	c.items.Delete(key)
	return nil
}

// Exists checks if a live key exists in the cache.
func (c *InMemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := c.load(key)
	return ok, nil
}

// Close stops the cleanup goroutine.
func (c *InMemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopClean)
	})
	return nil
}

// Increment atomically increments a counter, keeping any existing expiry.
func (c *InMemoryCache) Increment(_ context.Context, key string, delta int64) (int64, error) {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()

	var current int64
	var expiration time.Time
	if item, ok := c.load(key); ok {
		expiration = item.expiration
		if len(item.value) >= int64Size {
			current = int64(binary.BigEndian.Uint64(item.value)) //nolint:gosec // counter values
		}
	}

	next := current + delta
	buf := make([]byte, int64Size)
	binary.BigEndian.PutUint64(buf, uint64(next)) //nolint:gosec // counter values

	c.items.Store(key, &inMemoryCacheItem{value: buf, expiration: expiration})
	return next, nil
}

// Expire updates the TTL of an existing key.
func (c *InMemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.counterMu.Lock()
	defer c.counterMu.Unlock()

	item, ok := c.load(key)
	if !ok {
		return nil
	}
	c.items.Store(key, &inMemoryCacheItem{value: item.value, expiration: time.Now().Add(ttl)})
	return nil
}
