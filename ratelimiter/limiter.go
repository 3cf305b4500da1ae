// Package ratelimiter throttles requests with fixed-window counters kept in
// the portal cache, so limits hold across replicas sharing redis or valkey.
package ratelimiter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/cache"
)

const (
	defaultWindowPrefix = "ratelimit"
	defaultIPPrefix     = "ratelimit:ip"
	windowTTLOffset     = time.Second
)

var ErrCacheRequired = errors.New("cache backend is required")

// WindowConfig defines fixed-window counter limiter settings.
type WindowConfig struct {
	WindowDuration time.Duration
	MaxPerWindow   int
	KeyPrefix      string
	FailOpen       bool
}

// DefaultWindowConfig returns conservative limiter defaults.
func DefaultWindowConfig() *WindowConfig {
	return &WindowConfig{
		WindowDuration: time.Minute,
		MaxPerWindow:   600,
		KeyPrefix:      defaultWindowPrefix,
		FailOpen:       false,
	}
}

// WindowLimiter enforces per-key fixed-window limits using atomic cache increments.
type WindowLimiter struct {
	cache  cache.RawCache
	config WindowConfig
	now    func() time.Time
}

// NewWindowLimiter creates a cache-backed window limiter.
func NewWindowLimiter(raw cache.RawCache, cfg *WindowConfig) (*WindowLimiter, error) {
	if raw == nil {
		return nil, ErrCacheRequired
	}
	return &WindowLimiter{cache: raw, config: normalizeWindowConfig(cfg), now: time.Now}, nil
}

func (wl *WindowLimiter) Config() WindowConfig {
	return wl.config
}

// Allow checks whether key is still within the configured window limit.
func (wl *WindowLimiter) Allow(ctx context.Context, key string) bool {
	if wl == nil || wl.cache == nil {
		return true
	}

	bucketKey := wl.bucketKey(normalizeKey(key), wl.now().UTC())
	count, err := wl.cache.Increment(ctx, bucketKey, 1)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("fail_open", wl.config.FailOpen).Warn("rate limit counter unavailable")
		return wl.config.FailOpen
	}

	if count == 1 {
		if err = wl.cache.Expire(ctx, bucketKey, wl.config.WindowDuration+windowTTLOffset); err != nil {
			util.Log(ctx).WithError(err).Debug("could not set rate limit window expiry")
		}
	}

	return count <= int64(wl.config.MaxPerWindow)
}

// RetryAfter is the number of seconds until the current window closes.
func (wl *WindowLimiter) RetryAfter() int {
	window := int64(wl.config.WindowDuration.Seconds())
	if window <= 0 {
		window = 60
	}
	remaining := window - wl.now().UTC().Unix()%window
	return int(max(remaining, 1))
}

func (wl *WindowLimiter) bucketKey(key string, now time.Time) string {
	windowSeconds := int64(wl.config.WindowDuration.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	bucket := now.Unix() / windowSeconds

	buf := make([]byte, 0, len(wl.config.KeyPrefix)+len(key)+24)
	buf = append(buf, wl.config.KeyPrefix...)
	buf = append(buf, ':')
	buf = append(buf, key...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, bucket, 10)
	return string(buf)
}

func normalizeKey(key string) string {
	if key == "" {
		return "unknown"
	}
	return key
}

func normalizeWindowConfig(cfg *WindowConfig) WindowConfig {
	if cfg == nil {
		return *DefaultWindowConfig()
	}

	result := *cfg
	if result.WindowDuration <= 0 {
		result.WindowDuration = time.Minute
	}
	if result.MaxPerWindow <= 0 {
		result.MaxPerWindow = 600
	}
	if result.KeyPrefix == "" {
		result.KeyPrefix = defaultWindowPrefix
	}

	return result
}
