package cache

import (
	"net/url"
	"strings"
	"time"
)

// Constants for supported cache schemes.
const (
	MemScheme    = "mem"
	RedisScheme  = "redis"
	RedissScheme = "rediss"
	ValkeyScheme = "valkey"
)

// A DSN for conveniently handling a cache connection string.
type DSN string

func (d DSN) String() string {
	return string(d)
}

// Scheme is the lower-cased url scheme of the dsn.
func (d DSN) Scheme() string {
	u, err := url.Parse(string(d))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (d DSN) IsMem() bool {
	return d.Scheme() == MemScheme
}

func (d DSN) IsRedis() bool {
	s := d.Scheme()
	return s == RedisScheme || s == RedissScheme
}

func (d DSN) IsValkey() bool {
	return d.Scheme() == ValkeyScheme
}

// ToRedisURL rewrites a valkey:// dsn into the redis:// form understood by client libraries.
func (d DSN) ToRedisURL() string {
	if d.IsValkey() {
		return RedisScheme + strings.TrimPrefix(string(d), ValkeyScheme)
	}
	return string(d)
}

// Option configures cache connection settings.
type Option func(*Options)

// Options holds cache connection configuration.
type Options struct {
	DSN    DSN
	Name   string
	MaxAge time.Duration
}

func WithDSN(dsn DSN) Option {
	return func(o *Options) {
		o.DSN = dsn
	}
}

func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithMaxAge returns an Option to configure the max age of the cache.
func WithMaxAge(maxAge time.Duration) Option {
	return func(o *Options) {
		o.MaxAge = maxAge
	}
}

// Key places key under the cache name so several portals can share one
// server. An unnamed cache uses key as is.
func (o *Options) Key(key string) string {
	if o.Name == "" {
		return key
	}
	return o.Name + ":" + key
}

// NewOptions applies opts over defaults.
func NewOptions(opts ...Option) *Options {
	o := &Options{MaxAge: time.Hour}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
