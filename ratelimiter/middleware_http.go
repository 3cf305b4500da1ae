package ratelimiter

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/cache"
)

// NewIPRateLimiter creates a window limiter keyed by caller ip.
func NewIPRateLimiter(raw cache.RawCache, cfg *WindowConfig) (*WindowLimiter, error) {
	c := normalizeWindowConfig(cfg)
	if c.KeyPrefix == defaultWindowPrefix {
		c.KeyPrefix = defaultIPPrefix
	}
	return NewWindowLimiter(raw, &c)
}

// GetIP extracts caller IP from request headers/remote address.
func GetIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	ip := util.GetIP(r)
	if ip == "" {
		return "unknown"
	}
	return ip
}

type middlewareOptions struct {
	methods  []string
	rejected http.Handler
}

// MiddlewareOption configures RateLimitMiddleware.
type MiddlewareOption func(*middlewareOptions)

// WithMethods limits only requests using one of methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.methods = methods
	}
}

// WithRejectHandler renders the body of throttled requests. Status and
// Retry-After are already set when it runs.
func WithRejectHandler(h http.Handler) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.rejected = h
	}
}

// RateLimitMiddleware applies per-ip limiting and answers 429 once the window is spent.
func RateLimitMiddleware(limiter *WindowLimiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := &middlewareOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || (len(o.methods) > 0 && !slices.Contains(o.methods, r.Method)) {
				next.ServeHTTP(w, r)
				return
			}

			cfg := limiter.Config()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxPerWindow))

			ip := GetIP(r)
			if limiter.Allow(r.Context(), ip) {
				next.ServeHTTP(w, r)
				return
			}

			util.Log(r.Context()).WithField("ip", ip).WithField("path", r.URL.Path).Info("request rate limited")

			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
			if o.rejected != nil {
				w.WriteHeader(http.StatusTooManyRequests)
				o.rejected.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": "rate limit exceeded", "code": "rate_limit_exceeded"}`))
		})
	}
}
