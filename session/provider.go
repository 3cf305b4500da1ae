package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/workerpool"
)

const (
	defaultResolveWait = 250 * time.Millisecond
	defaultPositiveTTL = 5 * time.Minute
	defaultNegativeTTL = time.Minute
	sessionKeyPrefix   = "session"
)

type cachedSession struct {
	User *User `json:"user"`
}

// Provider turns request tokens into session snapshots. Tokens are resolved
// on the worker pool; callers wait at most the configured duration and get a
// loading snapshot otherwise.
type Provider struct {
	resolver Resolver
	pool     workerpool.Pool
	sessions cache.Cache[string, cachedSession]
	wait     time.Duration

	positiveTTL time.Duration
	negativeTTL time.Duration

	mu       sync.Mutex
	inflight map[string]*workerpool.Job[*User]
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithResolveWait sets how long Snapshot blocks on an unresolved token.
func WithResolveWait(wait time.Duration) ProviderOption {
	return func(p *Provider) {
		p.wait = wait
	}
}

// WithCacheTTL sets how long resolved and rejected tokens are remembered.
func WithCacheTTL(positive, negative time.Duration) ProviderOption {
	return func(p *Provider) {
		p.positiveTTL = positive
		p.negativeTTL = negative
	}
}

func NewProvider(resolver Resolver, pool workerpool.Pool, raw cache.RawCache, opts ...ProviderOption) *Provider {
	p := &Provider{
		resolver:    resolver,
		pool:        pool,
		wait:        defaultResolveWait,
		sessions:    cache.NewGenericCache[string, cachedSession](raw, cache.Prefixed(sessionKeyPrefix)),
		positiveTTL: defaultPositiveTTL,
		negativeTTL: defaultNegativeTTL,
		inflight:    make(map[string]*workerpool.Job[*User]),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Snapshot reports the session for token.
func (p *Provider) Snapshot(ctx context.Context, token string) Snapshot {
	if token == "" {
		return Snapshot{}
	}

	key := tokenKey(token)
	if cached, found, err := p.sessions.Get(ctx, key); err != nil {
		util.Log(ctx).WithError(err).Warn("could not read cached session")
	} else if found {
		return Snapshot{User: cached.User, Token: token}
	}

	job := p.resolution(ctx, key, token)
	if job == nil {
		return Snapshot{User: p.resolveNow(ctx, key, token), Token: token}
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.wait)
	defer cancel()

	user, err := job.Await(waitCtx)
	if err != nil {
		return Snapshot{Loading: true, Token: token}
	}
	return Snapshot{User: user, Token: token}
}

// resolution returns the job resolving token, starting one when none is in
// flight. It returns nil when the pool refuses work.
func (p *Provider) resolution(ctx context.Context, key, token string) *workerpool.Job[*User] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if job, ok := p.inflight[key]; ok {
		return job
	}

	jobCtx := context.WithoutCancel(ctx)
	job := workerpool.NewJob(func(ctx context.Context) (*User, error) {
		defer p.settle(key)
		return p.resolveNow(ctx, key, token), nil
	})

	if err := workerpool.Submit(jobCtx, p.pool, job); err != nil {
		util.Log(ctx).WithError(err).Debug("worker pool refused session resolution, resolving inline")
		return nil
	}

	p.inflight[key] = job
	return job
}

func (p *Provider) settle(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

func (p *Provider) resolveNow(ctx context.Context, key, token string) *User {
	user, err := p.resolver.Resolve(ctx, token)
	ttl := p.positiveTTL
	if err != nil {
		util.Log(ctx).WithError(err).Debug("session token rejected")
		user = nil
		ttl = p.negativeTTL
	}

	if setErr := p.sessions.Set(ctx, key, cachedSession{User: user}, ttl); setErr != nil {
		util.Log(ctx).WithError(setErr).Warn("could not cache session")
	}
	return user
}

// Forget drops whatever is cached for token.
func (p *Provider) Forget(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := p.sessions.Delete(ctx, tokenKey(token)); err != nil {
		util.Log(ctx).WithError(err).Warn("could not evict cached session")
	}
}

// Middleware attaches the snapshot for the request token to the request context.
func Middleware(provider *Provider, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			snapshot := provider.Snapshot(ctx, TokenFromRequest(r, cookieName))
			next.ServeHTTP(w, r.WithContext(ToContext(ctx, snapshot)))
		})
	}
}
