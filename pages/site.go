// Package pages renders the portal: the layout shell, the data views that
// follow locale changes, the sign in pages and the locale api.
package pages

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/portal/backend"
	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/ratelimiter"
	"github.com/pitabwire/portal/routing"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/visitor"
)

const (
	contentSlot        = "content"
	defaultViewTTL     = 30 * time.Second
	defaultSessionName = "portal_token"
)

var (
	ErrMissingRegistry = errors.New("pages need a locale registry")
	ErrMissingGate     = errors.New("pages need a locale gate")
	ErrMissingBackend  = errors.New("pages need a backend")
	ErrMissingMessages = errors.New("pages need a translation manager")
)

// Site holds what the page handlers share.
type Site struct {
	registry *localization.Registry
	messages localization.Manager
	gate     *routing.LocaleGate
	api      backend.API

	directory *session.Directory
	issuer    *session.TokenIssuer
	sessions  *session.Provider

	sessionCookie string
	secureCookies bool

	loginLimiter *ratelimiter.WindowLimiter

	memo    cache.RawCache
	viewTTL time.Duration

	templates *templates
}

// Option configures a Site.
type Option func(*Site)

// WithAccounts enables signing in against directory with tokens from issuer.
func WithAccounts(directory *session.Directory, issuer *session.TokenIssuer) Option {
	return func(s *Site) {
		s.directory = directory
		s.issuer = issuer
	}
}

// WithSessions lets sign out evict the cached session of a token.
func WithSessions(provider *session.Provider) Option {
	return func(s *Site) {
		s.sessions = provider
	}
}

// WithSessionCookie names the cookie carrying the session token.
func WithSessionCookie(name string, secure bool) Option {
	return func(s *Site) {
		s.sessionCookie = name
		s.secureCookies = secure
	}
}

// WithLoginLimiter throttles sign in attempts per caller.
func WithLoginLimiter(limiter *ratelimiter.WindowLimiter) Option {
	return func(s *Site) {
		s.loginLimiter = limiter
	}
}

// WithViewCache keeps loaded view data in raw for ttl, so a refetch after a
// locale change is served on the next render.
func WithViewCache(raw cache.RawCache, ttl time.Duration) Option {
	return func(s *Site) {
		s.memo = raw
		if ttl > 0 {
			s.viewTTL = ttl
		}
	}
}

func NewSite(
	registry *localization.Registry,
	messages localization.Manager,
	gate *routing.LocaleGate,
	api backend.API,
	opts ...Option,
) (*Site, error) {
	switch {
	case registry == nil:
		return nil, ErrMissingRegistry
	case messages == nil:
		return nil, ErrMissingMessages
	case gate == nil:
		return nil, ErrMissingGate
	case api == nil:
		return nil, ErrMissingBackend
	}

	tpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	s := &Site{
		registry:      registry,
		messages:      messages,
		gate:          gate,
		api:           api,
		sessionCookie: defaultSessionName,
		viewTTL:       defaultViewTTL,
		templates:     tpl,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LocaleLink points at the current page in another locale.
type LocaleLink struct {
	Code   string
	Href   string
	Active bool
}

// Shell is what the layout needs to frame any page.
type Shell struct {
	ctx      context.Context
	messages localization.Manager

	Lang    string
	Dir     localization.Direction
	Code    string
	User    *session.User
	Locales []LocaleLink
}

// T translates id into the page locale.
func (sh *Shell) T(id string) string {
	return sh.messages.Translate(sh.ctx, sh.Code, id)
}

// TCount translates a plural message id for count.
func (sh *Shell) TCount(id string, count int) string {
	return sh.messages.TranslateWithMapAndCount(sh.ctx, sh.Code, id, map[string]any{"Count": count}, count)
}

// Welcome greets the signed in user.
func (sh *Shell) Welcome() string {
	name := ""
	if sh.User != nil {
		name = sh.User.Name
	}
	return sh.messages.TranslateWithMap(sh.ctx, sh.Code, "Welcome", map[string]any{"Name": name})
}

// Href is path under the page locale.
func (sh *Shell) Href(path string) string {
	return "/" + sh.Code + path
}

func (sh *Shell) Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func (sh *Shell) DateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

type shellKey struct{}

func shellFromContext(ctx context.Context) (*Shell, bool) {
	sh, ok := ctx.Value(shellKey{}).(*Shell)
	return sh, ok
}

// rest strips the locale segment from path.
func rest(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	_, after, found := strings.Cut(trimmed, "/")
	if !found {
		return ""
	}
	return "/" + after
}

func (s *Site) shell(r *http.Request) *Shell {
	ctx := r.Context()
	if sh, ok := shellFromContext(ctx); ok {
		return sh
	}

	locale, ok := localization.FromContext(ctx)
	if !ok {
		locale = s.registry.Default()
	}

	sh := &Shell{
		ctx:      ctx,
		messages: s.messages,
		Lang:     locale.Code,
		Dir:      locale.Direction,
		Code:     locale.Code,
	}

	if scope, found := visitor.FromContext(ctx); found {
		doc := scope.Document()
		if doc.Lang != "" {
			sh.Lang, sh.Dir = doc.Lang, doc.Dir
		}
	}

	sh.User = session.UserFromContext(ctx)
	if sh.User == nil {
		if snapshot, found := session.FromContext(ctx); found && snapshot.Authenticated() {
			sh.User = snapshot.User
		}
	}

	tail := rest(r.URL.Path)
	for _, code := range s.registry.Codes() {
		sh.Locales = append(sh.Locales, LocaleLink{Code: code, Href: "/" + code + tail, Active: code == locale.Code})
	}
	return sh
}

// Layout frames page with the shell of the requesting visitor.
func (s *Site) Layout(page http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sh := s.shell(r)
		w.Header().Add("Vary", "Cookie")
		w.Header().Set("Cache-Control", "no-store")
		page.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), shellKey{}, sh)))
	})
}
