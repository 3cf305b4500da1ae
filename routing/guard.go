package routing

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/telemetry"
)

// NextParam is the query parameter carrying the location to return to after login.
const NextParam = "next"

// Decision is the outcome of the route guard for one request.
type Decision int

const (
	Pending Decision = iota
	Denied
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "pending"
	case Denied:
		return "denied"
	case Allowed:
		return "allowed"
	default:
		return "unknown"
	}
}

// Decide maps a session snapshot onto a guard decision.
func Decide(snapshot session.Snapshot) Decision {
	switch {
	case snapshot.Loading:
		return Pending
	case snapshot.Token == "" || snapshot.User == nil:
		return Denied
	default:
		return Allowed
	}
}

// Guard protects a subtree from visitors without a resolved session.
type Guard struct {
	retryAfter  time.Duration
	fallback    string
	instruments *telemetry.Instruments
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRetryAfter sets the Retry-After hint sent while a session is loading.
func WithRetryAfter(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.retryAfter = d
	}
}

// WithFallbackLocale names the login page locale for requests that reach
// the guard without one in their context.
func WithFallbackLocale(code string) GuardOption {
	return func(g *Guard) {
		g.fallback = code
	}
}

// WithGuardInstruments reports decisions to instruments.
func WithGuardInstruments(instruments *telemetry.Instruments) GuardOption {
	return func(g *Guard) {
		g.instruments = instruments
	}
}

func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{retryAfter: time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LoginPath is the login page of locale carrying next as the return location.
func LoginPath(locale string, next string) string {
	path := "/" + locale + "/login"
	if next == "" {
		return path
	}
	return path + "?" + url.Values{NextParam: {next}}.Encode()
}

// SafeNext returns next when it is a path on this site, fallback otherwise.
func SafeNext(next string, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") ||
		strings.HasPrefix(next, "/\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}

// Wrap runs the guard in front of next. It expects the locale gate and the
// session middleware to have run.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		snapshot, _ := session.FromContext(ctx)

		decision := Decide(snapshot)
		g.instruments.GuardDecision(ctx, decision.String())

		switch decision {
		case Pending:
			w.Header().Set("Retry-After", strconv.Itoa(max(int(g.retryAfter.Seconds()), 1)))
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusAccepted)
		case Denied:
			code := g.fallback
			if locale, ok := localization.FromContext(ctx); ok {
				code = locale.Code
			}
			if code == "" {
				util.Log(ctx).WithField("path", r.URL.Path).Error("guard reached without a locale")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			g.instruments.Redirect(ctx, "unauthenticated")
			http.Redirect(w, r, LoginPath(code, r.URL.RequestURI()), http.StatusFound)
		case Allowed:
			next.ServeHTTP(w, r.WithContext(session.UserToContext(ctx, snapshot.User)))
		}
	})
}
