// Package routing holds the request pipeline of the portal: the locale gate,
// the route guard and the declarative route tree compiled onto gorilla/mux.
package routing

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/telemetry"
	"github.com/pitabwire/portal/visitor"
)

// LocaleVar is the path variable carrying the locale segment.
const LocaleVar = "locale"

// LocaleGate validates the locale segment of every request and keeps the
// visitor's active locale, document attributes and persisted code in step.
type LocaleGate struct {
	registry    *localization.Registry
	store       localization.Store
	instruments *telemetry.Instruments
}

// GateOption configures a LocaleGate.
type GateOption func(*LocaleGate)

// WithGateInstruments reports redirects and broadcasts to instruments.
func WithGateInstruments(instruments *telemetry.Instruments) GateOption {
	return func(g *LocaleGate) {
		g.instruments = instruments
	}
}

func NewLocaleGate(registry *localization.Registry, store localization.Store, opts ...GateOption) *LocaleGate {
	g := &LocaleGate{registry: registry, store: store}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *LocaleGate) Registry() *localization.Registry {
	return g.registry
}

// DefaultPath is the root of the default locale.
func (g *LocaleGate) DefaultPath() string {
	return "/" + g.registry.Default().Code
}

// Resolve picks the locale for a request without a locale segment: the
// visitor's active locale, then the persisted one, then Accept-Language,
// then the default.
func (g *LocaleGate) Resolve(ctx context.Context, scope *visitor.Scope, r *http.Request) localization.Locale {
	if current, ok := scope.Locale(); ok {
		return current
	}

	code, found, err := g.store.Load(ctx, scope.ID())
	if err != nil {
		util.Log(ctx).WithError(err).Warn("could not load persisted locale")
	}
	if found {
		if locale, ok := g.registry.Lookup(code); ok {
			return locale
		}
	}

	if locale, matched := g.registry.Negotiate(r.Header.Values("Accept-Language")...); matched {
		return locale
	}

	return g.registry.Default()
}

// Enter commits locale for the visitor and persists it. When a different
// locale was active before, the visitor's hub is triggered once, after the
// new state is in place. It reports whether that happened.
func (g *LocaleGate) Enter(ctx context.Context, scope *visitor.Scope, locale localization.Locale) bool {
	prior, changed := scope.Activate(locale)

	if err := g.store.Save(ctx, scope.ID(), locale.Code); err != nil {
		util.Log(ctx).WithError(err).WithField("locale", locale.Code).Warn("could not persist locale")
	}

	if !changed {
		return false
	}

	util.Log(ctx).
		WithField("visitor", scope.ID()).
		WithField("from", prior.Code).
		WithField("to", locale.Code).
		Debug("locale changed, refreshing mounted views")

	g.instruments.Broadcast(ctx, locale.Code)
	scope.Hub().TriggerAll(ctx)
	return true
}

// Wrap runs the gate in front of next. Requests naming an unsupported locale
// are redirected to the default locale root.
func (g *LocaleGate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		scope := visitor.MustFromContext(ctx)

		var locale localization.Locale
		if code, present := mux.Vars(r)[LocaleVar]; present {
			supported, ok := g.registry.Lookup(code)
			if !ok {
				g.instruments.Redirect(ctx, "unsupported_locale")
				http.Redirect(w, r, g.DefaultPath(), http.StatusFound)
				return
			}
			locale = supported
		} else {
			locale = g.Resolve(ctx, scope, r)
		}

		g.Enter(ctx, scope, locale)

		w.Header().Set("Content-Language", locale.Code)
		next.ServeHTTP(w, r.WithContext(localization.ToContext(ctx, locale)))
	})
}
