package routing_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/routing"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/visitor"
)

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func notFound(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, body)
	})
}

// withSnapshot stands in for the session middleware.
func withSnapshot(snapshot session.Snapshot, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(session.ToContext(r.Context(), snapshot)))
	})
}

type TreeTestSuite struct {
	suite.Suite

	registry *localization.Registry
	visitors *visitor.Registry
}

func TestTreeTestSuite(t *testing.T) {
	suite.Run(t, new(TreeTestSuite))
}

func (s *TreeTestSuite) SetupTest() {
	s.registry = localization.MustNewRegistry("ar", "ar", "en", "fr")
	s.visitors = visitor.NewRegistry(0)
}

func (s *TreeTestSuite) tree() *routing.Tree {
	store := localization.NewCacheStore(cache.NewInMemoryCache(), 0)
	layout := func(page http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Layout", "shell")
			page.ServeHTTP(w, r)
		})
	}

	return &routing.Tree{
		Locales: s.registry,
		Gate:    routing.NewLocaleGate(s.registry, store),
		Guard:   routing.NewGuard(),
		Endpoints: []routing.Route{
			{Name: "healthz", Path: "/healthz", Handler: text("ok")},
		},
		Assets: text("asset"),
		Subtrees: []routing.Subtree{
			{
				Name:   "api",
				Prefix: "/api/v1",
				Routes: []routing.Route{
					{Name: "locale", Path: "/locale", Methods: []string{http.MethodGet, http.MethodPut}, Handler: text("locale")},
				},
				NotFound: notFound("api not found"),
			},
			{
				Name:   "public",
				Prefix: "/{locale}",
				Layout: layout,
				Routes: []routing.Route{
					{Name: "login", Path: "/login", Methods: []string{http.MethodGet, http.MethodPost}, Handler: text("login")},
					{Name: "logout", Path: "/logout", Methods: []string{http.MethodPost}, Handler: text("logout")},
				},
				NotFound: notFound("public not found"),
			},
			{
				Name:    "guarded",
				Prefix:  "/{locale}",
				Guarded: true,
				Layout:  layout,
				Routes: []routing.Route{
					{Name: "home", Path: "", Methods: []string{http.MethodGet}, Handler: text("home")},
					{Name: "cases", Path: "/cases", Methods: []string{http.MethodGet}, Handler: text("cases")},
					{Name: "case", Path: "/cases/{id:" + routing.IDPattern + "}", Methods: []string{http.MethodGet}, Handler: text("case")},
				},
				NotFound: notFound("guarded not found"),
			},
		},
	}
}

func (s *TreeTestSuite) serve(router http.Handler, snapshot session.Snapshot, method, target string) *httptest.ResponseRecorder {
	handler := visitor.Middleware(s.visitors, visitor.CookieOptions{Name: "portal_visitor"})(withSnapshot(snapshot, router))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func (s *TreeTestSuite) TestValidateAcceptsTable() {
	s.NoError(s.tree().Validate())
}

func (s *TreeTestSuite) TestValidateRejects() {
	testCases := []struct {
		name   string
		mutate func(t *routing.Tree)
		err    error
	}{
		{
			name:   "no locales",
			mutate: func(t *routing.Tree) { t.Locales = nil },
			err:    routing.ErrNoLocales,
		},
		{
			name:   "no gate",
			mutate: func(t *routing.Tree) { t.Gate = nil },
			err:    routing.ErrNoGate,
		},
		{
			name:   "guarded subtree without guard",
			mutate: func(t *routing.Tree) { t.Guard = nil },
			err:    routing.ErrNoGuard,
		},
		{
			name:   "missing not found",
			mutate: func(t *routing.Tree) { t.Subtrees[1].NotFound = nil },
			err:    routing.ErrMissingNotFound,
		},
		{
			name:   "relative prefix",
			mutate: func(t *routing.Tree) { t.Subtrees[0].Prefix = "api" },
			err:    routing.ErrPrefixWithoutRoot,
		},
		{
			name:   "missing handler",
			mutate: func(t *routing.Tree) { t.Subtrees[2].Routes[1].Handler = nil },
			err:    routing.ErrMissingHandler,
		},
		{
			name: "duplicate method and template",
			mutate: func(t *routing.Tree) {
				t.Subtrees[2].Routes = append(t.Subtrees[2].Routes,
					routing.Route{Name: "cases-again", Path: "/cases", Methods: []string{http.MethodGet}, Handler: text("x")})
			},
			err: routing.ErrDuplicateRoute,
		},
		{
			name: "any method clashes with declared method",
			mutate: func(t *routing.Tree) {
				t.Subtrees[1].Routes = append(t.Subtrees[1].Routes,
					routing.Route{Name: "login-any", Path: "/login", Handler: text("x")})
			},
			err: routing.ErrDuplicateRoute,
		},
		{
			name: "ambiguous sample path",
			mutate: func(t *routing.Tree) {
				t.Subtrees[2].Routes = append(t.Subtrees[2].Routes,
					routing.Route{Name: "case-slug", Path: "/cases/{slug}", Methods: []string{http.MethodGet}, Handler: text("x")})
			},
			err: routing.ErrAmbiguousRoute,
		},
		{
			name: "sample path matching nothing",
			mutate: func(t *routing.Tree) {
				t.Subtrees[2].Routes[1].Sample = "/ar/elsewhere"
			},
			err: routing.ErrAmbiguousRoute,
		},
		{
			name: "invalid template",
			mutate: func(t *routing.Tree) {
				t.Subtrees[2].Routes[1].Path = "/cases/{id"
			},
			err: routing.ErrInvalidTemplate,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			tree := s.tree()
			tc.mutate(tree)

			err := tree.Validate()
			s.Require().ErrorIs(err, tc.err)

			_, compileErr := tree.Compile()
			s.ErrorIs(compileErr, tc.err)
		})
	}
}

func (s *TreeTestSuite) TestValidateRejectsUnsupportedDefault() {
	tree := s.tree()
	tree.Locales = &localization.Registry{}
	s.ErrorIs(tree.Validate(), routing.ErrDefaultLocale)
}

func (s *TreeTestSuite) TestCompiledRouting() {
	router, err := s.tree().Compile()
	s.Require().NoError(err)

	signedIn := session.Snapshot{User: &session.User{ID: "u1"}, Token: "t"}

	testCases := []struct {
		name     string
		snapshot session.Snapshot
		method   string
		target   string
		status   int
		location string
		body     string
		layout   bool
	}{
		{name: "root redirects to default", method: http.MethodGet, target: "/", status: http.StatusFound, location: "/ar"},
		{name: "unsupported locale", method: http.MethodGet, target: "/xx/cases", status: http.StatusFound, location: "/ar"},
		{name: "unsupported locale deep", method: http.MethodGet, target: "/xx/a/b", status: http.StatusFound, location: "/ar"},
		{name: "health", method: http.MethodGet, target: "/healthz", status: http.StatusOK, body: "ok"},
		{name: "assets", method: http.MethodGet, target: "/assets/app.css", status: http.StatusOK, body: "asset"},
		{name: "public page", method: http.MethodGet, target: "/en/login", status: http.StatusOK, body: "login", layout: true},
		{name: "guarded page signed in", snapshot: signedIn, method: http.MethodGet, target: "/ar/cases", status: http.StatusOK, body: "cases", layout: true},
		{name: "guarded home signed in", snapshot: signedIn, method: http.MethodGet, target: "/fr", status: http.StatusOK, body: "home", layout: true},
		{name: "record page", snapshot: signedIn, method: http.MethodGet, target: "/ar/cases/1ecvpjpmbhl4dscsf835", status: http.StatusOK, body: "case", layout: true},
		{name: "guarded page signed out", method: http.MethodGet, target: "/ar/cases", status: http.StatusFound, location: "/ar/login?next=%2Far%2Fcases"},
		{name: "guarded page loading", snapshot: session.Snapshot{Loading: true}, method: http.MethodGet, target: "/ar/cases", status: http.StatusAccepted},
		{name: "unknown localized path", method: http.MethodGet, target: "/en/nowhere", status: http.StatusNotFound, body: "public not found", layout: true},
		{name: "malformed record id", method: http.MethodGet, target: "/en/cases/nope", status: http.StatusNotFound, body: "public not found", layout: true},
		{name: "method not declared", method: http.MethodDelete, target: "/en/login", status: http.StatusNotFound, body: "public not found", layout: true},
		{name: "api leaf", method: http.MethodPut, target: "/api/v1/locale", status: http.StatusOK, body: "locale"},
		{name: "unknown api path", method: http.MethodGet, target: "/api/v1/nowhere", status: http.StatusNotFound, body: "api not found"},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			rec := s.serve(router, tc.snapshot, tc.method, tc.target)

			s.Equal(tc.status, rec.Code)
			if tc.location != "" {
				s.Equal(tc.location, rec.Header().Get("Location"))
			}
			if tc.body != "" {
				s.Equal(tc.body, rec.Body.String())
			}
			if tc.layout {
				s.Equal("shell", rec.Header().Get("X-Layout"))
			}
		})
	}
}

func (s *TreeTestSuite) TestLocalizedResponsesCarryContentLanguage() {
	router, err := s.tree().Compile()
	s.Require().NoError(err)

	rec := s.serve(router, session.Snapshot{}, http.MethodGet, "/fr/login")
	s.Equal("fr", rec.Header().Get("Content-Language"))
}
