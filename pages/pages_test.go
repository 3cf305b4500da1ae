package pages_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/suite"

	"github.com/pitabwire/portal/backend"
	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/config"
	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/pages"
	"github.com/pitabwire/portal/ratelimiter"
	"github.com/pitabwire/portal/routing"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/visitor"
	"github.com/pitabwire/portal/workerpool"
)

const (
	visitorCookie = "portal_visitor"
	sessionCookie = "portal_token"
)

// countingAPI records the locale of every case and order list load and can
// make order loads fail.
type countingAPI struct {
	backend.API

	mu         sync.Mutex
	cases      map[string]int
	orders     map[string]int
	failOrders atomic.Bool
}

func (c *countingAPI) Orders(ctx context.Context, req backend.Request) ([]backend.Order, error) {
	c.mu.Lock()
	c.orders[req.Locale]++
	c.mu.Unlock()
	if c.failOrders.Load() {
		return nil, &backend.StatusError{StatusCode: http.StatusServiceUnavailable}
	}
	return c.API.Orders(ctx, req)
}

func (c *countingAPI) orderLoads(locale string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orders[locale]
}

func (c *countingAPI) Cases(ctx context.Context, req backend.Request) ([]backend.Case, error) {
	c.mu.Lock()
	c.cases[req.Locale]++
	c.mu.Unlock()
	return c.API.Cases(ctx, req)
}

func (c *countingAPI) caseLoads(locale string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cases[locale]
}

type PagesTestSuite struct {
	suite.Suite

	cfg      *config.ConfigurationDefault
	raw      *cache.InMemoryCache
	pool     workerpool.Pool
	api      *countingAPI
	issuer   *session.TokenIssuer
	visitors *visitor.Registry
	handler  http.Handler
	token    string
}

func TestPagesTestSuite(t *testing.T) {
	suite.Run(t, new(PagesTestSuite))
}

func (s *PagesTestSuite) build(opts ...pages.Option) http.Handler {
	registry := localization.MustNewRegistry("ar", "ar", "en", "fr")
	messages, err := localization.NewManager(registry)
	s.Require().NoError(err)

	gate := routing.NewLocaleGate(registry, localization.NewCacheStore(s.raw, time.Hour))

	hash, err := session.HashPassword("correct horse")
	s.Require().NoError(err)
	directory, err := session.NewDirectory(session.Account{
		ID: "cl-0001", Name: "Layla", Email: "layla@example.com", PasswordHash: hash,
	})
	s.Require().NoError(err)

	provider := session.NewProvider(s.issuer, s.pool, s.raw, session.WithResolveWait(5*time.Second))

	base := []pages.Option{
		pages.WithAccounts(directory, s.issuer),
		pages.WithSessions(provider),
		pages.WithSessionCookie(sessionCookie, false),
		pages.WithViewCache(s.raw, time.Minute),
	}
	site, err := pages.NewSite(registry, messages, gate, s.api, append(base, opts...)...)
	s.Require().NoError(err)

	router, err := site.Tree(routing.NewGuard()).Compile()
	s.Require().NoError(err)

	return visitor.Middleware(s.visitors, visitor.CookieOptions{Name: visitorCookie})(
		session.Middleware(provider, sessionCookie)(router))
}

func (s *PagesTestSuite) SetupTest() {
	ctx := context.Background()
	s.cfg = &config.ConfigurationDefault{
		JwtSigningSecret:         "test-secret",
		JwtIssuer:                "client_portal",
		JwtTTL:                   "1h",
		WorkerPoolCapacity:       4,
		WorkerPoolExpiryDuration: "1s",
	}
	s.raw = cache.NewInMemoryCache()

	var err error
	s.pool, err = workerpool.New(ctx, s.cfg)
	s.Require().NoError(err)

	fixtures, err := backend.LoadFixtures("", "ar")
	s.Require().NoError(err)
	s.api = &countingAPI{API: fixtures, cases: map[string]int{}, orders: map[string]int{}}

	s.issuer, err = session.NewTokenIssuer(s.cfg)
	s.Require().NoError(err)
	s.token, _, err = s.issuer.Issue(&session.User{ID: "cl-0001", Name: "Layla"})
	s.Require().NoError(err)

	s.visitors = visitor.NewRegistry(time.Hour)
	s.handler = s.build()
}

func (s *PagesTestSuite) TearDownTest() {
	s.pool.Shutdown()
	_ = s.raw.Close()
}

type call struct {
	method  string
	target  string
	visitor string
	token   string
	form    url.Values
	json    string
}

func (s *PagesTestSuite) do(handler http.Handler, c call) *httptest.ResponseRecorder {
	var req *http.Request
	switch {
	case c.form != nil:
		req = httptest.NewRequest(c.method, c.target, strings.NewReader(c.form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	case c.json != "":
		req = httptest.NewRequest(c.method, c.target, strings.NewReader(c.json))
		req.Header.Set("Content-Type", "application/json")
	default:
		req = httptest.NewRequest(c.method, c.target, nil)
	}
	if c.visitor != "" {
		req.AddCookie(&http.Cookie{Name: visitorCookie, Value: c.visitor})
	}
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.token})
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func (s *PagesTestSuite) get(target, visitorID, token string) *httptest.ResponseRecorder {
	return s.do(s.handler, call{method: http.MethodGet, target: target, visitor: visitorID, token: token})
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *PagesTestSuite) TestRootRedirectsToDefaultLocale() {
	rec := s.get("/", "", "")
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/ar", rec.Header().Get("Location"))
}

func (s *PagesTestSuite) TestUnsupportedLocaleRedirects() {
	rec := s.get("/xx/cases", "", s.token)
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/ar", rec.Header().Get("Location"))
}

func (s *PagesTestSuite) TestSignedOutVisitorIsSentToLogin() {
	rec := s.get("/en/cases?page=2", "", "")
	s.Equal(http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	s.Require().NoError(err)
	s.Equal("/en/login", location.Path)
	s.Equal("/en/cases?page=2", location.Query().Get("next"))
}

func (s *PagesTestSuite) TestRejectedTokenIsSentToLogin() {
	rec := s.get("/ar/cases", "", "not-a-token")
	s.Equal(http.StatusFound, rec.Code)
	s.True(strings.HasPrefix(rec.Header().Get("Location"), "/ar/login?next="))
}

func (s *PagesTestSuite) TestSignedInVisitorSeesCases() {
	rec := s.get("/ar/cases", "", s.token)

	s.Require().Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	s.Contains(body, `<html lang="ar" dir="rtl">`)
	s.Contains(body, "نزاع عقد إيجار تجاري")
	s.Contains(body, `href="/en/cases"`)
	s.Equal("ar", rec.Header().Get("Content-Language"))
	s.NotNil(responseCookie(rec, visitorCookie))
}

func (s *PagesTestSuite) TestRecordPages() {
	rec := s.get("/fr/cases/1ecvpjpmbhl4dscsf835", "", s.token)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Litige de bail commercial")

	rec = s.get("/fr/orders/qehdm3co4g7ajjng1s3u", "", s.token)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "O-10023")

	rec = s.get("/fr/cases/"+xid.New().String(), "", s.token)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *PagesTestSuite) TestEveryListPageRenders() {
	for _, path := range []string{"", "/cases", "/orders", "/tasks", "/appointments", "/consultations", "/payments", "/chat"} {
		s.Run("en"+path, func() {
			rec := s.get("/en"+path, "", s.token)
			s.Equal(http.StatusOK, rec.Code)
			s.Contains(rec.Body.String(), `<html lang="en" dir="ltr">`)
		})
	}
}

func (s *PagesTestSuite) TestLocaleChangeRefetchesMountedView() {
	visitorID := xid.New().String()

	rec := s.get("/ar/cases", visitorID, s.token)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(1, s.api.caseLoads("ar"))
	s.Equal(0, s.api.caseLoads("en"))

	rec = s.do(s.handler, call{method: http.MethodPut, target: "/api/v1/locale", visitor: visitorID, token: s.token, json: `{"code":"en"}`})
	s.Require().Equal(http.StatusOK, rec.Code)

	var state pages.LocaleState
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	s.Equal("en", state.Code)
	s.Equal(localization.LeftToRight, state.Direction)
	s.True(state.Changed)
	s.Equal(1, s.api.caseLoads("en"))

	rec = s.get("/en/cases", visitorID, s.token)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Commercial lease dispute")
	s.Equal(1, s.api.caseLoads("en"))
}

func (s *PagesTestSuite) TestSameLocaleDoesNotRefetch() {
	visitorID := xid.New().String()

	s.Require().Equal(http.StatusOK, s.get("/ar/cases", visitorID, s.token).Code)

	rec := s.do(s.handler, call{method: http.MethodPut, target: "/api/v1/locale", visitor: visitorID, token: s.token, json: `{"code":"ar"}`})
	s.Require().Equal(http.StatusOK, rec.Code)

	var state pages.LocaleState
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	s.False(state.Changed)
	s.Equal(1, s.api.caseLoads("ar"))
}

func (s *PagesTestSuite) TestLeavingViewStopsRefetch() {
	visitorID := xid.New().String()

	s.Require().Equal(http.StatusOK, s.get("/ar/cases", visitorID, s.token).Code)
	s.Require().Equal(http.StatusOK, s.get("/ar/forgot-password", visitorID, s.token).Code)

	rec := s.do(s.handler, call{method: http.MethodPut, target: "/api/v1/locale", visitor: visitorID, json: `{"code":"fr"}`})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(0, s.api.caseLoads("fr"))
}

func (s *PagesTestSuite) TestFailedViewIsNotMounted() {
	visitorID := xid.New().String()

	s.Require().Equal(http.StatusOK, s.get("/ar/cases", visitorID, s.token).Code)

	s.api.failOrders.Store(true)
	rec := s.get("/ar/orders", visitorID, s.token)
	s.Require().Equal(http.StatusBadGateway, rec.Code)
	s.Equal(1, s.api.orderLoads("ar"))

	scope, ok := s.visitors.Get(visitorID)
	s.Require().True(ok)
	s.Equal(0, scope.Hub().Len())

	rec = s.do(s.handler, call{method: http.MethodPut, target: "/api/v1/locale", visitor: visitorID, token: s.token, json: `{"code":"en"}`})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(0, s.api.orderLoads("en"))
	s.Equal(0, s.api.caseLoads("en"))
}

func (s *PagesTestSuite) TestLocaleAPI() {
	visitorID := xid.New().String()
	s.get("/fr/login", visitorID, "")

	rec := s.get("/api/v1/locale", visitorID, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var state pages.LocaleState
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	s.Equal("fr", state.Code)
	s.ElementsMatch([]string{"ar", "en", "fr"}, state.Supported)

	rec = s.do(s.handler, call{method: http.MethodPut, target: "/api/v1/locale", visitor: visitorID, json: `{"code":"xx"}`})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(s.handler, call{method: http.MethodPut, target: "/api/v1/locale", visitor: visitorID, json: `nope`})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.get("/api/v1/nothing", visitorID, "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("application/json", rec.Header().Get("Content-Type"))
}

func (s *PagesTestSuite) TestLogin() {
	rec := s.get("/en/login?next=%2Fen%2Forders", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `value="/en/orders"`)

	testCases := []struct {
		name     string
		password string
		next     string
		status   int
		location string
	}{
		{name: "wrong password", password: "wrong", next: "/en/orders", status: http.StatusUnauthorized},
		{name: "local next", password: "correct horse", next: "/en/orders", status: http.StatusSeeOther, location: "/en/orders"},
		{name: "foreign next", password: "correct horse", next: "//evil.example", status: http.StatusSeeOther, location: "/en"},
		{name: "no next", password: "correct horse", status: http.StatusSeeOther, location: "/en"},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			rec := s.do(s.handler, call{
				method: http.MethodPost,
				target: "/en/login",
				form:   url.Values{"email": {"Layla@example.com"}, "password": {tc.password}, "next": {tc.next}},
			})

			s.Equal(tc.status, rec.Code)
			cookie := responseCookie(rec, sessionCookie)
			if tc.location == "" {
				s.Nil(cookie)
				s.Contains(rec.Body.String(), "The email or password is incorrect.")
				return
			}

			s.Equal(tc.location, rec.Header().Get("Location"))
			s.Require().NotNil(cookie)
			s.True(cookie.HttpOnly)

			page := s.get("/en/cases", "", cookie.Value)
			s.Equal(http.StatusOK, page.Code)
		})
	}
}

func (s *PagesTestSuite) TestSignedInVisitorSkipsLogin() {
	rec := s.get("/fr/login?next=%2Ffr%2Ftasks", "", s.token)
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/fr/tasks", rec.Header().Get("Location"))
}

func (s *PagesTestSuite) TestLogout() {
	rec := s.do(s.handler, call{method: http.MethodPost, target: "/ar/logout", token: s.token})

	s.Equal(http.StatusSeeOther, rec.Code)
	s.Equal("/ar/login", rec.Header().Get("Location"))

	cookie := responseCookie(rec, sessionCookie)
	s.Require().NotNil(cookie)
	s.Empty(cookie.Value)
	s.Negative(cookie.MaxAge)
}

func (s *PagesTestSuite) TestForgotPassword() {
	rec := s.get("/en/forgot-password", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.NotContains(rec.Body.String(), "recovery instructions are on their way")

	for _, email := range []string{"layla@example.com", "nobody@example.com"} {
		rec = s.do(s.handler, call{method: http.MethodPost, target: "/en/forgot-password", form: url.Values{"email": {email}}})
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), "recovery instructions are on their way")
	}
}

func (s *PagesTestSuite) TestNotFoundIsLocalized() {
	rec := s.get("/en/nowhere", "", "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Contains(rec.Body.String(), "Page not found")
	s.Contains(rec.Body.String(), `<html lang="en" dir="ltr">`)
}

func (s *PagesTestSuite) TestChat() {
	visitorID := xid.New().String()
	s.Require().Equal(http.StatusOK, s.get("/en/chat", visitorID, s.token).Code)

	rec := s.do(s.handler, call{
		method: http.MethodPost, target: "/en/chat", visitor: visitorID, token: s.token,
		form: url.Values{"body": {"Is the hearing still on Monday?"}},
	})
	s.Require().Equal(http.StatusSeeOther, rec.Code)
	s.Equal("/en/chat", rec.Header().Get("Location"))

	rec = s.get("/en/chat", visitorID, s.token)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Is the hearing still on Monday?")
}

func (s *PagesTestSuite) TestLoginIsRateLimited() {
	limiter, err := ratelimiter.NewIPRateLimiter(s.raw, &ratelimiter.WindowConfig{
		WindowDuration: time.Minute,
		MaxPerWindow:   1,
	})
	s.Require().NoError(err)
	handler := s.build(pages.WithLoginLimiter(limiter))

	form := url.Values{"email": {"layla@example.com"}, "password": {"wrong"}}
	first := s.do(handler, call{method: http.MethodPost, target: "/en/login", form: form})
	s.Equal(http.StatusUnauthorized, first.Code)

	second := s.do(handler, call{method: http.MethodPost, target: "/en/login", form: form})
	s.Equal(http.StatusTooManyRequests, second.Code)
	s.NotEmpty(second.Header().Get("Retry-After"))
	s.Contains(second.Body.String(), "Too many attempts")

	s.Equal(http.StatusOK, s.do(handler, call{method: http.MethodGet, target: "/en/login"}).Code)
}

func (s *PagesTestSuite) TestAssets() {
	rec := s.get("/assets/portal.css", "", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "rtl")
}
