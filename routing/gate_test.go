package routing_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"

	"github.com/pitabwire/portal/broadcast"
	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/routing"
	"github.com/pitabwire/portal/visitor"
)

type failingStore struct{}

func (failingStore) Load(context.Context, string) (string, bool, error) {
	return "", false, errors.New("store offline")
}

func (failingStore) Save(context.Context, string, string) error {
	return errors.New("store offline")
}

type GateTestSuite struct {
	suite.Suite

	registry *localization.Registry
	raw      *cache.InMemoryCache
	store    localization.Store
	gate     *routing.LocaleGate
	scope    *visitor.Scope
}

func TestGateTestSuite(t *testing.T) {
	suite.Run(t, new(GateTestSuite))
}

func (s *GateTestSuite) SetupTest() {
	s.registry = localization.MustNewRegistry("ar", "ar", "en", "fr")
	s.raw = cache.NewInMemoryCache()
	s.store = localization.NewCacheStore(s.raw, time.Hour)
	s.gate = routing.NewLocaleGate(s.registry, s.store)
	s.scope = visitor.NewScope("cs0fnq3mbhl4dscsf830")
}

func (s *GateTestSuite) TearDownTest() {
	_ = s.raw.Close()
}

func (s *GateTestSuite) request(path string, vars map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(visitor.ToContext(req.Context(), s.scope))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

// serve runs the gate and reports the locale the wrapped handler saw.
func (s *GateTestSuite) serve(req *http.Request) (*httptest.ResponseRecorder, string) {
	seen := ""
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		locale, ok := localization.FromContext(r.Context())
		s.Require().True(ok)
		seen = locale.Code
	})
	rec := httptest.NewRecorder()
	s.gate.Wrap(next).ServeHTTP(rec, req)
	return rec, seen
}

func (s *GateTestSuite) countBroadcasts() *atomic.Int32 {
	var runs atomic.Int32
	s.scope.Hub().Register(broadcast.NewCallback("counter", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	return &runs
}

func (s *GateTestSuite) TestUnsupportedLocaleRedirectsToDefault() {
	rec, seen := s.serve(s.request("/xx/anything", map[string]string{routing.LocaleVar: "xx"}))

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/ar", rec.Header().Get("Location"))
	s.Empty(seen)

	_, active := s.scope.Locale()
	s.False(active)
}

func (s *GateTestSuite) TestSupportedLocaleBecomesActive() {
	rec, seen := s.serve(s.request("/en/cases", map[string]string{routing.LocaleVar: "en"}))

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("en", seen)
	s.Equal("en", rec.Header().Get("Content-Language"))
	s.Equal(visitor.Document{Lang: "en", Dir: localization.LeftToRight}, s.scope.Document())

	code, found, err := s.store.Load(context.Background(), s.scope.ID())
	s.Require().NoError(err)
	s.True(found)
	s.Equal("en", code)
}

func (s *GateTestSuite) TestRightToLeftDocument() {
	s.serve(s.request("/ar", map[string]string{routing.LocaleVar: "ar"}))
	s.Equal(visitor.Document{Lang: "ar", Dir: localization.RightToLeft}, s.scope.Document())
}

func (s *GateTestSuite) TestBroadcastOnlyOnRealChange() {
	runs := s.countBroadcasts()

	testCases := []struct {
		name   string
		locale string
		total  int32
	}{
		{name: "first resolution", locale: "ar", total: 0},
		{name: "same locale again", locale: "ar", total: 0},
		{name: "switch to english", locale: "en", total: 1},
		{name: "english again", locale: "en", total: 1},
		{name: "switch to french", locale: "fr", total: 2},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.serve(s.request("/"+tc.locale, map[string]string{routing.LocaleVar: tc.locale}))
			s.Equal(tc.total, runs.Load())
		})
	}
}

func (s *GateTestSuite) TestBroadcastSeesCommittedState() {
	s.serve(s.request("/ar", map[string]string{routing.LocaleVar: "ar"}))

	var observed localization.Locale
	var persisted string
	s.scope.Hub().Register(broadcast.NewCallback("observer", func(ctx context.Context) error {
		observed, _ = s.scope.Locale()
		persisted, _, _ = s.store.Load(ctx, s.scope.ID())
		return nil
	}))

	s.serve(s.request("/fr", map[string]string{routing.LocaleVar: "fr"}))

	s.Equal("fr", observed.Code)
	s.Equal("fr", persisted)
}

func (s *GateTestSuite) TestAbsentSegmentPrefersActiveLocale() {
	s.serve(s.request("/fr", map[string]string{routing.LocaleVar: "fr"}))
	s.Require().NoError(s.store.Save(context.Background(), s.scope.ID(), "en"))

	req := s.request("/api/v1/locale", nil)
	req.Header.Set("Accept-Language", "en")
	_, seen := s.serve(req)

	s.Equal("fr", seen)
}

func (s *GateTestSuite) TestAbsentSegmentFallsBackToStore() {
	s.Require().NoError(s.store.Save(context.Background(), s.scope.ID(), "en"))

	req := s.request("/api/v1/locale", nil)
	req.Header.Set("Accept-Language", "fr")
	_, seen := s.serve(req)

	s.Equal("en", seen)
}

func (s *GateTestSuite) TestAbsentSegmentNegotiatesAcceptLanguage() {
	req := s.request("/api/v1/locale", nil)
	req.Header.Set("Accept-Language", "de-DE, fr-CA;q=0.8, en;q=0.5")
	_, seen := s.serve(req)

	s.Equal("fr", seen)
}

func (s *GateTestSuite) TestAbsentSegmentUsesDefault() {
	req := s.request("/api/v1/locale", nil)
	req.Header.Set("Accept-Language", "ja")
	_, seen := s.serve(req)

	s.Equal("ar", seen)
}

func (s *GateTestSuite) TestStoreFailureIsNotFatal() {
	gate := routing.NewLocaleGate(s.registry, failingStore{})

	rec := httptest.NewRecorder()
	served := false
	gate.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		served = true
	})).ServeHTTP(rec, s.request("/en", map[string]string{routing.LocaleVar: "en"}))

	s.True(served)
	s.Equal(http.StatusOK, rec.Code)

	locale, ok := s.scope.Locale()
	s.True(ok)
	s.Equal("en", locale.Code)
}

func (s *GateTestSuite) TestEnterIsIdempotent() {
	ctx := context.Background()
	runs := s.countBroadcasts()
	en, _ := s.registry.Lookup("en")
	fr, _ := s.registry.Lookup("fr")

	s.False(s.gate.Enter(ctx, s.scope, en))
	s.False(s.gate.Enter(ctx, s.scope, en))
	s.True(s.gate.Enter(ctx, s.scope, fr))
	s.False(s.gate.Enter(ctx, s.scope, fr))
	s.Equal(int32(1), runs.Load())
}

func (s *GateTestSuite) TestMissingScopePanics() {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/ar", nil), map[string]string{routing.LocaleVar: "ar"})
	s.Panics(func() {
		s.gate.Wrap(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), req)
	})
}
