package visitor_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/portal/visitor"
)

func TestMiddlewareIssuesAndReusesVisitorID(t *testing.T) {
	registry := visitor.NewRegistry(time.Minute)

	var seen []string
	handler := visitor.Middleware(registry, visitor.CookieOptions{Name: "portal_visitor"})(
		http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			seen = append(seen, visitor.MustFromContext(r.Context()).ID())
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ar", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "portal_visitor", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	_, err := xid.FromString(cookies[0].Value)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ar/cases", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Empty(t, rec.Result().Cookies())
	require.Equal(t, []string{cookies[0].Value, cookies[0].Value}, seen)
	require.Equal(t, 1, registry.Len())
}

func TestMiddlewareReplacesMalformedID(t *testing.T) {
	registry := visitor.NewRegistry(time.Minute)
	handler := visitor.Middleware(registry, visitor.CookieOptions{Name: "portal_visitor", Secure: true})(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
	)

	req := httptest.NewRequest(http.MethodGet, "/ar", nil)
	req.AddCookie(&http.Cookie{Name: "portal_visitor", Value: "../../etc"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.NotEqual(t, "../../etc", cookies[0].Value)
	require.True(t, cookies[0].Secure)

	_, ok := registry.Get("../../etc")
	require.False(t, ok)
}
