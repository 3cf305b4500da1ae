package visitor

import (
	"net/http"

	"github.com/rs/xid"
)

// CookieOptions controls the cookie carrying the visitor id.
type CookieOptions struct {
	Name   string
	Secure bool
}

// Middleware attaches the scope of the requesting visitor to the request
// context, issuing a fresh visitor id when the cookie is missing or malformed.
func Middleware(registry *Registry, opts CookieOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(opts.Name); err == nil {
				if parsed, parseErr := xid.FromString(c.Value); parseErr == nil {
					id = parsed.String()
				}
			}

			if id == "" {
				id = xid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     opts.Name,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			scope := registry.Obtain(id)
			next.ServeHTTP(w, r.WithContext(ToContext(r.Context(), scope)))
		})
	}
}
