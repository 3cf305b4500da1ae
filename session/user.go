// Package session resolves who is behind a request: the token carried by
// the request, the user it maps to and whether that answer is known yet.
package session

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

const (
	bearerScheme     = "Bearer "
	bearerTokenParts = 2
)

// User is an authenticated portal client.
type User struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Roles           []string `json:"roles,omitempty"`
	PreferredLocale string   `json:"preferred_locale,omitempty"`
}

func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// Snapshot is the session as known at one instant. Loading means the token
// is still being resolved and no decision should be taken on User yet.
type Snapshot struct {
	User    *User
	Loading bool
	Token   string
}

// Authenticated reports a resolved session with a user.
func (s Snapshot) Authenticated() bool {
	return !s.Loading && s.User != nil
}

type contextKey string

func (c contextKey) String() string {
	return "portal/session/" + string(c)
}

const (
	ctxKeySnapshot = contextKey("snapshotKey")
	ctxKeyUser     = contextKey("userKey")
)

// ToContext adds the session snapshot to the current supplied context.
func ToContext(ctx context.Context, snapshot Snapshot) context.Context {
	return context.WithValue(ctx, ctxKeySnapshot, snapshot)
}

// FromContext extracts the session snapshot from the supplied context if any exist.
func FromContext(ctx context.Context) (Snapshot, bool) {
	snapshot, ok := ctx.Value(ctxKeySnapshot).(Snapshot)
	return snapshot, ok
}

// UserToContext adds an authenticated user to the current supplied context.
func UserToContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

// UserFromContext extracts the authenticated user from the supplied context, nil when absent.
func UserFromContext(ctx context.Context) *User {
	user, ok := ctx.Value(ctxKeyUser).(*User)
	if !ok {
		return nil
	}
	return user
}

// TokenFromRequest reads the session token from the named cookie, then from
// an Authorization bearer header.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerScheme) {
		return ""
	}

	parts := strings.Split(header, " ")
	if len(parts) != bearerTokenParts {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
