package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/pitabwire/portal/config"
)

var (
	ErrMissingSigningSecret = errors.New("jwt signing secret is not configured")
	ErrInvalidToken         = errors.New("supplied token was invalid")
)

// Claims is the payload of a portal session token.
type Claims struct {
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Locale string   `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) user() *User {
	subject, _ := c.GetSubject()
	return &User{
		ID:              subject,
		Name:            c.Name,
		Email:           c.Email,
		Roles:           c.Roles,
		PreferredLocale: c.Locale,
	}
}

// Resolver maps a raw token to the user it was issued for.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*User, error)
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

var _ Resolver = new(TokenIssuer)

func NewTokenIssuer(cfg config.ConfigurationSession) (*TokenIssuer, error) {
	if cfg.GetJwtSigningSecret() == "" {
		return nil, ErrMissingSigningSecret
	}
	return &TokenIssuer{
		secret: []byte(cfg.GetJwtSigningSecret()),
		issuer: cfg.GetJwtIssuer(),
		ttl:    cfg.GetJwtTTL(),
		now:    time.Now,
	}, nil
}

// Issue signs a token for user, returning it with its expiry.
func (t *TokenIssuer) Issue(user *User) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)

	claims := &Claims{
		Name:   user.Name,
		Email:  user.Email,
		Roles:  user.Roles,
		Locale: user.PreferredLocale,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   user.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Resolve verifies token and returns its user.
func (t *TokenIssuer) Resolve(_ context.Context, token string) (*User, error) {
	claims := &Claims{}

	parseOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		parseOptions = append(parseOptions, jwt.WithIssuer(t.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, parseOptions...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	user := claims.user()
	if user.ID == "" {
		return nil, ErrInvalidToken
	}
	return user, nil
}
