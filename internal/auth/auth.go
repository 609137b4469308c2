// Package auth issues and verifies mock login tokens. There is no user
// database: any non-empty name may log in, and the signing secret lives only
// as long as the process unless configured.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const issuer = "codesync"

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 24 * time.Hour

var (
	// ErrEmptyName is returned by Issue for a blank user name.
	ErrEmptyName = errors.New("auth: user name required")
	// ErrInvalidToken is returned by Verify for any token it rejects.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims are the token claims.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Authority signs and checks tokens with one HS256 secret.
type Authority struct {
	secret []byte
	clock  clockwork.Clock
	ttl    time.Duration
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(a *Authority) { a.clock = c }
}

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(a *Authority) { a.ttl = ttl }
}

// New creates an Authority. An empty secret generates a random one.
func New(secret []byte, opts ...Option) (*Authority, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	}
	a := &Authority{secret: secret, clock: clockwork.NewRealClock(), ttl: DefaultTTL}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue returns a signed token for name.
func (a *Authority) Issue(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	now := a.clock.Now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks token and returns its claims.
func (a *Authority) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Name == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
