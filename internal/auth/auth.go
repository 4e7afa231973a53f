// Package auth issues and verifies the HS256 identity tokens peers present
// when they connect, and exposes them to chi handlers through the request
// context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roadwatch/internal/engine"
)

var (
	ErrNoToken      = errors.New("auth: no token")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrNoSecret     = errors.New("auth: signing secret is empty")
)

const issuer = "roadwatch"

// Claims is the token payload. The subject is the user id.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Sign mints a token for claim that expires after ttl.
func Sign(secret []byte, claim engine.Claim, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	if strings.TrimSpace(claim.UserID) == "" {
		return "", fmt.Errorf("auth: user id is required")
	}
	c := Claims{
		Name:   claim.DisplayName,
		Avatar: claim.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   claim.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

// Parse verifies a token and returns the identity it asserts.
func Parse(secret []byte, token string) (engine.Claim, error) {
	if len(secret) == 0 {
		return engine.Claim{}, ErrNoSecret
	}
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return engine.Claim{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return engine.Claim{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return engine.Claim{UserID: c.Subject, DisplayName: c.Name, Avatar: c.Avatar}, nil
}

// ProtocolPrefix marks a Sec-WebSocket-Protocol entry that carries a token,
// for browser clients that cannot set headers on a socket upgrade.
const ProtocolPrefix = "bearer."

// TokenFromRequest looks for a token in the Authorization header, then the
// socket subprotocol list, then the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, ProtocolPrefix) {
				return strings.TrimPrefix(p, ProtocolPrefix)
			}
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type ctxKey struct{}

// WithClaim stores a verified claim on the context.
func WithClaim(ctx context.Context, c engine.Claim) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimFrom returns the claim set by the middleware. The second result is
// false for anonymous requests.
func ClaimFrom(ctx context.Context) (engine.Claim, bool) {
	c, ok := ctx.Value(ctxKey{}).(engine.Claim)
	return c, ok && c.UserID != ""
}

// Authenticator resolves request identities.
type Authenticator struct {
	secret         []byte
	allowAnonymous bool
}

func NewAuthenticator(secret string, allowAnonymous bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), allowAnonymous: allowAnonymous}
}

// AllowAnonymous reports whether requests without a token are accepted.
func (a *Authenticator) AllowAnonymous() bool {
	return a.allowAnonymous
}

// Identify returns the claim for r. A request without a token yields the
// empty claim when anonymous access is allowed; a bad token is always an error.
func (a *Authenticator) Identify(r *http.Request) (engine.Claim, error) {
	tok := TokenFromRequest(r)
	if tok == "" {
		if a.allowAnonymous {
			return engine.Claim{}, nil
		}
		return engine.Claim{}, ErrNoToken
	}
	return Parse(a.secret, tok)
}

// Optional attaches the caller's claim when there is one and rejects bad tokens.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := a.Identify(r)
		if err != nil {
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), c)))
	})
}

// Require only lets through requests carrying a valid token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := TokenFromRequest(r)
		if tok == "" {
			unauthorized(w, ErrNoToken)
			return
		}
		c, err := Parse(a.secret, tok)
		if err != nil {
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), c)))
	})
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="roadwatch"`)
	http.Error(w, err.Error(), http.StatusUnauthorized)
}
