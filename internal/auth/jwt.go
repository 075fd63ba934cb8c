// Package auth verifies the bearer tokens issued by the CodeReviewer API so
// the gateway can bucket authenticated callers by user instead of address.
// Authorization itself stays with the upstream API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"reviewgate/internal/models"
)

var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingSubject = errors.New("token has no user id claim")
)

// Principal is the authenticated caller extracted from a valid token.
type Principal struct {
	UserID string
	Email  string
	Plan   string
}

// Claims matches the token layout issued by the API. The user id lives in
// "userId"; "sub" and "nameid" are accepted from other issuers.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	NameID string `json:"nameid,omitempty"`
	Email  string `json:"email,omitempty"`
	Plan   string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) principalID() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.Subject != "":
		return c.Subject
	default:
		return c.NameID
	}
}

// Verifier validates HS256 tokens against the configured secret, issuer and
// audience. Expiry is mandatory and no clock skew is tolerated.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier returns nil when cfg carries no secret, which disables
// principal resolution.
func NewVerifier(cfg models.JWTConfig) *Verifier {
	if cfg.Secret == "" {
		return nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}
}

// Verify parses and validates a raw token.
func (v *Verifier) Verify(raw string) (*Principal, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id := strings.TrimSpace(claims.principalID())
	if id == "" {
		return nil, ErrMissingSubject
	}

	return &Principal{UserID: id, Email: claims.Email, Plan: claims.Plan}, nil
}

// VerifyRequest extracts the bearer token from r and verifies it.
func (v *Verifier) VerifyRequest(r *http.Request) (*Principal, error) {
	raw, ok := BearerToken(r)
	if !ok {
		return nil, ErrMissingToken
	}
	return v.Verify(raw)
}

// BearerToken returns the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type contextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the principal stored by OptionalAuth.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}

// UserID reports the authenticated user id for r, if any.
func UserID(r *http.Request) (string, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return "", false
	}
	return p.UserID, true
}

// OptionalAuth attaches the principal of a valid bearer token to the request
// context. Missing or invalid tokens are not rejected here; the request
// continues anonymously and the upstream API decides. A nil verifier makes
// the middleware a no-op.
func OptionalAuth(v *Verifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := v.VerifyRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
