package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth errors.
var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("missing authorization token")
	ErrAuthDisabled = errors.New("admin endpoints disabled")
)

// Claims holds the admin token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RoleAdmin may use every control endpoint.
const RoleAdmin = "admin"

// Auth issues and validates HS256 admin tokens.
type Auth struct {
	secret []byte
	expiry time.Duration
}

// NewAuth creates an Auth. An empty secret disables every POST endpoint.
func NewAuth(secret string, expiry time.Duration) *Auth {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether a signing secret is configured.
func (a *Auth) Enabled() bool { return len(a.secret) > 0 }

// Issue signs a token for subject.
func (a *Auth) Issue(subject string) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	now := time.Now()
	claims := &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a token string and returns its claims.
func (a *Auth) Validate(tokenStr string) (*Claims, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Role != RoleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type contextKey string

const subjectKey contextKey = "subject"

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}

// adminOnly requires a valid bearer token.
func (a *Auth) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			writeError(w, http.StatusForbidden, ErrAuthDisabled.Error())
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, ErrMissingToken.Error())
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}
		claims, err := a.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}
