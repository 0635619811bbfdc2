package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies bearer tokens on incoming requests. Tokens are
// HS256-signed JWTs; the subject claim identifies the calling client.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Middleware rejects requests without a valid bearer token. When no secret
// is configured the gateway refuses to authenticate anything rather than
// silently running open.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			writeJSONError(w, http.StatusServiceUnavailable, "auth_unconfigured", "gateway auth secret not configured")
			return
		}
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		}, jwt.WithTimeFunc(a.now), jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
