package http

import (
	"context"
	"net/http"
	"strings"

	"prarambh-quiz-service/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenParser verifies bearer tokens; implemented by auth.TokenManager.
type TokenParser interface {
	Parse(token string) (auth.Claims, error)
}

// RequireAuth resolves the caller from the Authorization header. All
// identity downstream comes from the verified claims, never from request
// fields.
func RequireAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == "" || raw == header {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// RequireAdmin allows only callers whose verified claims carry the admin flag.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := callerClaims(r.Context())
		if !ok || !claims.IsAdmin {
			writeErrorCode(w, http.StatusUnauthorized, "not_admin", "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerClaims(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(auth.Claims)
	return claims, ok
}
