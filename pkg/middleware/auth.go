// Package middleware provides HTTP middleware for authentication and
// rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/tallyhq/tally/pkg/auth"
	"github.com/tallyhq/tally/pkg/contextkeys"
	"github.com/tallyhq/tally/pkg/httputil"
)

// AuthMiddleware validates Bearer JWTs and loads the user id into the
// request context.
type AuthMiddleware struct {
	tokens   *auth.TokenManager
	optional bool // if true, requests without a token pass through
}

// NewAuthMiddleware creates an authentication middleware
func NewAuthMiddleware(tokens *auth.TokenManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.tokens.Validate(parts[1], auth.TokenTypeAccess)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts the authenticated user id from the request
func GetUserID(r *http.Request) (int64, bool) {
	return contextkeys.GetUserID(r.Context())
}

// RequireUser writes a 401 and returns false when no user is present
func RequireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := GetUserID(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return userID, true
}
