package httpserver

import (
	"context"
	"net/http"
	"strings"
)

// IdentityResolver maps a bearer token to the caller's user identity.
type IdentityResolver interface {
	Identity(token string) (string, error)
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity returns a new context carrying the caller's identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// CurrentIdentity extracts the caller's identity from context, if any.
func CurrentIdentity(r *http.Request) string {
	id, _ := r.Context().Value(identityContextKey).(string)
	return id
}

// AuthMiddleware validates the Bearer token and attaches the identity to the context.
func AuthMiddleware(tokens IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			identity, err := tokens.Identity(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"user_id": CurrentIdentity(r)})
	}
}
