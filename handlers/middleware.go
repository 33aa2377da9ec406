package handlers

import (
	"context"
	"net/http"
	"strings"

	"taskboard/services"
)

type contextKey string

const identityContextKey contextKey = "identity"

type AuthMiddleware struct {
	authService *services.AuthService
}

func NewAuthMiddleware(authService *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Extract token from Bearer format
		authParts := strings.Split(authHeader, " ")
		if len(authParts) != 2 || authParts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		identity, err := m.authService.VerifyToken(authParts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the identity the auth middleware bound to the request.
func identityFrom(r *http.Request) (services.Identity, bool) {
	identity, ok := r.Context().Value(identityContextKey).(services.Identity)
	return identity, ok
}
