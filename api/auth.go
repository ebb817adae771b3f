package api

import (
	"context"
	"net/http"
	"strings"

	"lumen/core"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	roleKey   contextKey = "role"
)

// WithUserID returns a context carrying the authenticated user ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFrom extracts the authenticated user ID from the context.
func UserIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRole returns a context carrying the authenticated user's role.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// RoleFrom extracts the authenticated user's role from the context.
func RoleFrom(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}

// jwtAuthMiddleware provides JWT authentication
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Auth.Enabled {
			// Auth is disabled, allow all requests through with full access
			ctx := WithUserID(r.Context(), "")
			ctx = WithRole(ctx, core.RoleAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := validateJWT(tokenString, a.config)
		if err != nil {
			a.logger.Errorw("Invalid JWT token", "error", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := WithUserID(r.Context(), claims.Subject)
		ctx = WithRole(ctx, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects the request unless the caller holds the admin role.
// Returns true when the handler may proceed.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if RoleFrom(r.Context()) != core.RoleAdmin {
		writeError(w, http.StatusForbidden, "Admin role required", nil, a.logger)
		return false
	}
	return true
}
