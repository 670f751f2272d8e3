package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/discount-engine/pkg/errors"
	"github.com/utafrali/discount-engine/pkg/httputil"
)

// Headers set by the API gateway after it has authenticated the caller.
const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// RoleAdmin is the role required by the administrative endpoints.
const RoleAdmin = "admin"

type identityKey struct{}

type identity struct {
	userID string
	role   string
}

// GatewayIdentity copies the gateway identity headers into the request
// context. Requests without them are treated as anonymous.
func GatewayIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity{
			userID: strings.TrimSpace(r.Header.Get(UserIDHeader)),
			role:   strings.ToLower(strings.TrimSpace(r.Header.Get(UserRoleHeader))),
		}
		if id.userID == "" && id.role == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// RequireRole rejects requests whose gateway role is not role.
// Anonymous requests get 401, others 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserIDFromContext(r.Context()) == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), nil)
				return
			}
			if RoleFromContext(r.Context()) != role {
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the gateway user id, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id.userID
}

// RoleFromContext returns the gateway role, or "" for anonymous requests.
func RoleFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id.role
}
