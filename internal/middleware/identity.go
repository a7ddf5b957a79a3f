package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/response"
)

// Headers set by the upstream auth gateway for every authenticated request.
const (
	HeaderUserID   = "X-User-ID"
	HeaderOrgID    = "X-Org-ID"
	HeaderUserRole = "X-User-Role"
)

// RoleAdmin may manage storage accounts and billing status.
const RoleAdmin = "admin"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// OrgIDKey is the context key for organization ID.
	OrgIDKey contextKey = "org_id"
	// UserIDKey is the context key for user ID.
	UserIDKey contextKey = "user_id"
	roleKey   contextKey = "role"
)

// Identity reads the caller's identity from the gateway headers. Requests
// without a valid user and organization are rejected.
func Identity() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := uuid.Parse(r.Header.Get(HeaderUserID))
			if err != nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}
			orgID, err := uuid.Parse(r.Header.Get(HeaderOrgID))
			if err != nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), userID, orgID, r.Header.Get(HeaderUserRole))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers that do not carry role.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetRoleFromContext(r.Context()) != role {
				response.Error(w, apierrors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity stores an identity in ctx.
func WithIdentity(ctx context.Context, userID, orgID uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, OrgIDKey, orgID)
	return context.WithValue(ctx, roleKey, role)
}

// GetUserIDFromContext retrieves the user ID from context.
func GetUserIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// GetOrgIDFromContext retrieves the organization ID from context.
func GetOrgIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(OrgIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// GetRoleFromContext retrieves the caller's role from context.
func GetRoleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(roleKey).(string); ok {
		return v
	}
	return ""
}
