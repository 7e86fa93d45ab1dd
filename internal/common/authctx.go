package common

import (
	"context"
	"slices"
)

type ctxKey string

const (
	userIDKey ctxKey = "auth/user-id"
	rolesKey  ctxKey = "auth/roles"
)

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithRoles stores the roles granted by the bearer token.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, slices.Clone(roles))
}

// Roles returns the roles stored by WithRoles.
func Roles(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}

// HasAnyRole reports whether the context carries at least one of want.
func HasAnyRole(ctx context.Context, want ...string) bool {
	for _, role := range Roles(ctx) {
		if slices.Contains(want, role) {
			return true
		}
	}
	return false
}
