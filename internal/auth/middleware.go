package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

var errNoToken = errors.New("auth: token missing")

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Verifier *Verifier
}

// RequireAuth rejects requests without a valid bearer token. A token bound
// to a tenant is only accepted for that tenant.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			if common.WriteAppError(w, err) {
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole allows the request through when the caller holds any of roles.
// It must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !common.HasAnyRole(r.Context(), roles...) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, error) {
	if m.Verifier == nil {
		return r.Context(), errors.New("auth: verifier not configured")
	}
	token := bearerToken(r)
	if token == "" {
		return r.Context(), errNoToken
	}
	claims, err := m.Verifier.Verify(token)
	if err != nil {
		return r.Context(), err
	}
	if claims.TenantID != "" {
		if current, ok := tenant.From(r.Context()); ok && !strings.EqualFold(current, claims.TenantID) {
			return r.Context(), common.NewAppError("FORBIDDEN", "token not valid for this tenant", http.StatusForbidden, nil)
		}
	}
	ctx := common.WithUserID(r.Context(), claims.UserID)
	return common.WithRoles(ctx, claims.Roles), nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
