package tenant_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-admin/internal/tenant"
)

const tenantUUID = "5f0c3d6e-2a51-4c0e-9a8d-2f7b1b6f9e10"

func captureTenant(t *testing.T, r *tenant.Resolver, req *http.Request) (string, bool) {
	t.Helper()
	var (
		got string
		ok  bool
	)
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		got, ok = tenant.From(req.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got, ok
}

func TestResolverPrefersHeader(t *testing.T) {
	r := tenant.NewResolver("", "toko.test", "")
	req := httptest.NewRequest(http.MethodGet, "http://shop.toko.test/", nil)
	req.Header.Set("X-Tenant-ID", tenantUUID)

	got, ok := captureTenant(t, r, req)
	require.True(t, ok)
	require.Equal(t, tenantUUID, got)
}

func TestResolverLooksUpSubdomainSlug(t *testing.T) {
	r := tenant.NewResolver("X-Tenant", "toko.test", "")
	r.Lookup = func(_ context.Context, slug string) (string, error) {
		if slug == "kopi" {
			return tenantUUID, nil
		}
		return "", tenant.ErrUnknownTenant
	}

	got, ok := captureTenant(t, r, httptest.NewRequest(http.MethodGet, "http://KOPI.toko.test:8080/", nil))
	require.True(t, ok)
	require.Equal(t, tenantUUID, got)

	_, ok = captureTenant(t, r, httptest.NewRequest(http.MethodGet, "http://teh.toko.test/", nil))
	require.False(t, ok)

	_, ok = captureTenant(t, r, httptest.NewRequest(http.MethodGet, "http://toko.test/", nil))
	require.False(t, ok)
}

func TestResolverDropsTenantOnLookupError(t *testing.T) {
	r := tenant.NewResolver("", "", "fallback")
	r.Lookup = func(context.Context, string) (string, error) { return "", errors.New("db down") }

	_, ok := captureTenant(t, r, httptest.NewRequest(http.MethodGet, "http://localhost/", nil))
	require.False(t, ok)
}

func TestResolverCanonicalisesUUID(t *testing.T) {
	r := tenant.NewResolver("", "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "5F0C3D6E-2A51-4C0E-9A8D-2F7B1B6F9E10")

	got, ok := captureTenant(t, r, req)
	require.True(t, ok)
	require.Equal(t, tenantUUID, got)
}

func TestRequireTenant(t *testing.T) {
	h := tenant.RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "TENANT_REQUIRED")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(tenant.With(req.Context(), tenantUUID))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPrefixKey(t *testing.T) {
	require.Equal(t, "t1:cart-lock:c1", tenant.PrefixKey("t1", "cart-lock:c1"))
	require.Equal(t, "plain", tenant.PrefixKey("", "plain"))
}
