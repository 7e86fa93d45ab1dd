package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

func newIdem(t *testing.T) (common.Idem, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}, mr
}

func idemRequest(tenantID, path, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Idempotency-Key", key)
	return req.WithContext(tenant.With(req.Context(), tenantID))
}

func TestIdemRejectsReplay(t *testing.T) {
	idem, _ := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest("t1", "/api/v1/carts", "abc"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest("t1", "/api/v1/carts", "abc"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "IDEMPOTENT_REPLAY")
	require.Equal(t, 1, calls)
}

func TestIdemScopesKeysByTenantAndPath(t *testing.T) {
	idem, _ := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for _, req := range []*http.Request{
		idemRequest("t1", "/api/v1/carts", "same"),
		idemRequest("t2", "/api/v1/carts", "same"),
		idemRequest("t1", "/api/v1/carts/x/items", "same"),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 3, calls)
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem, _ := newIdem(t)
	status := http.StatusInternalServerError
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest("t1", "/retry", "k"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	status = http.StatusOK
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest("t1", "/retry", "k"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIdemPassThroughWithoutHeader(t *testing.T) {
	idem, mr := newIdem(t)
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, mr.Keys())
}
