package common

import (
	"context"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-admin/internal/tenant"
)

// Idem provides an Idempotency-Key middleware backed by Redis.
//
// Keys are namespaced by tenant, method and path so that the same client key
// reused on another endpoint or by another tenant is not treated as a replay.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

func idemKey(r *http.Request, header string) string {
	tenantID, _ := tenant.From(r.Context())
	return tenant.PrefixKey(tenantID, "idem:"+Digest(r.Method, r.URL.Path, header))
}

// Middleware enforces idempotency semantics for write endpoints. A request
// that fails with a server error releases its key so the client can retry.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := idemKey(r, header)
		ok, err := i.R.SetNX(ctx, key, "locked", i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, "{\"error\":{\"code\":\"IDEMPOTENT_REPLAY\",\"message\":\"duplicate request\"}}")
			return
		}
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec.status >= http.StatusInternalServerError {
				_ = i.R.Del(context.Background(), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
