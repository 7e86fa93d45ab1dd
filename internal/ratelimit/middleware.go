package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

// NewRedisStore returns a limiter store shared by every API replica.
func NewRedisStore(rdb redis.UniversalClient, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// New builds a limiter from a formatted rate such as "120-M".
func New(store limiter.Store, formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	return limiter.New(store, rate), nil
}

// TenantClientKey buckets requests per tenant and client address.
func TenantClientKey(r *http.Request) string {
	ip := common.ClientIP(r)
	if id, ok := tenant.From(r.Context()); ok {
		return tenant.PrefixKey(id, ip)
	}
	return ip
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter *limiter.Limiter
	Key     func(*http.Request) string
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface. Limiter
// failures let the request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil {
		return next
	}
	keyFn := h.Key
	if keyFn == nil {
		keyFn = TenantClientKey
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lctx, err := h.Limiter.Get(r.Context(), keyFn(r))
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			retryAfter := max(time.Until(time.Unix(lctx.Reset, 0)).Seconds(), 0)
			headers.Set("Retry-After", strconv.Itoa(int(retryAfter)))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
