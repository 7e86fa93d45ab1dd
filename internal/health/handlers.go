package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-admin/internal/common"
)

var notReady atomic.Bool

// SetReady flips the process readiness flag. Ready reports 503 while false,
// which lets the load balancer drain the instance during shutdown.
func SetReady(ready bool) {
	notReady.Store(!ready)
}

// Check pings one dependency.
type Check func(ctx context.Context) error

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingDB checks a database pool.
func PingDB(p Pinger) Check {
	return func(ctx context.Context) error { return p.Ping(ctx) }
}

// PingRedis checks a Redis client.
func PingRedis(c redis.UniversalClient) Check {
	return func(ctx context.Context) error { return c.Ping(ctx).Err() }
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks  map[string]Check
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check in parallel and reports 503 when any fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if notReady.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	if len(h.Checks) == 0 {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no dependencies configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	var (
		mu     sync.Mutex
		status = make(map[string]string, len(h.Checks))
		failed bool
	)
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var g errgroup.Group
	for _, name := range names {
		check := h.Checks[name]
		g.Go(func() error {
			result := "ok"
			if err := check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			status[name] = result
			if result != "ok" {
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if failed {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
