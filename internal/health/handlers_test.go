package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-admin/internal/health"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := health.Handler{Checks: map[string]health.Check{
		"db":    health.PingDB(pinger{}),
		"redis": health.PingRedis(client),
	}, Timeout: 200 * time.Millisecond}

	code, status := ready(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"db": "ok", "redis": "ok"}, status)
}

func TestReadyFailure(t *testing.T) {
	h := health.Handler{Checks: map[string]health.Check{
		"db":    health.PingDB(pinger{err: errors.New("db down")}),
		"redis": health.PingDB(pinger{}),
	}}
	code, status := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "db down", status["db"])
	require.Equal(t, "ok", status["redis"])
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Checks: map[string]health.Check{"db": health.PingDB(pinger{})}}
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(false)
	code, _ := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)

	health.SetReady(true)
	code, _ = ready(t, h)
	require.Equal(t, http.StatusOK, code)
}
