package obs_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-admin/internal/obs"
)

func TestCartIDReachesRequestLog(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.RequestLogger{Logger: zerolog.New(&buf)}.Middleware)
	r.Get("/carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		obs.SetCartID(r.Context(), chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/carts/c-42", nil))

	line := buf.String()
	require.Contains(t, line, `"cart_id":"c-42"`)
	require.Contains(t, line, `"route":"/carts/{id}"`)
}

func TestSetCartIDWithoutMiddlewareIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	obs.SetCartID(req.Context(), "c1")
	require.Empty(t, obs.CartIDFromContext(req.Context()))
}

func TestHTTPMetricsCountRejections(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("toko", nil, registry)

	metrics.Observe(http.MethodPost, "/api/v1/carts/{id}/items", http.StatusTooManyRequests, 0)
	metrics.Observe(http.MethodPost, "/api/v1/carts/{id}/items", http.StatusOK, 0)
	metrics.Observe(http.MethodPost, "/api/v1/carts/{id}/items", http.StatusNotFound, 0)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Rejected.WithLabelValues("/api/v1/carts/{id}/items", "429")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.Rejected))

	again := obs.NewHTTPMetrics("toko", nil, registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, obs.ParseBucketsCSV(" "))
	require.Equal(t, []float64{5, 10, 50}, obs.ParseBucketsCSV("50, 10,x,-1,5,10"))
}
