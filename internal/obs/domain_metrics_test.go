package obs_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-admin/internal/obs"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

func TestDomainMetricsRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("toko", registry)

	obs.RecordRecalculation("item_added", "ok", 12*time.Millisecond)
	obs.RecordRecalculation("item_added", "ok", 3*time.Millisecond)
	obs.RecordPromotionApplied("percentage")
	obs.RecordFreeUnits(2)
	obs.RecordFreeUnits(-1)
	obs.RecordPromotionChange("created")
	obs.RecordRecalcJob("error")

	require.Equal(t, float64(2), testutil.ToFloat64(obs.CartRecalculationsTotal.WithLabelValues("item_added", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.PromotionAppliedTotal.WithLabelValues("percentage")))
	require.Equal(t, float64(2), testutil.ToFloat64(obs.CartFreeUnitsTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.PromotionChangesTotal.WithLabelValues("created")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.RecalcJobsTotal.WithLabelValues("error")))
	require.Equal(t, 1, testutil.CollectAndCount(obs.CartRecalculationDuration))
}

func TestRequestLoggerIncludesTenant(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.RequestLogger{Logger: zerolog.New(&buf)}
	handler := logger.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/carts/abc", nil)
	req = req.WithContext(tenant.With(req.Context(), "7d1f7a6e-8d0a-4a55-9d61-3b9c5f0c2f11"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	require.True(t, strings.Contains(line, `"tenant_id":"7d1f7a6e-8d0a-4a55-9d61-3b9c5f0c2f11"`), line)
	require.True(t, strings.Contains(line, `"level":"error"`), line)
	require.True(t, strings.Contains(line, `"status":503`), line)
}
