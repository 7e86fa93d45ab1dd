package obs

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultHTTPBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// HTTPMetrics groups the Prometheus collectors of the API server.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
	// Rejected counts requests refused by the rate limiter or body limit.
	Rejected *prometheus.CounterVec
}

// NewHTTPMetrics registers and returns HTTP collectors. Collectors already
// registered on reg are reused so tests can build several servers.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = defaultHTTPBuckets
	}
	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rejected_total",
			Help:      "Requests refused with 413 or 429, by route and status.",
		}, []string{"route", "status"}),
	}
	mustRegisterCollector(reg, m.ReqTotal, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.CounterVec); ok {
			m.ReqTotal = v
		}
	})
	mustRegisterCollector(reg, m.ReqDur, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.HistogramVec); ok {
			m.ReqDur = v
		}
	})
	mustRegisterCollector(reg, m.InFlight, func(c prometheus.Collector) {
		if v, ok := c.(prometheus.Gauge); ok {
			m.InFlight = v
		}
	})
	mustRegisterCollector(reg, m.Rejected, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.CounterVec); ok {
			m.Rejected = v
		}
	})
	return m
}

// Observe records one finished request.
func (m *HTTPMetrics) Observe(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.ReqTotal.WithLabelValues(method, route, code).Inc()
	m.ReqDur.WithLabelValues(method, route).Observe(DurationMillis(elapsed))
	if status == http.StatusTooManyRequests || status == http.StatusRequestEntityTooLarge {
		m.Rejected.WithLabelValues(route, code).Inc()
	}
}

// ParseBucketsCSV converts a comma separated list of millisecond bucket
// boundaries into sorted, unique, positive floats. Invalid entries are skipped.
func ParseBucketsCSV(csv string) []float64 {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []float64
	for _, part := range strings.Split(csv, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
