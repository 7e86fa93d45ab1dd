package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartRecalculationsTotal counts cart recalculations by trigger and outcome.
	CartRecalculationsTotal *prometheus.CounterVec
	// CartRecalculationDuration records recalculation latency in milliseconds.
	CartRecalculationDuration *prometheus.HistogramVec
	// PromotionAppliedTotal counts cart lines priced by a promotion, by kind.
	PromotionAppliedTotal *prometheus.CounterVec
	// CartFreeUnitsTotal counts units made free by buy_x_get_y_free promotions.
	CartFreeUnitsTotal prometheus.Counter
	// PromotionChangesTotal counts administrative promotion mutations.
	PromotionChangesTotal *prometheus.CounterVec
	// RecalcJobsTotal counts tenant recalculation jobs by outcome.
	RecalcJobsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartRecalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_recalculations_total",
			Help:      "Count of cart recalculations by trigger and result.",
		}, []string{"trigger", "result"})
		CartRecalculationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_recalculation_duration_ms",
			Help:      "Latency of cart recalculation including persistence in milliseconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"trigger"})
		PromotionAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_applied_total",
			Help:      "Count of cart lines priced by an automatic promotion.",
		}, []string{"kind"})
		CartFreeUnitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_free_units_total",
			Help:      "Units marked free by buy_x_get_y_free promotions.",
		})
		PromotionChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_changes_total",
			Help:      "Count of promotion create, update and delete operations.",
		}, []string{"action"})
		RecalcJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_recalc_jobs_total",
			Help:      "Count of tenant wide recalculation jobs by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, CartRecalculationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartRecalculationsTotal = v
			}
		})
		mustRegisterCollector(reg, CartRecalculationDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CartRecalculationDuration = v
			}
		})
		mustRegisterCollector(reg, PromotionAppliedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionAppliedTotal = v
			}
		})
		mustRegisterCollector(reg, CartFreeUnitsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CartFreeUnitsTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionChangesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionChangesTotal = v
			}
		})
		mustRegisterCollector(reg, RecalcJobsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RecalcJobsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}

// The Record helpers are no-ops until MustRegisterDomainMetrics has run.

// RecordRecalculation observes one cart recalculation.
func RecordRecalculation(trigger, result string, elapsed time.Duration) {
	if CartRecalculationsTotal != nil {
		CartRecalculationsTotal.WithLabelValues(trigger, result).Inc()
	}
	if CartRecalculationDuration != nil {
		CartRecalculationDuration.WithLabelValues(trigger).Observe(DurationMillis(elapsed))
	}
}

// RecordPromotionApplied counts a line priced by a promotion of kind.
func RecordPromotionApplied(kind string) {
	if PromotionAppliedTotal != nil {
		PromotionAppliedTotal.WithLabelValues(kind).Inc()
	}
}

// RecordFreeUnits adds n free units.
func RecordFreeUnits(n int) {
	if CartFreeUnitsTotal != nil && n > 0 {
		CartFreeUnitsTotal.Add(float64(n))
	}
}

// RecordPromotionChange counts a promotion mutation.
func RecordPromotionChange(action string) {
	if PromotionChangesTotal != nil {
		PromotionChangesTotal.WithLabelValues(action).Inc()
	}
}

// RecordRecalcJob counts a processed recalculation job.
func RecordRecalcJob(result string) {
	if RecalcJobsTotal != nil {
		RecalcJobsTotal.WithLabelValues(result).Inc()
	}
}
