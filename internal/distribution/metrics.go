package distribution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: прогоны по исходу (ok / error / skipped)
	RunsTotal *prometheus.CounterVec

	// Сколько занял прогон целиком, включая доставку
	RunDuration prometheus.Histogram

	// Размер последнего набора кандидатов
	CandidatesLast prometheus.Gauge

	// Всего доставлено правил / помечено через side-channel
	DeliveredTotal prometheus.Counter
	MarkedTotal    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистра метрики живут в локальном
	// реестре и никуда не экспортируются.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "uapes_distribution_runs_total",
			Help: "Total number of distribution runs by outcome.",
		}, []string{"outcome"}),

		RunDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "uapes_distribution_run_duration_seconds",
			Help:    "Histogram of distribution run durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		CandidatesLast: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "uapes_distribution_candidates",
			Help: "Number of candidate rules in the last run.",
		}),

		DeliveredTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "uapes_distribution_delivered_rules_total",
			Help: "Total number of rules handed off to delivery.",
		}),

		MarkedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "uapes_distribution_marked_rules_total",
			Help: "Total number of rules marked via the side-channel.",
		}),
	}
}
