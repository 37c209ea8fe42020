package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность обработки запроса по маршрутам
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее количество запросов
	TotalRequests *prometheus.CounterVec

	// Errors: ответы с кодом 5xx
	ErrorTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - без регистратора метрики уходят в никуда
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uapes_http_request_duration_seconds",
			Help:    "Histogram of request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route", "method", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "uapes_http_requests_total",
			Help: "Total number of processed requests.",
		}, []string{"route", "method"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "uapes_http_errors_total",
			Help: "Total number of 5xx responses by route.",
		}, []string{"route"}),
	}
}

// instrument снимает latency/traffic/errors с каждого запроса. Ключом
// служит шаблон маршрута chi, а не сырой путь, чтобы не взрывать
// кардинальность метрик идентификаторами.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chiRoutePattern(r)
		m.TotalRequests.WithLabelValues(route, r.Method).Inc()
		m.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
		if ww.Status() >= http.StatusInternalServerError {
			m.ErrorTotal.WithLabelValues(route).Inc()
		}
	})
}

func chiRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
