package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/register"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	sessionsOpened  *prometheus.CounterVec
	sessionsClosed  *prometheus.CounterVec
	countMismatches *prometheus.CounterVec
	movements       *prometheus.CounterVec
	movementAmount  *prometheus.CounterVec

	jobsOnce sync.Once
	jobs     *jobmetrics.Metrics
}

var _ register.Instrumentation = (*Metrics)(nil)

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik register.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	opened := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_register_sessions_opened_total",
		Help: "Register sessions opened per branch.",
	}, []string{"branch"})
	closed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_register_sessions_closed_total",
		Help: "Register sessions closed per branch.",
	}, []string{"branch"})
	mismatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_register_count_mismatches_total",
		Help: "Closing counts rejected for falling outside tolerance.",
	}, []string{"branch"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_register_movements_total",
		Help: "Manual cash movements recorded by kind.",
	}, []string{"kind"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_register_movement_amount_total",
		Help: "Sum of manual cash movement amounts by kind.",
	}, []string{"kind"})
	registry.MustRegister(requests, duration, opened, closed, mismatches, movements, amount)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		sessionsOpened:  opened,
		sessionsClosed:  closed,
		countMismatches: mismatches,
		movements:       movements,
		movementAmount:  amount,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Jobs returns job collectors bound to this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return jobmetrics.NewMetrics(nil)
	}
	m.jobsOnce.Do(func() {
		m.jobs = jobmetrics.NewMetrics(m.registry)
	})
	return m.jobs
}

// SessionOpened implements register.Instrumentation.
func (m *Metrics) SessionOpened(branchID int64) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(branchLabel(branchID)).Inc()
}

// SessionClosed implements register.Instrumentation.
func (m *Metrics) SessionClosed(branchID int64) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(branchLabel(branchID)).Inc()
}

// CountMismatch implements register.Instrumentation.
func (m *Metrics) CountMismatch(branchID int64) {
	if m == nil {
		return
	}
	m.countMismatches.WithLabelValues(branchLabel(branchID)).Inc()
}

// MovementRecorded implements register.Instrumentation.
func (m *Metrics) MovementRecorded(kind register.MovementKind, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(string(kind)).Inc()
	m.movementAmount.WithLabelValues(string(kind)).Add(amount.InexactFloat64())
}

func branchLabel(branchID int64) string {
	return strconv.FormatInt(branchID, 10)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
