package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	staleSessions *prometheus.GaugeVec
	closeReports  *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetStaleSessions publishes how many sessions of a branch have been open
// longer than the configured threshold.
func (m *Metrics) SetStaleSessions(branchID int64, count int) {
	if m == nil {
		return
	}
	m.staleSessions.WithLabelValues(formatInt(branchID)).Set(float64(count))
}

// ResetStaleSessions clears the gauge before a new scan.
func (m *Metrics) ResetStaleSessions() {
	if m == nil {
		return
	}
	m.staleSessions.Reset()
}

// AddCloseReport counts generated closing reports by outcome.
func (m *Metrics) AddCloseReport(balanced bool) {
	if m == nil {
		return
	}
	outcome := "balanced"
	if !balanced {
		outcome = "variance"
	}
	m.closeReports.WithLabelValues(outcome).Inc()
}

func formatInt(v int64) string {
	if v <= 0 {
		return "0"
	}
	return strconv.FormatInt(v, 10)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	stale := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_register_stale_sessions",
		Help: "Register sessions open longer than the stale threshold, per branch.",
	}, []string{"branch"})
	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_register_close_reports_total",
		Help: "Closing reports generated, by reconciliation outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, stale, reports)
	return &Metrics{runs: runs, failures: failures, duration: duration, staleSessions: stale, closeReports: reports}
}
