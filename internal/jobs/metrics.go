package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	issues   *prometheus.CounterVec
	matched  *prometheus.CounterVec
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

// AddIntegrityIssues increments the integrity issue counter for a scan scope
// (numbering, ledger) and organization.
func (m *Metrics) AddIntegrityIssues(scope, organizationID string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if organizationID == "" {
		organizationID = "unknown"
	}
	m.issues.WithLabelValues(scope, organizationID).Add(float64(count))
}

// AddReconciled records auto-match outcomes.
func (m *Metrics) AddReconciled(matched, unmatched int) {
	if m == nil {
		return
	}
	if matched > 0 {
		m.matched.WithLabelValues("matched").Add(float64(matched))
	}
	if unmatched > 0 {
		m.matched.WithLabelValues("unmatched").Add(float64(unmatched))
	}
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
	issues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_integrity_issues_total",
		Help: "Integrity issues reported by background scans grouped by scope and organization.",
	}, []string{"scope", "organization"})
	matched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_reconcile_transactions_total",
		Help: "Bank transactions processed by background auto-match grouped by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, issues, matched)
	return &Metrics{runs: runs, failures: failures, duration: duration, issues: issues, matched: matched}
}
