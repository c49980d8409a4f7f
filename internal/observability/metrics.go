package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	numbersIssued   *prometheus.CounterVec
	entriesPosted   *prometheus.CounterVec
	statementLines  *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry, metrik HTTP, metrik domain dan metrik job.
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
	issued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_document_numbers_total",
		Help: "Nomor dokumen yang diterbitkan per tipe dokumen, dipisah baru atau dipakai ulang.",
	}, []string{"document_type", "outcome"})
	posted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_entries_total",
		Help: "Jurnal yang ditulis per sumber, dipisah posted atau skipped.",
	}, []string{"source_type", "outcome"})
	lines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_statement_lines_total",
		Help: "Baris mutasi bank yang diimpor, dipisah imported atau duplicate.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, issued, posted, lines)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		numbersIssued:   issued,
		entriesPosted:   posted,
		statementLines:  lines,
		jobs:            jobmetrics.NewMetrics(registry),
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

// Jobs mengembalikan metrik job yang terdaftar pada registry yang sama.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// DocumentNumbered mencatat satu penerbitan nomor dokumen.
func (m *Metrics) DocumentNumbered(docType string, reused bool) {
	if m == nil {
		return
	}
	outcome := "issued"
	if reused {
		outcome = "reused"
	}
	m.numbersIssued.WithLabelValues(docType, outcome).Inc()
}

// EntriesPosted mencatat hasil satu pemanggilan Record*.
func (m *Metrics) EntriesPosted(sourceType string, count int, skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		m.entriesPosted.WithLabelValues(sourceType, "skipped").Inc()
		return
	}
	m.entriesPosted.WithLabelValues(sourceType, "posted").Add(float64(count))
}

// StatementImported mencatat baris mutasi yang diimpor dan duplikatnya.
func (m *Metrics) StatementImported(imported, duplicates int) {
	if m == nil {
		return
	}
	m.statementLines.WithLabelValues("imported").Add(float64(imported))
	m.statementLines.WithLabelValues("duplicate").Add(float64(duplicates))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
