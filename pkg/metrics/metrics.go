// Package metrics defines the Prometheus collectors used by the engine and
// exposes an HTTP handler for scraping. Every recording method is safe to
// call on a nil *Metrics so that embedded users can run without Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "searchcore"

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	JobsQueued    prometheus.Gauge
	JobsRunning   prometheus.Gauge
	JobsFinished  *prometheus.CounterVec
	JobsCancelled prometheus.Counter

	IndexesOpen      prometheus.Gauge
	IndexSaves       *prometheus.CounterVec
	IndexSaveTime    prometheus.Histogram
	DocumentsIndexed *prometheus.CounterVec

	SearchesTotal    *prometheus.CounterVec
	SearchLatency    prometheus.Histogram
	SearchCandidates prometheus.Histogram
	IndexQueryTime   prometheus.Histogram

	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
		JobsQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "queued",
				Help:      "Jobs waiting for a worker.",
			},
		),
		JobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "running",
				Help:      "Jobs currently executing.",
			},
		),
		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "finished_total",
				Help:      "Jobs that ran to completion by outcome (ok, failed).",
			},
			[]string{"outcome"},
		),
		JobsCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "cancelled_total",
				Help:      "Jobs cancelled before or while running.",
			},
		),
		IndexesOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "open",
				Help:      "Indexes currently held in memory.",
			},
		),
		IndexSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "saves_total",
				Help:      "Index save operations by status.",
			},
			[]string{"status"},
		),
		IndexSaveTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "save_seconds",
				Help:      "Time spent writing an index to disk.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DocumentsIndexed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "documents_total",
				Help:      "Documents indexed or removed by operation.",
			},
			[]string{"op"},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "queries_total",
				Help:      "Searches by result type (ok, zero_result, cancelled, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "latency_seconds",
				Help:      "End-to-end search latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SearchCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "candidates",
				Help:      "Candidate documents per participant after index lookup.",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
		),
		IndexQueryTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "index_query_seconds",
				Help:      "Time spent in index lookups per query job.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Candidate cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Candidate cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.JobsQueued,
		m.JobsRunning,
		m.JobsFinished,
		m.JobsCancelled,
		m.IndexesOpen,
		m.IndexSaves,
		m.IndexSaveTime,
		m.DocumentsIndexed,
		m.SearchesTotal,
		m.SearchLatency,
		m.SearchCandidates,
		m.IndexQueryTime,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

func (m *Metrics) JobQueued(delta float64) {
	if m == nil {
		return
	}
	m.JobsQueued.Add(delta)
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

func (m *Metrics) JobFinished(ok bool) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.JobsFinished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobCancelled() {
	if m == nil {
		return
	}
	m.JobsCancelled.Inc()
}

func (m *Metrics) SetIndexesOpen(n int) {
	if m == nil {
		return
	}
	m.IndexesOpen.Set(float64(n))
}

func (m *Metrics) IndexSaved(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.IndexSaves.WithLabelValues(status).Inc()
	m.IndexSaveTime.Observe(d.Seconds())
}

// DocumentIndexed counts an addition ("add") or removal ("remove").
func (m *Metrics) DocumentIndexed(op string) {
	if m == nil {
		return
	}
	m.DocumentsIndexed.WithLabelValues(op).Inc()
}

func (m *Metrics) SearchDone(resultType string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(resultType).Inc()
	m.SearchLatency.Observe(d.Seconds())
}

func (m *Metrics) Candidates(n int) {
	if m == nil {
		return
	}
	m.SearchCandidates.Observe(float64(n))
}

func (m *Metrics) IndexQueried(d time.Duration) {
	if m == nil {
		return
	}
	m.IndexQueryTime.Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
