// Package metrics exposes Prometheus collectors for the OCR pipeline,
// ingestion and arbitration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brieflink"

// Metrics holds all pipeline collectors, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// Recognition
	PagesTotal        *prometheus.CounterVec   // outcome: completed|failed|skipped
	OCRCallsTotal     *prometheus.CounterVec   // provider, status
	OCRCallDuration   *prometheus.HistogramVec // provider
	OCRCostUSD        *prometheus.CounterVec   // provider
	RerendersTotal    *prometheus.CounterVec   // kept: primary|retry
	PageConfidence    prometheus.Histogram
	BatchesInFlight   prometheus.Gauge
	BatchesFinished   *prometheus.CounterVec // status
	IndexRunsTotal    *prometheus.CounterVec // status
	IngestPagesTotal  prometheus.Counter
	IngestSkipped     *prometheus.CounterVec // reason
	ArbitrationRuns   prometheus.Counter
	DecisionsTotal    *prometheus.CounterVec // outcome
	HTTPRequestsTotal *prometheus.CounterVec // method, route, code
}

// New creates a fresh registry with the Go and process collectors plus
// the pipeline collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_processed_total",
			Help:      "Pages handled by the recognition worker, by outcome.",
		}, []string{"outcome"}),
		OCRCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_calls_total",
			Help:      "Recognition engine calls, by provider and status.",
		}, []string{"provider", "status"}),
		OCRCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_call_duration_seconds",
			Help:      "Duration of recognition engine calls.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		OCRCostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_cost_usd_total",
			Help:      "Reported recognition cost in USD.",
		}, []string{"provider"}),
		RerendersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_rerenders_total",
			Help:      "Low-confidence re-renders, by which result was kept.",
		}, []string{"kept"}),
		PageConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_confidence",
			Help:      "Confidence of completed pages.",
			Buckets:   []float64{.1, .2, .3, .4, .5, .6, .65, .7, .8, .9, .95, 1},
		}),
		BatchesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_in_flight",
			Help:      "Batches currently being processed.",
		}),
		BatchesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_finished_total",
			Help:      "Finished batches, by final status.",
		}, []string{"status"}),
		IndexRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_runs_total",
			Help:      "Index extractor runs, by result status.",
		}, []string{"status"}),
		IngestPagesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_pages_total",
			Help:      "Pages upserted from result bundles.",
		}),
		IngestSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_skipped_total",
			Help:      "Bundles or responses skipped during ingestion, by reason.",
		}, []string{"reason"}),
		ArbitrationRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbitration_runs_total",
			Help:      "Completed arbitration runs.",
		}),
		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Arbitration decisions, by outcome.",
		}, []string{"outcome"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}
}

// Registry returns the underlying registry, for tests and gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
