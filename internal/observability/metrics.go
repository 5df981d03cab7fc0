// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "auction_ingest"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Fetch metrics
	FetchTotal    *prometheus.CounterVec
	FetchDuration prometheus.Histogram

	// Extraction metrics
	ExtractionRuleMatches *prometheus.CounterVec
	ExtractionAmbiguous   *prometheus.CounterVec
	ExtractionPanics      prometheus.Counter

	// Write metrics
	WritesTotal      *prometheus.CounterVec
	WriteConflicts   prometheus.Counter
	ResolverMatches  *prometheus.CounterVec
	EventPublishErrs prometheus.Counter

	// Batch metrics
	BatchRunsTotal   prometheus.Counter
	BatchURLsTotal   *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	PipelineDuration *prometheus.HistogramVec

	// Reconciliation metrics
	ImportRowsTotal *prometheus.CounterVec
	ExportRowsTotal prometheus.Counter

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of page fetches by outcome",
		}, []string{"outcome"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Page fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		ExtractionRuleMatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "rule_matches_total",
			Help:      "Total number of field values produced by each rule",
		}, []string{"field", "rule"}),
		ExtractionAmbiguous: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "ambiguous_total",
			Help:      "Total number of required fields that fell back to defaults",
		}, []string{"field"}),
		ExtractionPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "recovered_panics_total",
			Help:      "Total number of extractions recovered from a panic",
		}),

		WritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Total number of listing writes by action and change state",
		}, []string{"action", "changed"}),
		WriteConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_conflicts_total",
			Help:      "Total number of retried version conflicts",
		}),
		ResolverMatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "matches_total",
			Help:      "Total number of resolutions by tier",
		}, []string{"tier"}),
		EventPublishErrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Total number of listing-change events that failed to publish",
		}),

		BatchRunsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Total number of batch runs",
		}),
		BatchURLsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "urls_total",
			Help:      "Total number of batch URLs by outcome",
		}, []string{"outcome"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Batch run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		PipelineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Single-URL pipeline duration in seconds by final stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		ImportRowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "import_rows_total",
			Help:      "Total number of imported CSV rows by result",
		}, []string{"result"}),
		ExportRowsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "export_rows_total",
			Help:      "Total number of exported CSV rows",
		}),

		LastSuccessfulIngestion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful listing write",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered with the default registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics("", nil)
	})
	return defaultMetrics
}

// RecordFetch records a fetch outcome and its latency.
func (m *Metrics) RecordFetch(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(seconds)
}

// RecordExtraction records winning rules and fallback fields.
func (m *Metrics) RecordExtraction(matched map[string]string, ambiguous []string, panicked bool) {
	if m == nil {
		return
	}
	for field, rule := range matched {
		m.ExtractionRuleMatches.WithLabelValues(field, rule).Inc()
	}
	for _, field := range ambiguous {
		m.ExtractionAmbiguous.WithLabelValues(field).Inc()
	}
	if panicked {
		m.ExtractionPanics.Inc()
	}
}

// RecordWrite records a listing mutation.
func (m *Metrics) RecordWrite(action string, changed bool, unixSeconds float64) {
	if m == nil {
		return
	}
	c := "false"
	if changed {
		c = "true"
	}
	m.WritesTotal.WithLabelValues(action, c).Inc()
	m.LastSuccessfulIngestion.Set(unixSeconds)
}

// RecordResolve records the tier that matched, "none" included.
func (m *Metrics) RecordResolve(tier string) {
	if m == nil {
		return
	}
	m.ResolverMatches.WithLabelValues(tier).Inc()
}

// RecordConflict records a retried version conflict.
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.WriteConflicts.Inc()
}

// RecordPublishError records a failed listing-change event.
func (m *Metrics) RecordPublishError() {
	if m == nil {
		return
	}
	m.EventPublishErrs.Inc()
}

// RecordPipeline records one URL pipeline run ending at stage.
func (m *Metrics) RecordPipeline(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordBatch records a finished batch run.
func (m *Metrics) RecordBatch(success, failure int, seconds float64) {
	if m == nil {
		return
	}
	m.BatchRunsTotal.Inc()
	m.BatchURLsTotal.WithLabelValues("success").Add(float64(success))
	m.BatchURLsTotal.WithLabelValues("failure").Add(float64(failure))
	m.BatchDuration.Observe(seconds)
}

// RecordImport records per-row import results.
func (m *Metrics) RecordImport(inserted, updated, deleted, skipped, failed int) {
	if m == nil {
		return
	}
	m.ImportRowsTotal.WithLabelValues("inserted").Add(float64(inserted))
	m.ImportRowsTotal.WithLabelValues("updated").Add(float64(updated))
	m.ImportRowsTotal.WithLabelValues("deleted").Add(float64(deleted))
	m.ImportRowsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.ImportRowsTotal.WithLabelValues("error").Add(float64(failed))
}

// RecordExport records exported rows.
func (m *Metrics) RecordExport(rows int) {
	if m == nil {
		return
	}
	m.ExportRowsTotal.Add(float64(rows))
}
