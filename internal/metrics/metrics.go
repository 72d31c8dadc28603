package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scanreader"

const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"

	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics holds the reader's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ocrRequests        *prometheus.CounterVec
	ocrDuration        *prometheus.HistogramVec
	scanCache          *prometheus.CounterVec
	extractionPages    prometheus.Counter
	extractionRuns     *prometheus.CounterVec
	documentConversion *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ocrRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_requests_total",
			Help:      "OCR requests by engine and outcome.",
		}, []string{"engine", "outcome"}),
		ocrDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_request_duration_seconds",
			Help:      "Time from dispatch to completion of an OCR request.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"engine"}),
		scanCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cache_lookups_total",
			Help:      "Page scan cache lookups.",
		}, []string{"result"}),
		extractionPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_pages_total",
			Help:      "Pages written by batch text extraction.",
		}),
		extractionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_runs_total",
			Help:      "Finished batch extractions by status.",
		}, []string{"status"}),
		documentConversion: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_conversions_total",
			Help:      "Word to HTML conversions by cache result.",
		}, []string{"cache"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ocrRequests,
		m.ocrDuration,
		m.scanCache,
		m.extractionPages,
		m.extractionRuns,
		m.documentConversion,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOCR(engine, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ocrRequests.WithLabelValues(engine, outcome).Inc()
	m.ocrDuration.WithLabelValues(engine).Observe(elapsed.Seconds())
}

func (m *Metrics) ScanCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := CacheMiss
	if hit {
		result = CacheHit
	}
	m.scanCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ExtractionPage() {
	if m == nil {
		return
	}
	m.extractionPages.Inc()
}

func (m *Metrics) ExtractionFinished(status string) {
	if m == nil {
		return
	}
	m.extractionRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) DocumentConversion(cache string) {
	if m == nil {
		return
	}
	m.documentConversion.WithLabelValues(cache).Inc()
}
