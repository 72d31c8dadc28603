package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveOCR("vision", OutcomeSuccess, 250*time.Millisecond)
	m.ObserveOCR("vision", OutcomeSuccess, time.Second)
	m.ObserveOCR("vision", OutcomeCancelled, time.Second)
	m.ScanCacheLookup(true)
	m.ExtractionPage()
	m.ExtractionPage()
	m.ExtractionFinished("complete")
	m.DocumentConversion(CacheMiss)
	m.DocumentConversion(CacheHit)
	m.DocumentConversion(CacheHit)

	body := scrape(t, m)
	assert.Contains(t, body, `scanreader_ocr_requests_total{engine="vision",outcome="success"} 2`)
	assert.Contains(t, body, `scanreader_ocr_requests_total{engine="vision",outcome="cancelled"} 1`)
	assert.Contains(t, body, `scanreader_ocr_request_duration_seconds_count{engine="vision"} 3`)
	assert.Contains(t, body, `scanreader_scan_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `scanreader_extraction_pages_total 2`)
	assert.Contains(t, body, `scanreader_extraction_runs_total{status="complete"} 1`)
	assert.Contains(t, body, `scanreader_document_conversions_total{cache="hit"} 2`)
	assert.Contains(t, body, `scanreader_document_conversions_total{cache="miss"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOCR("tesseract", OutcomeError, time.Second)
		m.ScanCacheLookup(false)
		m.ExtractionPage()
		m.ExtractionFinished("failed")
		m.DocumentConversion(CacheMiss)
	})
}

func TestRegistryIncludesRuntimeCollectors(t *testing.T) {
	m := New()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}
