package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CollectorsAreRegisteredAndScraped(t *testing.T) {
	m := New()
	m.ImportLinesProcessed.WithLabelValues("completed").Inc()
	m.DedupDecisions.WithLabelValues("duplicate").Inc()
	m.BatchesCut.Inc()
	m.BatchAllocationSeconds.Observe(0.25)
	m.EnhancementsAttached.Inc()
	m.AutomationMatches.WithLabelValues("robot-1").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "destiny_import_lines_processed_total")
	assert.Contains(t, body, `status="completed"`)
	assert.Contains(t, body, "destiny_dedup_decisions_total")
	assert.Contains(t, body, "destiny_robot_batches_cut_total 1")
	assert.Contains(t, body, "destiny_batch_allocation_seconds")
	assert.Contains(t, body, "destiny_enhancements_attached_total 1")
	assert.Contains(t, body, `robot_id="robot-1"`)
}

func TestRegistry_UntouchedCounterVecsPublishNoSeries(t *testing.T) {
	m := New()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.False(t, strings.Contains(body, "destiny_dedup_decisions_total{"),
		"a CounterVec with no observed labels should not publish any series yet")
}
