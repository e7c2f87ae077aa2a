// Package metrics exposes a destiny node's Prometheus collectors: import
// throughput, dedup determinations, robot-batch allocation latency, and
// automation fan-out. Collectors live on a private registry rather than
// prometheus's default one, so /metrics carries exactly this node's
// counters and nothing a hosting process happens to have imported.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this node publishes.
type Registry struct {
	reg *prometheus.Registry

	ImportLinesProcessed  *prometheus.CounterVec
	DedupDecisions        *prometheus.CounterVec
	BatchesCut            prometheus.Counter
	BatchAllocationSeconds prometheus.Histogram
	EnhancementsAttached   prometheus.Counter
	AutomationMatches      *prometheus.CounterVec
}

// New builds a Registry with every collector constructed and registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		ImportLinesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "destiny_import_lines_processed_total",
			Help: "Import batch lines processed, labeled by terminal result status.",
		}, []string{"status"}),
		DedupDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "destiny_dedup_decisions_total",
			Help: "Deduplication determinations reached by decide(reference_id), labeled by outcome.",
		}, []string{"determination"}),
		BatchesCut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "destiny_robot_batches_cut_total",
			Help: "Robot enhancement batches cut from the pending enhancement queue.",
		}),
		BatchAllocationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "destiny_batch_allocation_seconds",
			Help:    "Time spent selecting and reserving references for one robot-enhancement-batch.",
			Buckets: prometheus.DefBuckets,
		}),
		EnhancementsAttached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "destiny_enhancements_attached_total",
			Help: "Enhancements attached to references from accepted robot results.",
		}),
		AutomationMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "destiny_automation_matches_total",
			Help: "References matched against a registered automation query, labeled by robot id.",
		}, []string{"robot_id"}),
	}

	reg.MustRegister(
		m.ImportLinesProcessed,
		m.DedupDecisions,
		m.BatchesCut,
		m.BatchAllocationSeconds,
		m.EnhancementsAttached,
		m.AutomationMatches,
	)
	return m
}

// Handler serves this registry's collectors for a /metrics route.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
