package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VectorDBMetrics contains the service metrics. Each instance owns its
// registry, so tests and binaries never share series.
type VectorDBMetrics struct {
	Registry *prometheus.Registry

	// Insert metrics
	InsertBatchesTotal  prometheus.Counter
	InsertFailuresTotal prometheus.Counter
	PairsRecordedTotal  prometheus.Counter
	PairsDuplicateTotal prometheus.Counter
	VectorsIndexedTotal prometheus.Counter
	InsertDuration      prometheus.Histogram

	// Lookup metrics
	LookupsTotal       prometheus.Counter
	LookupQueriesTotal prometheus.Counter
	LookupErrorsTotal  prometheus.Counter
	OrphanedHitsTotal  prometheus.Counter
	LookupDuration     prometheus.Histogram

	// Collection lifecycle
	CollectionsCreatedTotal prometheus.Counter
	CollectionsDeletedTotal prometheus.Counter
	PartialDeletesTotal     prometheus.Counter

	// Consistency checks
	IntegrityChecksTotal prometheus.Counter
	IntegrityViolations  prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "vectordb", Name: name, Help: help})
}

func histogram(name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vectordb",
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	})
}

// NewVectorDBMetrics creates the service metrics on a fresh registry that
// also carries the Go runtime and process collectors.
func NewVectorDBMetrics() *VectorDBMetrics {
	m := &VectorDBMetrics{
		Registry: prometheus.NewRegistry(),

		InsertBatchesTotal:  counter("insert_batches_total", "Insert batches committed"),
		InsertFailuresTotal: counter("insert_failures_total", "Insert batches rolled back or rejected"),
		PairsRecordedTotal:  counter("pairs_recorded_total", "Fingerprint/asset pairs recorded"),
		PairsDuplicateTotal: counter("pairs_duplicate_total", "Pairs skipped because they were already recorded"),
		VectorsIndexedTotal: counter("vectors_indexed_total", "Vectors sent to the index store"),
		InsertDuration:      histogram("insert_duration_seconds", "Insert batch duration"),

		LookupsTotal:       counter("lookups_total", "Lookup batches served"),
		LookupQueriesTotal: counter("lookup_queries_total", "Query vectors looked up"),
		LookupErrorsTotal:  counter("lookup_errors_total", "Lookup batches that failed"),
		OrphanedHitsTotal:  counter("orphaned_hits_total", "Index hits with no recorded assets"),
		LookupDuration:     histogram("lookup_duration_seconds", "Lookup batch duration"),

		CollectionsCreatedTotal: counter("collections_created_total", "Collections created"),
		CollectionsDeletedTotal: counter("collections_deleted_total", "Collections deleted"),
		PartialDeletesTotal:     counter("partial_deletes_total", "Deletes that left a collection in one store"),

		IntegrityChecksTotal: counter("integrity_checks_total", "Consistency checks run"),
		IntegrityViolations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vectordb",
			Name:      "integrity_violations",
			Help:      "Collections failing the latest consistency check",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.InsertBatchesTotal, m.InsertFailuresTotal, m.PairsRecordedTotal,
		m.PairsDuplicateTotal, m.VectorsIndexedTotal, m.InsertDuration,
		m.LookupsTotal, m.LookupQueriesTotal, m.LookupErrorsTotal,
		m.OrphanedHitsTotal, m.LookupDuration,
		m.CollectionsCreatedTotal, m.CollectionsDeletedTotal, m.PartialDeletesTotal,
		m.IntegrityChecksTotal, m.IntegrityViolations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *VectorDBMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordInsert records an insert batch.
func (m *VectorDBMetrics) RecordInsert(duration time.Duration, recorded, duplicates, indexed int, err error) {
	m.InsertDuration.Observe(duration.Seconds())
	if err != nil {
		m.InsertFailuresTotal.Inc()
		return
	}
	m.InsertBatchesTotal.Inc()
	m.PairsRecordedTotal.Add(float64(recorded))
	m.PairsDuplicateTotal.Add(float64(duplicates))
	m.VectorsIndexedTotal.Add(float64(indexed))
}

// RecordLookup records a lookup batch.
func (m *VectorDBMetrics) RecordLookup(duration time.Duration, queries, orphans int, err error) {
	m.LookupsTotal.Inc()
	m.LookupDuration.Observe(duration.Seconds())
	m.LookupQueriesTotal.Add(float64(queries))
	m.OrphanedHitsTotal.Add(float64(orphans))
	if err != nil {
		m.LookupErrorsTotal.Inc()
	}
}

// RecordIntegrityCheck records a consistency check result.
func (m *VectorDBMetrics) RecordIntegrityCheck(violations int) {
	m.IntegrityChecksTotal.Inc()
	m.IntegrityViolations.Set(float64(violations))
}
