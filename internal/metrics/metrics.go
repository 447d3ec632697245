// Package metrics exposes the engine's Prometheus collectors. Registration
// is eager; if no metrics endpoint is mounted the collectors are harmless.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	documentsIndexed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sercha_sync_documents_indexed_total",
		Help: "Documents indexed or updated, per index",
	}, []string{"index"})

	documentsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sercha_sync_documents_deleted_total",
		Help: "Documents deleted, per index",
	}, []string{"index"})

	importErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sercha_sync_import_errors_total",
		Help: "Per-document errors surfaced by imports, per index",
	}, []string{"index"})

	importDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sercha_sync_import_duration_seconds",
		Help:    "Wall time of import calls, per index",
		Buckets: prometheus.DefBuckets,
	}, []string{"index"})

	bulkRequestBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sercha_sync_bulk_request_bytes",
		Help:    "Serialized size of bulk request bodies, per index",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	}, []string{"index"})

	journalApplyPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sercha_sync_journal_apply_passes_total",
		Help: "Journal replay passes executed",
	})
)

func init() {
	prometheus.MustRegister(
		documentsIndexed,
		documentsDeleted,
		importErrors,
		importDuration,
		bulkRequestBytes,
		journalApplyPasses,
	)
}

// ObserveImport records the outcome of one import call.
func ObserveImport(index string, indexed, deleted, errs int, elapsed time.Duration) {
	documentsIndexed.WithLabelValues(index).Add(float64(indexed))
	documentsDeleted.WithLabelValues(index).Add(float64(deleted))
	importErrors.WithLabelValues(index).Add(float64(errs))
	importDuration.WithLabelValues(index).Observe(elapsed.Seconds())
}

// ObserveBulkRequest records the size of one bulk request body.
func ObserveBulkRequest(index string, sizeBytes int) {
	bulkRequestBytes.WithLabelValues(index).Observe(float64(sizeBytes))
}

// ObserveJournalPass counts one journal replay pass.
func ObserveJournalPass() {
	journalApplyPasses.Inc()
}
