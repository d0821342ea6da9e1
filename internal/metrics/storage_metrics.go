package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retention counters
var (
	CleanupDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_deleted_total",
		Help:      "Total number of records removed by retention cleanup",
	})

	CleanupRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_runs_total",
		Help:      "Total number of retention cleanup runs by status",
	}, []string{"status"})
)

// StorageOperationDuration times backend calls by operation.
var StorageOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "storage_operation_duration_seconds",
	Help:      "Duration of storage backend operations in seconds",
	Buckets:   prometheus.DefBuckets,
}, []string{"backend", "operation"})

// RecordCleanup records a retention run. status should be "success" or "interrupted".
func RecordCleanup(status string, deleted int) {
	CleanupRunsTotal.WithLabelValues(status).Inc()
	CleanupDeletedTotal.Add(float64(deleted))
}

// ObserveStorageOperation records how long a backend call took.
func ObserveStorageOperation(backend, operation string, durationSeconds float64) {
	StorageOperationDuration.WithLabelValues(backend, operation).Observe(durationSeconds)
}
