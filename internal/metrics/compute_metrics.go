package metrics

import "github.com/prometheus/client_golang/prometheus"

// Compute counter vectors
var (
	ComputeRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compute_runs_total",
		Help:      "Total number of backtest computations run on cache misses by status",
	}, []string{"status"})

	ComputeSharedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compute_shared_total",
		Help:      "Callers served by another caller's in-flight computation",
	})
)

// Compute histograms
var (
	ComputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "compute_duration_seconds",
		Help:      "Duration of backtest computations in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
	})
)

// RecordComputeRun records a computation. status should be "success" or "failure".
func RecordComputeRun(status string, durationSeconds float64) {
	ComputeRunsTotal.WithLabelValues(status).Inc()
	ComputeDuration.Observe(durationSeconds)
}

// RecordSharedCompute records a caller that joined an in-flight computation.
func RecordSharedCompute() {
	ComputeSharedTotal.Inc()
}
