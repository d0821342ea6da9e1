// Package metrics provides the Prometheus registry for the backtest cache.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backtest_cache"

// Lookup results.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Total number of cache lookups by result",
	}, []string{"result"})
	StoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stores_total",
		Help:      "Total number of store attempts by status",
	}, []string{"status"})
	CanonicalizationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "canonicalization_failures_total",
		Help:      "Total number of structured inputs that could not be canonicalized",
	}, []string{"section", "policy"})
)

// Gauge metrics
var (
	RecordsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records",
		Help:      "Number of records currently stored",
	})
	HitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hit_ratio",
		Help:      "Cache hit ratio since process start",
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(LookupsTotal)
		registry.MustRegister(StoresTotal)
		registry.MustRegister(CanonicalizationFailuresTotal)

		registry.MustRegister(RecordsTotal)
		registry.MustRegister(HitRatio)

		// compute metrics
		registry.MustRegister(ComputeRunsTotal)
		registry.MustRegister(ComputeDuration)
		registry.MustRegister(ComputeSharedTotal)

		// storage metrics
		registry.MustRegister(CleanupDeletedTotal)
		registry.MustRegister(CleanupRunsTotal)
		registry.MustRegister(StorageOperationDuration)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return InitRegistry()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordLookup records a cache lookup.
func RecordLookup(hit bool) {
	if hit {
		LookupsTotal.WithLabelValues(ResultHit).Inc()
		return
	}
	LookupsTotal.WithLabelValues(ResultMiss).Inc()
}

// RecordStore records a store attempt. status is "success", "full" or "error".
func RecordStore(status string) {
	StoresTotal.WithLabelValues(status).Inc()
}

// RecordCanonicalizationFailure records a config or params value with no canonical form.
func RecordCanonicalizationFailure(section, policy string) {
	CanonicalizationFailuresTotal.WithLabelValues(section, policy).Inc()
}

// UpdateCacheStats publishes a stats snapshot.
func UpdateCacheStats(records int64, hitRate float64) {
	RecordsTotal.Set(float64(records))
	HitRatio.Set(hitRate)
}
