package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// CacheLogger provides dedicated logging for cache operations.
type CacheLogger struct {
	*logrus.Entry
}

// NewCacheLogger creates a new cache logger.
func NewCacheLogger(baseLogger *logrus.Logger, backend string) *CacheLogger {
	return &CacheLogger{
		Entry: baseLogger.WithFields(logrus.Fields{
			"component": "cache",
			"backend":   backend,
		}),
	}
}

// LogLookup logs a read against the store.
func (cl *CacheLogger) LogLookup(masterHash string, hit bool, accessCount int64) {
	fields := logrus.Fields{
		"master_hash": masterHash,
		"cache_hit":   hit,
	}
	if hit {
		fields["access_count"] = accessCount
		cl.WithFields(fields).Debug("Cache hit")
		return
	}
	cl.WithFields(fields).Debug("Cache miss")
}

// LogCompute logs a computation performed on a miss.
func (cl *CacheLogger) LogCompute(runID, masterHash string, duration time.Duration, err error) {
	entry := cl.WithFields(logrus.Fields{
		"run_id":           runID,
		"master_hash":      masterHash,
		"duration_seconds": duration.Seconds(),
	})
	if err != nil {
		entry.WithError(err).Error("Backtest computation failed")
		return
	}
	entry.Info("Backtest computed")
}

// LogStore logs a record written to the store.
func (cl *CacheLogger) LogStore(masterHash, dataHash, configHash string, dataRows int) {
	cl.WithFields(logrus.Fields{
		"master_hash": masterHash,
		"data_hash":   dataHash,
		"config_hash": configHash,
		"data_rows":   dataRows,
	}).Info("Backtest result stored")
}

// LogSharedCompute logs a caller that waited on another caller's computation.
func (cl *CacheLogger) LogSharedCompute(masterHash string) {
	cl.WithField("master_hash", masterHash).Debug("Joined in-flight computation")
}

// LogCanonicalizationFallback logs a field dropped under the exclude policy.
func (cl *CacheLogger) LogCanonicalizationFallback(section, field string, err error) {
	cl.WithFields(logrus.Fields{
		"section": section,
		"field":   field,
	}).WithError(err).Warn("Field excluded from identity: no canonical order")
}

// LogCleanup logs a completed retention pass.
func (cl *CacheLogger) LogCleanup(runID string, maxAgeDays, deleted int, duration time.Duration, err error) {
	entry := cl.WithFields(logrus.Fields{
		"run_id":           runID,
		"max_age_days":     maxAgeDays,
		"deleted":          deleted,
		"duration_seconds": duration.Seconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("Cleanup stopped early")
		return
	}
	entry.Info("Cleanup completed")
}
