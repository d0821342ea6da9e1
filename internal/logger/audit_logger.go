package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogger records destructive cache operations.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger *logrus.Logger) *AuditLogger {
	return &AuditLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogRecordDeleted logs an explicit delete.
func (al *AuditLogger) LogRecordDeleted(masterHash, actor string, deleted bool) {
	al.WithFields(logrus.Fields{
		"master_hash": masterHash,
		"actor":       actor,
		"deleted":     deleted,
		"timestamp":   time.Now().Unix(),
	}).Info("Record delete requested")
}

// LogRetentionRun logs a cleanup with its cutoff.
func (al *AuditLogger) LogRetentionRun(runID, actor string, cutoff time.Time, deleted int) {
	al.WithFields(logrus.Fields{
		"run_id":    runID,
		"actor":     actor,
		"cutoff":    cutoff.UTC().Format(time.RFC3339),
		"deleted":   deleted,
		"timestamp": time.Now().Unix(),
	}).Info("Retention cleanup recorded")
}

// LogClearAll logs a full wipe of the store.
func (al *AuditLogger) LogClearAll(actor string) {
	al.WithFields(logrus.Fields{
		"actor":     actor,
		"timestamp": time.Now().Unix(),
	}).Warn("Cache cleared")
}
