package logger

import (
	"bytes"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() (*logrus.Logger, *bytes.Buffer) {
	log := logrus.New()
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log, buf
}

func parseLogOutput(buf *bytes.Buffer) map[string]interface{} {
	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	if err != nil {
		return nil
	}
	return logEntry
}

func TestNewLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLoggerWithOutput("debug", "production", buf)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log.Info("hello")
	entry := parseLogOutput(buf)
	require.NotNil(t, entry)
	assert.Equal(t, "hello", entry["msg"])
}

func TestNewLoggerInvalidLevelDefaultsToInfo(t *testing.T) {
	log := NewLoggerWithOutput("chatty", "development", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestCacheLoggerLookup(t *testing.T) {
	log, buf := setupTestLogger()
	cacheLogger := NewCacheLogger(log, "memory")

	cacheLogger.LogLookup("abc123", true, 3)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "cache", logEntry["component"])
	assert.Equal(t, "memory", logEntry["backend"])
	assert.Equal(t, "abc123", logEntry["master_hash"])
	assert.Equal(t, true, logEntry["cache_hit"])
	assert.Equal(t, float64(3), logEntry["access_count"])
	assert.Equal(t, "Cache hit", logEntry["msg"])
}

func TestCacheLoggerMissOmitsAccessCount(t *testing.T) {
	log, buf := setupTestLogger()
	NewCacheLogger(log, "leveldb").LogLookup("abc123", false, 0)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "Cache miss", logEntry["msg"])
	_, ok := logEntry["access_count"]
	assert.False(t, ok)
}

func TestCacheLoggerComputeFailure(t *testing.T) {
	log, buf := setupTestLogger()
	NewCacheLogger(log, "badger").LogCompute("run-1", "abc", 1500*time.Millisecond, errors.New("boom"))

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "error", logEntry["level"])
	assert.Equal(t, "boom", logEntry["error"])
	assert.Equal(t, 1.5, logEntry["duration_seconds"])
	assert.Equal(t, "run-1", logEntry["run_id"])
}

func TestCacheLoggerFallback(t *testing.T) {
	log, buf := setupTestLogger()
	NewCacheLogger(log, "memory").LogCanonicalizationFallback("config", "weights", errors.New("mixed kinds"))

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "warning", logEntry["level"])
	assert.Equal(t, "config", logEntry["section"])
	assert.Equal(t, "weights", logEntry["field"])
}

func TestCacheLoggerCleanup(t *testing.T) {
	log, buf := setupTestLogger()
	NewCacheLogger(log, "memory").LogCleanup("run-2", 30, 4, time.Second, nil)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, float64(4), logEntry["deleted"])
	assert.Equal(t, float64(30), logEntry["max_age_days"])
	assert.Equal(t, "Cleanup completed", logEntry["msg"])
}

func TestAuditLoggerRecordDeleted(t *testing.T) {
	log, buf := setupTestLogger()
	NewAuditLogger(log).LogRecordDeleted("abc", "cli", true)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "audit", logEntry["component"])
	assert.Equal(t, "cli", logEntry["actor"])
	assert.Equal(t, true, logEntry["deleted"])
}

func TestAuditLoggerRetentionRun(t *testing.T) {
	log, buf := setupTestLogger()
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	NewAuditLogger(log).LogRetentionRun("run-3", "scheduler", cutoff, 2)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "2024-01-01T00:00:00Z", logEntry["cutoff"])
	assert.Equal(t, float64(2), logEntry["deleted"])
}

func BenchmarkCacheLoggerLookup(b *testing.B) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	log.SetLevel(logrus.DebugLevel)
	cacheLogger := NewCacheLogger(log, "memory")

	for i := 0; i < b.N; i++ {
		cacheLogger.LogLookup("abc123", i%2 == 0, int64(i))
	}
}
