package models

import (
	"time"

	"github.com/goccy/go-json"
)

// DataDescription describes the uploaded input a backtest ran against.
type DataDescription struct {
	Filename  string
	SizeBytes int64
	Rows      int
}

// BacktestMetadata holds timestamps and access statistics of a record. The access fields
// change only through MarkAccessed.
type BacktestMetadata struct {
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64

	ExecutionTimeSeconds float64
	DataFilename         string
	DataSizeBytes        int64
	DataRows             int
}

type metadataJSON struct {
	CreatedAt            time.Time `json:"created_at"`
	LastAccessed         time.Time `json:"last_accessed"`
	AccessCount          int64     `json:"access_count"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
	DataFilename         string    `json:"data_filename,omitempty"`
	DataSizeBytes        int64     `json:"data_size_bytes"`
	DataRows             int       `json:"data_rows"`
}

// NewBacktestMetadata starts a record's metadata with access_count 1.
func NewBacktestMetadata(createdAt time.Time, executionTime time.Duration, data DataDescription) BacktestMetadata {
	created := normalizeTime(createdAt)
	return BacktestMetadata{
		createdAt:            created,
		lastAccessed:         created,
		accessCount:          1,
		ExecutionTimeSeconds: executionTime.Seconds(),
		DataFilename:         data.Filename,
		DataSizeBytes:        data.SizeBytes,
		DataRows:             data.Rows,
	}
}

// RestoreMetadata rebuilds metadata read back from a storage backend.
func RestoreMetadata(createdAt, lastAccessed time.Time, accessCount int64, executionSeconds float64, data DataDescription) BacktestMetadata {
	return BacktestMetadata{
		createdAt:            normalizeTime(createdAt),
		lastAccessed:         normalizeTime(lastAccessed),
		accessCount:          accessCount,
		ExecutionTimeSeconds: executionSeconds,
		DataFilename:         data.Filename,
		DataSizeBytes:        data.SizeBytes,
		DataRows:             data.Rows,
	}
}

// timestamps are kept at microsecond precision in UTC so every backend round-trips them
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (m BacktestMetadata) CreatedAt() time.Time    { return m.createdAt }
func (m BacktestMetadata) LastAccessed() time.Time { return m.lastAccessed }
func (m BacktestMetadata) AccessCount() int64      { return m.accessCount }

// Data returns the input description.
func (m BacktestMetadata) Data() DataDescription {
	return DataDescription{Filename: m.DataFilename, SizeBytes: m.DataSizeBytes, Rows: m.DataRows}
}

// MarkAccessed records a read hit now.
func (m *BacktestMetadata) MarkAccessed() {
	m.MarkAccessedAt(time.Now())
}

// MarkAccessedAt records a read hit at t. last_accessed never moves backwards.
func (m *BacktestMetadata) MarkAccessedAt(t time.Time) {
	t = normalizeTime(t)
	if t.After(m.lastAccessed) {
		m.lastAccessed = t
	}
	m.accessCount++
}

// MarshalJSON implements json.Marshaler.
func (m BacktestMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(metadataJSON{
		CreatedAt:            m.createdAt,
		LastAccessed:         m.lastAccessed,
		AccessCount:          m.accessCount,
		ExecutionTimeSeconds: m.ExecutionTimeSeconds,
		DataFilename:         m.DataFilename,
		DataSizeBytes:        m.DataSizeBytes,
		DataRows:             m.DataRows,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *BacktestMetadata) UnmarshalJSON(data []byte) error {
	var wire metadataJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = RestoreMetadata(wire.CreatedAt, wire.LastAccessed, wire.AccessCount, wire.ExecutionTimeSeconds, DataDescription{
		Filename:  wire.DataFilename,
		SizeBytes: wire.DataSizeBytes,
		Rows:      wire.DataRows,
	})
	return nil
}
