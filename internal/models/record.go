package models

import (
	"fmt"
	"time"
)

const (
	hashPreviewLength = 16
	hashPreviewMarker = "..."
)

// BacktestRecord is the unit of storage, retrieval and deletion.
type BacktestRecord struct {
	Identity BacktestIdentity `json:"identity"`
	Metadata BacktestMetadata `json:"metadata"`
	Result   BacktestResult   `json:"result"`
}

// RecordSummary is the caller-facing view of a record. Hash previews are truncated for
// display; the master hash is always complete.
type RecordSummary struct {
	MasterHash           string           `json:"master_hash"`
	DataHash             string           `json:"data_hash"`
	ConfigHash           string           `json:"config_hash"`
	Summary              map[string]any   `json:"summary"`
	EquityCurve          []map[string]any `json:"equity_curve"`
	CreatedAt            string           `json:"created_at"`
	LastAccessed         string           `json:"last_accessed"`
	AccessCount          int64            `json:"access_count"`
	ExecutionTimeSeconds float64          `json:"execution_time_seconds"`
	DataFilename         string           `json:"data_filename"`
	DataRows             int              `json:"data_rows"`
}

// NewBacktestRecord assembles a record from its parts.
func NewBacktestRecord(identity BacktestIdentity, metadata BacktestMetadata, result BacktestResult) (*BacktestRecord, error) {
	record := &BacktestRecord{Identity: identity, Metadata: metadata, Result: result}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}

// Validate checks the record can be used as a cache entry.
func (r *BacktestRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.Identity.IsZero() {
		return fmt.Errorf("%w: missing identity", ErrInvalidRecord)
	}
	if r.Metadata.CreatedAt().IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInvalidRecord)
	}
	if r.Metadata.AccessCount() < 1 {
		return fmt.Errorf("%w: access_count must be at least 1", ErrInvalidRecord)
	}
	return nil
}

// MasterHash is the record's primary key.
func (r *BacktestRecord) MasterHash() string {
	return r.Identity.MasterHash()
}

// CreatedAt is the record's creation time.
func (r *BacktestRecord) CreatedAt() time.Time {
	return r.Metadata.CreatedAt()
}

// MarkAccessed must be called exactly once per read hit.
func (r *BacktestRecord) MarkAccessed() {
	r.Metadata.MarkAccessed()
}

// MarkAccessedAt is MarkAccessed with an explicit clock.
func (r *BacktestRecord) MarkAccessedAt(t time.Time) {
	r.Metadata.MarkAccessedAt(t)
}

// Clone copies the record. The immutable result payload is shared.
func (r *BacktestRecord) Clone() *BacktestRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// ToSummary renders the record for API responses.
func (r *BacktestRecord) ToSummary() RecordSummary {
	return RecordSummary{
		MasterHash:           r.Identity.MasterHash(),
		DataHash:             previewHash(r.Identity.DataHash()),
		ConfigHash:           previewHash(r.Identity.ConfigHash()),
		Summary:              r.Result.Summary(),
		EquityCurve:          r.Result.EquityCurve(),
		CreatedAt:            r.Metadata.CreatedAt().Format(time.RFC3339),
		LastAccessed:         r.Metadata.LastAccessed().Format(time.RFC3339),
		AccessCount:          r.Metadata.AccessCount(),
		ExecutionTimeSeconds: r.Metadata.ExecutionTimeSeconds,
		DataFilename:         r.Metadata.DataFilename,
		DataRows:             r.Metadata.DataRows,
	}
}

func previewHash(hash string) string {
	if len(hash) <= hashPreviewLength {
		return hash
	}
	return hash[:hashPreviewLength] + hashPreviewMarker
}
