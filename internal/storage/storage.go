// Package storage defines the record store contract and its backends.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourusername/backtest-cache/internal/models"
)

// Storage is a content-addressed record store keyed by master hash. Operations on the
// same master hash are linearizable; operations on different keys are independent.
type Storage interface {
	// Store writes a record. An existing record with the same master hash is replaced
	// and its secondary index entries rewritten.
	Store(ctx context.Context, record *models.BacktestRecord) error
	// Get returns the record and marks it accessed. Absence is (nil, false, nil).
	Get(ctx context.Context, masterHash string) (*models.BacktestRecord, bool, error)
	// Exists reports membership without touching access statistics.
	Exists(ctx context.Context, masterHash string) (bool, error)
	// GetByDataHash returns every record built from the same data, oldest first.
	GetByDataHash(ctx context.Context, dataHash string) ([]*models.BacktestRecord, error)
	// GetByConfigHash returns every record built from the same config, oldest first.
	GetByConfigHash(ctx context.Context, configHash string) ([]*models.BacktestRecord, error)
	// Delete removes a record and its index entries. Deleting an absent key is (false, nil).
	Delete(ctx context.Context, masterHash string) (bool, error)
	// Cleanup removes records created more than maxAgeDays ago and returns how many it
	// removed. It stops between records when ctx is done.
	Cleanup(ctx context.Context, maxAgeDays int) (int, error)
	Stats(ctx context.Context) (models.CacheStats, error)
	// ClearAll removes every record and resets the hit and miss counters.
	ClearAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Options tune a backend.
type Options struct {
	// MaxRecords caps the number of distinct keys. Zero means unbounded.
	MaxRecords int
	// Now overrides the clock used for access times and cleanup cutoffs.
	Now func() time.Time
	// CleanupLimiter paces Cleanup's delete operations. Nil means unthrottled.
	CleanupLimiter *rate.Limiter
}

// NewCleanupLimiter allows perSecond delete operations per second, or nil for zero.
func NewCleanupLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// pace waits for the cleanup limiter and reports context cancellation.
func (o Options) pace(ctx context.Context) error {
	if o.CleanupLimiter == nil {
		return ctx.Err()
	}
	if err := o.CleanupLimiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The next token would arrive after the deadline.
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// full reports whether adding one more key would exceed MaxRecords.
func (o Options) full(current int) bool {
	return o.MaxRecords > 0 && current >= o.MaxRecords
}

// cutoff is the creation time before which records are expired.
func (o Options) cutoff(maxAgeDays int) time.Time {
	return o.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
}

func expired(record *models.BacktestRecord, cutoff time.Time) bool {
	return record.CreatedAt().Before(cutoff)
}

// sortRecords orders records by creation time, then master hash.
func sortRecords(records []*models.BacktestRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt().Equal(b.CreatedAt()) {
			return a.CreatedAt().Before(b.CreatedAt())
		}
		return a.MasterHash() < b.MasterHash()
	})
}
