// Package service composes hashing and storage into the backtest result cache.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yourusername/backtest-cache/internal/config"
	"github.com/yourusername/backtest-cache/internal/logger"
	"github.com/yourusername/backtest-cache/internal/metrics"
	"github.com/yourusername/backtest-cache/internal/models"
	"github.com/yourusername/backtest-cache/internal/storage"
)

// ErrComputeFailed wraps errors returned by a ComputeFunc.
var ErrComputeFailed = errors.New("backtest computation failed")

// ComputeFunc runs a backtest over the raw data of a request.
type ComputeFunc func(ctx context.Context, req Request) (models.BacktestResult, error)

// Request names the inputs of one backtest run.
type Request struct {
	Data     []byte
	Filename string
	Config   any
	Params   any
}

// Outcome is the result of GetOrCompute.
type Outcome struct {
	Record   *models.BacktestRecord
	CacheHit bool
	// Shared is set when the record came from another caller's in-flight computation.
	Shared bool
	// Stored is false when the computed record could not be written back.
	Stored bool
}

// Options configure the service.
type Options struct {
	// Backend labels logs and storage metrics.
	Backend string
	// UnsortablePolicy is config.UnsortableReject or config.UnsortableExclude.
	UnsortablePolicy string
	Now              func() time.Time
}

// BacktestCacheService serves backtest results by content identity.
type BacktestCacheService struct {
	store    storage.Storage
	opts     Options
	inflight singleflight.Group
	cacheLog *logger.CacheLogger
	audit    *logger.AuditLogger
}

// NewBacktestCacheService creates a new cache service over store.
func NewBacktestCacheService(store storage.Storage, opts Options, log *logrus.Logger) *BacktestCacheService {
	if opts.UnsortablePolicy == "" {
		opts.UnsortablePolicy = config.UnsortableReject
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BacktestCacheService{
		store:    store,
		opts:     opts,
		cacheLog: logger.NewCacheLogger(log, opts.Backend),
		audit:    logger.NewAuditLogger(log),
	}
}

// NewFromConfig builds the service for cfg over an opened store.
func NewFromConfig(cfg *config.Config, store storage.Storage, log *logrus.Logger) *BacktestCacheService {
	return NewBacktestCacheService(store, Options{
		Backend:          cfg.Storage.Backend,
		UnsortablePolicy: cfg.Hashing.UnsortablePolicy,
	}, log)
}

// Storage returns the underlying store.
func (s *BacktestCacheService) Storage() storage.Storage {
	return s.store
}

// GetOrCompute returns the cached record for req, or runs compute and caches its result.
// Concurrent misses on the same identity share one computation.
func (s *BacktestCacheService) GetOrCompute(ctx context.Context, req Request, compute ComputeFunc) (*Outcome, error) {
	if compute == nil {
		return nil, errors.New("compute function is required")
	}

	identity, err := s.Identify(ctx, req)
	if err != nil {
		return nil, err
	}
	masterHash := identity.MasterHash()

	record, found, err := s.get(ctx, masterHash)
	if err != nil {
		return nil, err
	}
	if found {
		return &Outcome{Record: record, CacheHit: true, Stored: true}, nil
	}

	leader := false
	v, err, _ := s.inflight.Do(masterHash, func() (any, error) {
		leader = true
		return s.compute(ctx, req, identity, compute)
	})
	shared := !leader
	if shared {
		metrics.RecordSharedCompute()
		s.cacheLog.LogSharedCompute(masterHash)
	}
	if err != nil {
		return nil, err
	}

	outcome := *v.(*Outcome)
	outcome.Record = outcome.Record.Clone()
	outcome.Shared = shared
	return &outcome, nil
}

func (s *BacktestCacheService) compute(ctx context.Context, req Request, identity models.BacktestIdentity, compute ComputeFunc) (*Outcome, error) {
	runID := uuid.New().String()
	masterHash := identity.MasterHash()

	start := time.Now()
	result, err := compute(ctx, req)
	elapsed := time.Since(start)
	s.cacheLog.LogCompute(runID, masterHash, elapsed, err)
	if err != nil {
		metrics.RecordComputeRun("failure", elapsed.Seconds())
		return nil, fmt.Errorf("%w: %w", ErrComputeFailed, err)
	}
	metrics.RecordComputeRun("success", elapsed.Seconds())

	description := DescribeData(req.Filename, req.Data)
	record, err := models.NewBacktestRecord(identity, models.NewBacktestMetadata(s.opts.Now(), elapsed, description), result)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Record: record}
	storeStart := time.Now()
	err = s.store.Store(ctx, record)
	metrics.ObserveStorageOperation(s.opts.Backend, "store", time.Since(storeStart).Seconds())
	switch {
	case err == nil:
		metrics.RecordStore("success")
		s.cacheLog.LogStore(masterHash, identity.DataHash(), identity.ConfigHash(), description.Rows)
		outcome.Stored = true
	case errors.Is(err, storage.ErrStorageFull):
		metrics.RecordStore("full")
		s.cacheLog.WithField("master_hash", masterHash).WithError(err).Warn("Cache full, result not stored")
	default:
		// The computation succeeded, so the caller still gets its result.
		metrics.RecordStore("error")
		s.cacheLog.WithField("master_hash", masterHash).WithError(err).Error("Failed to store backtest result")
	}
	return outcome, nil
}

// Lookup returns the cached record for req without computing anything.
func (s *BacktestCacheService) Lookup(ctx context.Context, req Request) (*models.BacktestRecord, bool, error) {
	identity, err := s.Identify(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return s.get(ctx, identity.MasterHash())
}

// Contains reports whether a result for req is cached without counting a lookup.
func (s *BacktestCacheService) Contains(ctx context.Context, req Request) (bool, error) {
	identity, err := s.Identify(ctx, req)
	if err != nil {
		return false, err
	}
	return s.store.Exists(ctx, identity.MasterHash())
}

// Record returns the record stored under masterHash, or storage.ErrRecordNotFound.
func (s *BacktestCacheService) Record(ctx context.Context, masterHash string) (*models.BacktestRecord, error) {
	if err := models.ValidateHash(masterHash); err != nil {
		return nil, err
	}
	record, found, err := s.get(ctx, masterHash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", storage.ErrRecordNotFound, masterHash)
	}
	return record, nil
}

func (s *BacktestCacheService) get(ctx context.Context, masterHash string) (*models.BacktestRecord, bool, error) {
	start := time.Now()
	record, found, err := s.store.Get(ctx, masterHash)
	metrics.ObserveStorageOperation(s.opts.Backend, "get", time.Since(start).Seconds())
	if err != nil {
		return nil, false, err
	}

	metrics.RecordLookup(found)
	var accessCount int64
	if found {
		accessCount = record.Metadata.AccessCount()
	}
	s.cacheLog.LogLookup(masterHash, found, accessCount)
	return record, found, nil
}

// RelatedBy selects the secondary index used by Related.
type RelatedBy string

const (
	RelatedByData   RelatedBy = "data"
	RelatedByConfig RelatedBy = "config"
)

// Related returns every record sharing the given data or config hash, oldest first.
func (s *BacktestCacheService) Related(ctx context.Context, by RelatedBy, hash string) ([]*models.BacktestRecord, error) {
	if err := models.ValidateHash(hash); err != nil {
		return nil, err
	}
	switch by {
	case RelatedByData:
		return s.store.GetByDataHash(ctx, hash)
	case RelatedByConfig:
		return s.store.GetByConfigHash(ctx, hash)
	default:
		return nil, fmt.Errorf("unknown relation %q", by)
	}
}

// Delete removes one record. actor is recorded in the audit log.
func (s *BacktestCacheService) Delete(ctx context.Context, masterHash, actor string) (bool, error) {
	if err := models.ValidateHash(masterHash); err != nil {
		return false, err
	}
	deleted, err := s.store.Delete(ctx, masterHash)
	if err != nil {
		return false, err
	}
	s.audit.LogRecordDeleted(masterHash, actor, deleted)
	return deleted, nil
}

// Cleanup removes records created more than maxAgeDays ago. When ctx ends mid-run the
// records already removed are counted and the context error is returned.
func (s *BacktestCacheService) Cleanup(ctx context.Context, maxAgeDays int, actor string) (int, error) {
	runID := uuid.New().String()
	cutoff := s.opts.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	start := time.Now()
	deleted, err := s.store.Cleanup(ctx, maxAgeDays)
	elapsed := time.Since(start)
	metrics.ObserveStorageOperation(s.opts.Backend, "cleanup", elapsed.Seconds())
	s.cacheLog.LogCleanup(runID, maxAgeDays, deleted, elapsed, err)

	switch {
	case err == nil:
		metrics.RecordCleanup("success", deleted)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		metrics.RecordCleanup("interrupted", deleted)
	default:
		metrics.RecordCleanup("failure", deleted)
		return deleted, err
	}
	s.audit.LogRetentionRun(runID, actor, cutoff, deleted)
	return deleted, err
}

// ClearAll wipes the cache and its hit counters.
func (s *BacktestCacheService) ClearAll(ctx context.Context, actor string) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return err
	}
	s.audit.LogClearAll(actor)
	metrics.UpdateCacheStats(0, 0)
	return nil
}

// Stats returns a snapshot of the cache and publishes it as gauges.
func (s *BacktestCacheService) Stats(ctx context.Context) (models.CacheStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	metrics.UpdateCacheStats(stats.TotalRecords, stats.HitRate())
	return stats, nil
}

// Ping checks the backend is reachable.
func (s *BacktestCacheService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
