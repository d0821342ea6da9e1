package storage

import (
	"context"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/yourusername/backtest-cache/internal/models"
)

const backendMemory = "memory"

// MemoryStorage keeps records in process memory. One RWMutex guards the record map and
// both secondary indices so every operation sees them consistent.
type MemoryStorage struct {
	mu       sync.RWMutex
	records  *cache.Cache
	byData   map[string]map[string]struct{}
	byConfig map[string]map[string]struct{}
	opts     Options
	stats    statsCounter
	closed   bool
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage(opts Options) *MemoryStorage {
	return &MemoryStorage{
		// Records never expire on their own; retention is Cleanup's job.
		records:  cache.New(cache.NoExpiration, 0),
		byData:   make(map[string]map[string]struct{}),
		byConfig: make(map[string]map[string]struct{}),
		opts:     opts,
	}
}

// Store implements Storage.
func (m *MemoryStorage) Store(ctx context.Context, record *models.BacktestRecord) error {
	if err := record.Validate(); err != nil {
		return newError(backendMemory, "store", err)
	}
	if err := ctx.Err(); err != nil {
		return newError(backendMemory, "store", err)
	}
	stored := record.Clone()
	key := stored.MasterHash()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return newError(backendMemory, "store", ErrClosed)
	}

	if existing, ok := m.lookup(key); ok {
		m.unindex(existing)
	} else if m.opts.full(m.records.ItemCount()) {
		return newError(backendMemory, "store", ErrStorageFull)
	}

	m.records.Set(key, stored, cache.NoExpiration)
	addIndex(m.byData, stored.Identity.DataHash(), key)
	addIndex(m.byConfig, stored.Identity.ConfigHash(), key)
	return nil
}

// Get implements Storage.
func (m *MemoryStorage) Get(ctx context.Context, masterHash string) (*models.BacktestRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, newError(backendMemory, "get", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, newError(backendMemory, "get", ErrClosed)
	}

	record, ok := m.lookup(masterHash)
	if !ok {
		m.stats.miss()
		return nil, false, nil
	}
	record.MarkAccessedAt(m.opts.now())
	m.stats.hit()
	return record.Clone(), true, nil
}

// Exists implements Storage.
func (m *MemoryStorage) Exists(ctx context.Context, masterHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(backendMemory, "exists", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records.Get(masterHash)
	return ok, nil
}

// GetByDataHash implements Storage.
func (m *MemoryStorage) GetByDataHash(ctx context.Context, dataHash string) ([]*models.BacktestRecord, error) {
	return m.related(ctx, "get_by_data_hash", m.byData, dataHash)
}

// GetByConfigHash implements Storage.
func (m *MemoryStorage) GetByConfigHash(ctx context.Context, configHash string) ([]*models.BacktestRecord, error) {
	return m.related(ctx, "get_by_config_hash", m.byConfig, configHash)
}

func (m *MemoryStorage) related(ctx context.Context, op string, index map[string]map[string]struct{}, group string) ([]*models.BacktestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(backendMemory, op, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*models.BacktestRecord, 0, len(index[group]))
	for key := range index[group] {
		if record, ok := m.lookup(key); ok {
			records = append(records, record.Clone())
		}
	}
	sortRecords(records)
	return records, nil
}

// Delete implements Storage.
func (m *MemoryStorage) Delete(ctx context.Context, masterHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(backendMemory, "delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, newError(backendMemory, "delete", ErrClosed)
	}
	return m.remove(masterHash), nil
}

// Cleanup implements Storage.
func (m *MemoryStorage) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, newError(backendMemory, "cleanup", ErrInvalidMaxAge)
	}
	cutoff := m.opts.cutoff(maxAgeDays)

	m.mu.RLock()
	var candidates []string
	for key, item := range m.records.Items() {
		if record, ok := item.Object.(*models.BacktestRecord); ok && expired(record, cutoff) {
			candidates = append(candidates, key)
		}
	}
	m.mu.RUnlock()

	deleted := 0
	for _, key := range candidates {
		if err := m.opts.pace(ctx); err != nil {
			return deleted, newError(backendMemory, "cleanup", err)
		}
		if m.removeIfExpired(key, cutoff) {
			deleted++
		}
	}
	return deleted, nil
}

// removeIfExpired re-checks under the write lock: the record may have been replaced
// since the candidate scan.
func (m *MemoryStorage) removeIfExpired(key string, cutoff time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.lookup(key)
	if !ok || !expired(record, cutoff) {
		return false
	}
	return m.remove(key)
}

// Stats implements Storage.
func (m *MemoryStorage) Stats(ctx context.Context) (models.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheStats{}, newError(backendMemory, "stats", err)
	}

	m.mu.RLock()
	stats := models.CacheStats{
		TotalRecords:      int64(m.records.ItemCount()),
		TotalDataHashes:   int64(len(m.byData)),
		TotalConfigHashes: int64(len(m.byConfig)),
	}
	m.mu.RUnlock()

	m.stats.fill(&stats)
	return stats, nil
}

// ClearAll implements Storage.
func (m *MemoryStorage) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newError(backendMemory, "clear_all", err)
	}

	m.mu.Lock()
	m.records.Flush()
	m.byData = make(map[string]map[string]struct{})
	m.byConfig = make(map[string]map[string]struct{})
	m.mu.Unlock()

	m.stats.reset()
	return nil
}

// Ping implements Storage.
func (m *MemoryStorage) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return newError(backendMemory, "ping", ErrClosed)
	}
	return nil
}

// Close implements Storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// lookup must be called with mu held.
func (m *MemoryStorage) lookup(key string) (*models.BacktestRecord, bool) {
	item, ok := m.records.Get(key)
	if !ok {
		return nil, false
	}
	record, ok := item.(*models.BacktestRecord)
	return record, ok
}

// remove must be called with mu held for writing.
func (m *MemoryStorage) remove(key string) bool {
	record, ok := m.lookup(key)
	if !ok {
		return false
	}
	m.unindex(record)
	m.records.Delete(key)
	return true
}

func (m *MemoryStorage) unindex(record *models.BacktestRecord) {
	key := record.MasterHash()
	removeIndex(m.byData, record.Identity.DataHash(), key)
	removeIndex(m.byConfig, record.Identity.ConfigHash(), key)
}

func addIndex(index map[string]map[string]struct{}, group, key string) {
	members, ok := index[group]
	if !ok {
		members = make(map[string]struct{})
		index[group] = members
	}
	members[key] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, group, key string) {
	members, ok := index[group]
	if !ok {
		return
	}
	delete(members, key)
	if len(members) == 0 {
		delete(index, group)
	}
}
