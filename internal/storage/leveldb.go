package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/yourusername/backtest-cache/internal/models"
)

const backendLevelDB = "leveldb"

// LevelDBStorage persists records in a LevelDB database. A record and its two index
// entries are always written or removed in one batch.
type LevelDBStorage struct {
	db       *leveldb.DB
	locks    keyLocks
	capacity sync.Mutex
	count    atomic.Int64
	opts     Options
	stats    statsCounter
	writeOpt *opt.WriteOptions
}

// OpenLevelDB opens or creates the database at path.
func OpenLevelDB(path string, syncWrites bool, opts Options) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, ioError(backendLevelDB, "open", fmt.Errorf("open %s: %w", path, err))
	}
	s, err := NewLevelDBStorage(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.writeOpt = &opt.WriteOptions{Sync: syncWrites}
	return s, nil
}

// NewLevelDBStorage wraps an open database and counts the records already in it.
func NewLevelDBStorage(db *leveldb.DB, opts Options) (*LevelDBStorage, error) {
	s := &LevelDBStorage{db: db, opts: opts}

	iter := db.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	var n int64
	for iter.Next() {
		n++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, ioError(backendLevelDB, "open", err)
	}
	s.count.Store(n)
	return s, nil
}

// Store implements Storage.
func (s *LevelDBStorage) Store(ctx context.Context, record *models.BacktestRecord) error {
	if err := record.Validate(); err != nil {
		return newError(backendLevelDB, "store", err)
	}
	if err := ctx.Err(); err != nil {
		return newError(backendLevelDB, "store", err)
	}
	data, err := encodeRecord(record)
	if err != nil {
		return newError(backendLevelDB, "store", err)
	}
	key := record.MasterHash()

	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.load(s.db, key)
	if err != nil {
		return ioError(backendLevelDB, "store", err)
	}

	batch := new(leveldb.Batch)
	if existing != nil {
		batch.Delete(dataIndexKey(existing.Identity.DataHash(), key))
		batch.Delete(configIndexKey(existing.Identity.ConfigHash(), key))
	} else {
		s.capacity.Lock()
		defer s.capacity.Unlock()
		if s.opts.full(int(s.count.Load())) {
			return newError(backendLevelDB, "store", ErrStorageFull)
		}
	}
	batch.Put(recordKey(key), data)
	batch.Put(dataIndexKey(record.Identity.DataHash(), key), nil)
	batch.Put(configIndexKey(record.Identity.ConfigHash(), key), nil)

	if err := s.db.Write(batch, s.writeOpt); err != nil {
		return ioError(backendLevelDB, "store", err)
	}
	if existing == nil {
		s.count.Add(1)
	}
	return nil
}

// Get implements Storage.
func (s *LevelDBStorage) Get(ctx context.Context, masterHash string) (*models.BacktestRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, newError(backendLevelDB, "get", err)
	}

	lock := s.locks.forKey(masterHash)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.load(s.db, masterHash)
	if err != nil {
		return nil, false, ioError(backendLevelDB, "get", err)
	}
	if record == nil {
		s.stats.miss()
		return nil, false, nil
	}

	record.MarkAccessedAt(s.opts.now())
	data, err := encodeRecord(record)
	if err != nil {
		return nil, false, newError(backendLevelDB, "get", err)
	}
	if err := s.db.Put(recordKey(masterHash), data, s.writeOpt); err != nil {
		return nil, false, ioError(backendLevelDB, "get", err)
	}
	s.stats.hit()
	return record, true, nil
}

// Exists implements Storage.
func (s *LevelDBStorage) Exists(ctx context.Context, masterHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(backendLevelDB, "exists", err)
	}
	ok, err := s.db.Has(recordKey(masterHash), nil)
	if err != nil {
		return false, ioError(backendLevelDB, "exists", err)
	}
	return ok, nil
}

// GetByDataHash implements Storage.
func (s *LevelDBStorage) GetByDataHash(ctx context.Context, dataHash string) ([]*models.BacktestRecord, error) {
	return s.related(ctx, "get_by_data_hash", dataIndexPrefix(dataHash))
}

// GetByConfigHash implements Storage.
func (s *LevelDBStorage) GetByConfigHash(ctx context.Context, configHash string) ([]*models.BacktestRecord, error) {
	return s.related(ctx, "get_by_config_hash", configIndexPrefix(configHash))
}

// related reads the index and the records it points to from one snapshot.
func (s *LevelDBStorage) related(ctx context.Context, op string, prefix []byte) ([]*models.BacktestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(backendLevelDB, op, err)
	}

	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, ioError(backendLevelDB, op, err)
	}
	defer snap.Release()

	var masters []string
	iter := snap.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		masters = append(masters, masterFromIndexKey(iter.Key()))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, ioError(backendLevelDB, op, err)
	}

	records := make([]*models.BacktestRecord, 0, len(masters))
	for _, master := range masters {
		record, err := s.load(snap, master)
		if err != nil {
			return nil, ioError(backendLevelDB, op, err)
		}
		if record != nil {
			records = append(records, record)
		}
	}
	sortRecords(records)
	return records, nil
}

// Delete implements Storage.
func (s *LevelDBStorage) Delete(ctx context.Context, masterHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(backendLevelDB, "delete", err)
	}

	lock := s.locks.forKey(masterHash)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := s.remove(masterHash, nil)
	if err != nil {
		return false, ioError(backendLevelDB, "delete", err)
	}
	return deleted, nil
}

// Cleanup implements Storage.
func (s *LevelDBStorage) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, newError(backendLevelDB, "cleanup", ErrInvalidMaxAge)
	}
	cutoff := s.opts.cutoff(maxAgeDays)

	candidates, err := s.expiredKeys(cutoff)
	if err != nil {
		return 0, ioError(backendLevelDB, "cleanup", err)
	}

	deleted := 0
	for _, key := range candidates {
		if err := s.opts.pace(ctx); err != nil {
			return deleted, newError(backendLevelDB, "cleanup", err)
		}
		ok, err := s.removeIfExpired(key, cutoff)
		if err != nil {
			return deleted, ioError(backendLevelDB, "cleanup", err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (s *LevelDBStorage) expiredKeys(cutoff time.Time) ([]string, error) {
	var keys []string
	iter := s.db.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		record, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		if expired(record, cutoff) {
			keys = append(keys, record.MasterHash())
		}
	}
	return keys, iter.Error()
}

func (s *LevelDBStorage) removeIfExpired(key string, cutoff time.Time) (bool, error) {
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()
	return s.remove(key, func(record *models.BacktestRecord) bool {
		return expired(record, cutoff)
	})
}

// remove deletes key when keep is nil or returns true. The caller holds the key's lock.
func (s *LevelDBStorage) remove(key string, keep func(*models.BacktestRecord) bool) (bool, error) {
	existing, err := s.load(s.db, key)
	if err != nil || existing == nil {
		return false, err
	}
	if keep != nil && !keep(existing) {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete(recordKey(key))
	batch.Delete(dataIndexKey(existing.Identity.DataHash(), key))
	batch.Delete(configIndexKey(existing.Identity.ConfigHash(), key))
	if err := s.db.Write(batch, s.writeOpt); err != nil {
		return false, err
	}
	s.count.Add(-1)
	return true, nil
}

// Stats implements Storage.
func (s *LevelDBStorage) Stats(ctx context.Context) (models.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheStats{}, newError(backendLevelDB, "stats", err)
	}

	snap, err := s.db.GetSnapshot()
	if err != nil {
		return models.CacheStats{}, ioError(backendLevelDB, "stats", err)
	}
	defer snap.Release()

	var stats models.CacheStats
	if stats.TotalRecords, err = countKeys(snap, recordPrefix); err != nil {
		return models.CacheStats{}, ioError(backendLevelDB, "stats", err)
	}
	if stats.TotalDataHashes, err = countGroups(snap, dataPrefix); err != nil {
		return models.CacheStats{}, ioError(backendLevelDB, "stats", err)
	}
	if stats.TotalConfigHashes, err = countGroups(snap, configPrefix); err != nil {
		return models.CacheStats{}, ioError(backendLevelDB, "stats", err)
	}
	s.stats.fill(&stats)
	return stats, nil
}

func countKeys(snap *leveldb.Snapshot, prefix string) (int64, error) {
	iter := snap.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	var n int64
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// countGroups counts distinct hashes in an index. Keys sharing a hash are adjacent.
func countGroups(snap *leveldb.Snapshot, prefix string) (int64, error) {
	iter := snap.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	var n int64
	last := ""
	for iter.Next() {
		group := groupFromIndexKey(iter.Key(), prefix)
		if group != last {
			n++
			last = group
		}
	}
	return n, iter.Error()
}

// ClearAll implements Storage.
func (s *LevelDBStorage) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newError(backendLevelDB, "clear_all", err)
	}

	unlock := s.locks.lockAll()
	defer unlock()
	s.capacity.Lock()
	defer s.capacity.Unlock()

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return ioError(backendLevelDB, "clear_all", err)
	}
	if err := s.db.Write(batch, s.writeOpt); err != nil {
		return ioError(backendLevelDB, "clear_all", err)
	}
	s.count.Store(0)
	s.stats.reset()
	return nil
}

// Ping implements Storage.
func (s *LevelDBStorage) Ping(context.Context) error {
	if _, err := s.db.GetProperty("leveldb.num-files-at-level0"); err != nil {
		return ioError(backendLevelDB, "ping", err)
	}
	return nil
}

// Close implements Storage.
func (s *LevelDBStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return ioError(backendLevelDB, "close", err)
	}
	return nil
}

type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

// load returns nil without error when the key is absent.
func (s *LevelDBStorage) load(r levelReader, masterHash string) (*models.BacktestRecord, error) {
	data, err := r.Get(recordKey(masterHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}
