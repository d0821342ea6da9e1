package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/yourusername/backtest-cache/internal/models"
)

const backendBadger = "badger"

// BadgerStorage persists records in BadgerDB. Each mutation runs in a single Update
// transaction covering the record and its index entries.
type BadgerStorage struct {
	db       *badger.DB
	locks    keyLocks
	capacity sync.Mutex
	count    atomic.Int64
	opts     Options
	stats    statsCounter
}

// OpenBadger opens the database at path, or an in-memory database when inMemory is set.
func OpenBadger(path string, inMemory, syncWrites bool, opts Options) (*BadgerStorage, error) {
	badgerOpts := badger.DefaultOptions(path).
		WithSyncWrites(syncWrites).
		WithLogger(nil)
	if inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, ioError(backendBadger, "open", fmt.Errorf("open %q: %w", path, err))
	}
	s, err := NewBadgerStorage(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewBadgerStorage wraps an open database and counts the records already in it.
func NewBadgerStorage(db *badger.DB, opts Options) (*BadgerStorage, error) {
	s := &BadgerStorage{db: db, opts: opts}
	var n int64
	err := db.View(func(txn *badger.Txn) error {
		var err error
		n, err = countPrefix(txn, []byte(recordPrefix))
		return err
	})
	if err != nil {
		return nil, ioError(backendBadger, "open", err)
	}
	s.count.Store(n)
	return s, nil
}

// Store implements Storage.
func (s *BadgerStorage) Store(ctx context.Context, record *models.BacktestRecord) error {
	if err := record.Validate(); err != nil {
		return newError(backendBadger, "store", err)
	}
	if err := ctx.Err(); err != nil {
		return newError(backendBadger, "store", err)
	}
	data, err := encodeRecord(record)
	if err != nil {
		return newError(backendBadger, "store", err)
	}
	key := record.MasterHash()

	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	created := false
	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := loadTxn(txn, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := txn.Delete(dataIndexKey(existing.Identity.DataHash(), key)); err != nil {
				return fmt.Errorf("delete data index: %w", err)
			}
			if err := txn.Delete(configIndexKey(existing.Identity.ConfigHash(), key)); err != nil {
				return fmt.Errorf("delete config index: %w", err)
			}
		} else {
			// held until the transaction commits
			s.capacity.Lock()
			if s.opts.full(int(s.count.Load())) {
				s.capacity.Unlock()
				return ErrStorageFull
			}
			created = true
		}

		if err := txn.Set(recordKey(key), data); err != nil {
			return fmt.Errorf("set record: %w", err)
		}
		if err := txn.Set(dataIndexKey(record.Identity.DataHash(), key), nil); err != nil {
			return fmt.Errorf("set data index: %w", err)
		}
		if err := txn.Set(configIndexKey(record.Identity.ConfigHash(), key), nil); err != nil {
			return fmt.Errorf("set config index: %w", err)
		}
		return nil
	})
	if created {
		if err == nil {
			s.count.Add(1)
		}
		s.capacity.Unlock()
	}

	if errors.Is(err, ErrStorageFull) {
		return newError(backendBadger, "store", ErrStorageFull)
	}
	if err != nil {
		return ioError(backendBadger, "store", err)
	}
	return nil
}

// Get implements Storage.
func (s *BadgerStorage) Get(ctx context.Context, masterHash string) (*models.BacktestRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, newError(backendBadger, "get", err)
	}

	lock := s.locks.forKey(masterHash)
	lock.Lock()
	defer lock.Unlock()

	var record *models.BacktestRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		record, err = loadTxn(txn, masterHash)
		if err != nil || record == nil {
			return err
		}
		record.MarkAccessedAt(s.opts.now())
		data, err := encodeRecord(record)
		if err != nil {
			return err
		}
		return txn.Set(recordKey(masterHash), data)
	})
	if err != nil {
		return nil, false, ioError(backendBadger, "get", err)
	}
	if record == nil {
		s.stats.miss()
		return nil, false, nil
	}
	s.stats.hit()
	return record, true, nil
}

// Exists implements Storage.
func (s *BadgerStorage) Exists(ctx context.Context, masterHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(backendBadger, "exists", err)
	}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(masterHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, ioError(backendBadger, "exists", err)
	}
	return found, nil
}

// GetByDataHash implements Storage.
func (s *BadgerStorage) GetByDataHash(ctx context.Context, dataHash string) ([]*models.BacktestRecord, error) {
	return s.related(ctx, "get_by_data_hash", dataIndexPrefix(dataHash))
}

// GetByConfigHash implements Storage.
func (s *BadgerStorage) GetByConfigHash(ctx context.Context, configHash string) ([]*models.BacktestRecord, error) {
	return s.related(ctx, "get_by_config_hash", configIndexPrefix(configHash))
}

func (s *BadgerStorage) related(ctx context.Context, op string, prefix []byte) ([]*models.BacktestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(backendBadger, op, err)
	}

	var records []*models.BacktestRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var masters []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			masters = append(masters, masterFromIndexKey(it.Item().Key()))
		}

		records = make([]*models.BacktestRecord, 0, len(masters))
		for _, master := range masters {
			record, err := loadTxn(txn, master)
			if err != nil {
				return err
			}
			if record != nil {
				records = append(records, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, ioError(backendBadger, op, err)
	}
	sortRecords(records)
	return records, nil
}

// Delete implements Storage.
func (s *BadgerStorage) Delete(ctx context.Context, masterHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(backendBadger, "delete", err)
	}

	lock := s.locks.forKey(masterHash)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := s.remove(masterHash, nil)
	if err != nil {
		return false, ioError(backendBadger, "delete", err)
	}
	return deleted, nil
}

// Cleanup implements Storage.
func (s *BadgerStorage) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, newError(backendBadger, "cleanup", ErrInvalidMaxAge)
	}
	cutoff := s.opts.cutoff(maxAgeDays)

	var candidates []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(recordPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				record, err := decodeRecord(val)
				if err != nil {
					return err
				}
				if expired(record, cutoff) {
					candidates = append(candidates, record.MasterHash())
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, ioError(backendBadger, "cleanup", err)
	}

	deleted := 0
	for _, key := range candidates {
		if err := s.opts.pace(ctx); err != nil {
			return deleted, newError(backendBadger, "cleanup", err)
		}
		ok, err := s.removeIfExpired(key, cutoff)
		if err != nil {
			return deleted, ioError(backendBadger, "cleanup", err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (s *BadgerStorage) removeIfExpired(key string, cutoff time.Time) (bool, error) {
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()
	return s.remove(key, func(record *models.BacktestRecord) bool {
		return expired(record, cutoff)
	})
}

// remove deletes key when keep is nil or returns true. The caller holds the key's lock.
func (s *BadgerStorage) remove(key string, keep func(*models.BacktestRecord) bool) (bool, error) {
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := loadTxn(txn, key)
		if err != nil || existing == nil {
			return err
		}
		if keep != nil && !keep(existing) {
			return nil
		}
		for _, k := range [][]byte{
			recordKey(key),
			dataIndexKey(existing.Identity.DataHash(), key),
			configIndexKey(existing.Identity.ConfigHash(), key),
		} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.count.Add(-1)
	}
	return deleted, nil
}

// Stats implements Storage.
func (s *BadgerStorage) Stats(ctx context.Context) (models.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheStats{}, newError(backendBadger, "stats", err)
	}

	var stats models.CacheStats
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if stats.TotalRecords, err = countPrefix(txn, []byte(recordPrefix)); err != nil {
			return err
		}
		if stats.TotalDataHashes, err = countIndexGroups(txn, dataPrefix); err != nil {
			return err
		}
		stats.TotalConfigHashes, err = countIndexGroups(txn, configPrefix)
		return err
	})
	if err != nil {
		return models.CacheStats{}, ioError(backendBadger, "stats", err)
	}
	s.stats.fill(&stats)
	return stats, nil
}

func countPrefix(txn *badger.Txn, prefix []byte) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var n int64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}

func countIndexGroups(txn *badger.Txn, prefix string) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var n int64
	last := ""
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		group := groupFromIndexKey(it.Item().Key(), prefix)
		if group != last {
			n++
			last = group
		}
	}
	return n, nil
}

// ClearAll implements Storage.
func (s *BadgerStorage) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newError(backendBadger, "clear_all", err)
	}

	unlock := s.locks.lockAll()
	defer unlock()
	s.capacity.Lock()
	defer s.capacity.Unlock()

	if err := s.db.DropAll(); err != nil {
		return ioError(backendBadger, "clear_all", err)
	}
	s.count.Store(0)
	s.stats.reset()
	return nil
}

// Ping implements Storage.
func (s *BadgerStorage) Ping(context.Context) error {
	if s.db.IsClosed() {
		return newError(backendBadger, "ping", ErrClosed)
	}
	return nil
}

// Close implements Storage.
func (s *BadgerStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return ioError(backendBadger, "close", err)
	}
	return nil
}

// loadTxn returns nil without error when the key is absent.
func loadTxn(txn *badger.Txn, masterHash string) (*models.BacktestRecord, error) {
	item, err := txn.Get(recordKey(masterHash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return decodeRecord(data)
}
