package storage

import (
	"context"
	"fmt"

	"github.com/yourusername/backtest-cache/internal/config"
	"github.com/yourusername/backtest-cache/internal/database"
)

// Open builds the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, opts Options) (Storage, error) {
	if opts.MaxRecords == 0 {
		opts.MaxRecords = cfg.Storage.MaxRecords
	}
	if opts.CleanupLimiter == nil {
		opts.CleanupLimiter = NewCleanupLimiter(cfg.Retention.DeleteRatePerSecond)
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return NewMemoryStorage(opts), nil
	case config.BackendLevelDB:
		return OpenLevelDB(cfg.Storage.Path, cfg.Storage.SyncWrites, opts)
	case config.BackendBadger:
		return OpenBadger(cfg.Storage.Path, cfg.Storage.InMemory, cfg.Storage.SyncWrites, opts)
	case config.BackendPostgres:
		db, err := database.Initialize(ctx, cfg)
		if err != nil {
			return nil, ioError(backendPostgres, "open", err)
		}
		s := NewPostgresStorage(db, cfg.Database.Table, opts)
		s.owned = true
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
