//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/backtest-cache/internal/config"
	"github.com/yourusername/backtest-cache/internal/database"
	"github.com/yourusername/backtest-cache/internal/logger"
	"github.com/yourusername/backtest-cache/internal/models"
	"github.com/yourusername/backtest-cache/internal/service"
	"github.com/yourusername/backtest-cache/internal/storage"
	"github.com/yourusername/backtest-cache/test/helpers"
)

const skipIntegration = "Skipping integration test in short mode"

func newPostgresStore(t *testing.T, db *database.DB, table string, maxRecords int) *storage.PostgresStorage {
	t.Helper()
	ctx := context.Background()
	store := storage.NewPostgresStorage(db, table, storage.Options{MaxRecords: maxRecords})
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.ClearAll(ctx))
	t.Cleanup(func() {
		_, _ = db.GetPool().Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})
	return store
}

func simulate(ctx context.Context, req service.Request) (models.BacktestResult, error) {
	return models.NewResultFromSimulation(helpers.SampleSimulation())
}

// TestSharedTableAcrossInstances runs two services against one table, as two processes would.
func TestSharedTableAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip(skipIntegration)
	}

	ctx := context.Background()
	db := database.SetupTestDB(t)
	log := logger.NewLoggerWithOutput("error", "development", io.Discard)

	first := service.NewBacktestCacheService(newPostgresStore(t, db, "backtest_records_shared", 0), service.Options{Backend: config.BackendPostgres}, log)
	second := service.NewBacktestCacheService(storage.NewPostgresStorage(db, "backtest_records_shared", storage.Options{}), service.Options{Backend: config.BackendPostgres}, log)

	req := service.Request{
		Data:     []byte(helpers.SampleCSV),
		Filename: "prices.csv",
		Config:   helpers.SampleConfig(),
		Params:   helpers.SampleParams(),
	}

	computed, err := first.GetOrCompute(ctx, req, simulate)
	require.NoError(t, err)
	require.False(t, computed.CacheHit)

	cached, err := second.GetOrCompute(ctx, req, func(context.Context, service.Request) (models.BacktestResult, error) {
		return models.BacktestResult{}, errors.New("must not recompute")
	})
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
	assert.Equal(t, int64(2), cached.Record.Metadata.AccessCount())
	assert.Equal(t, computed.Record.Result.RawResults(), cached.Record.Result.RawResults())
	assert.True(t, computed.Record.CreatedAt().Equal(cached.Record.CreatedAt()))
}

// TestCapacityUnderConcurrentInserts checks the advisory lock keeps the cap exact.
func TestCapacityUnderConcurrentInserts(t *testing.T) {
	if testing.Short() {
		t.Skip(skipIntegration)
	}

	ctx := context.Background()
	db := database.SetupTestDB(t)
	store := newPostgresStore(t, db, "backtest_records_capacity", 5)

	const writers = 12
	var stored, full atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Store(ctx, helpers.RecordWithFast(t, i+1, time.Now()))
			switch {
			case err == nil:
				stored.Add(1)
			case errors.Is(err, storage.ErrStorageFull):
				full.Add(1)
			default:
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), stored.Load())
	assert.Equal(t, int32(writers-5), full.Load())

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalRecords)
}

// TestCleanupInBatches removes more rows than one cleanup batch holds.
func TestCleanupInBatches(t *testing.T) {
	if testing.Short() {
		t.Skip(skipIntegration)
	}

	ctx := context.Background()
	db := database.SetupTestDB(t)
	store := newPostgresStore(t, db, "backtest_records_cleanup", 0)

	old := time.Now().Add(-60 * 24 * time.Hour)
	const total = 250
	for i := 0; i < total; i++ {
		require.NoError(t, store.Store(ctx, helpers.RecordWithData(t, fmt.Sprintf("row-%d", i), old)))
	}
	require.NoError(t, store.Store(ctx, helpers.RecordWithFast(t, 10, time.Now())))

	deleted, err := store.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, total, deleted)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
}
