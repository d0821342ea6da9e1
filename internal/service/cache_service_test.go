package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/backtest-cache/internal/canonical"
	"github.com/yourusername/backtest-cache/internal/config"
	"github.com/yourusername/backtest-cache/internal/hashing"
	"github.com/yourusername/backtest-cache/internal/logger"
	"github.com/yourusername/backtest-cache/internal/metrics"
	"github.com/yourusername/backtest-cache/internal/models"
	"github.com/yourusername/backtest-cache/internal/storage"
	"github.com/yourusername/backtest-cache/test/helpers"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, maxRecords int, policy string) (*BacktestCacheService, *helpers.FakeClock) {
	t.Helper()
	clock := helpers.NewFakeClock(epoch)
	store := storage.NewMemoryStorage(storage.Options{MaxRecords: maxRecords, Now: clock.Now})
	t.Cleanup(func() { _ = store.Close() })

	log := logger.NewLoggerWithOutput("error", "development", io.Discard)
	svc := NewBacktestCacheService(store, Options{Backend: config.BackendMemory, UnsortablePolicy: policy, Now: clock.Now}, log)
	return svc, clock
}

func sampleRequest() Request {
	return Request{
		Data:     []byte(helpers.SampleCSV),
		Filename: "prices.csv",
		Config:   helpers.SampleConfig(),
		Params:   helpers.SampleParams(),
	}
}

// countingCompute returns a ComputeFunc that counts its calls.
func countingCompute(calls *atomic.Int32) ComputeFunc {
	return func(ctx context.Context, req Request) (models.BacktestResult, error) {
		calls.Add(1)
		return models.NewResultFromSimulation(helpers.SampleSimulation())
	}
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32

	first, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.False(t, first.Shared)
	assert.True(t, first.Stored)
	assert.Equal(t, int32(1), calls.Load())

	meta := first.Record.Metadata
	assert.Equal(t, int64(1), meta.AccessCount())
	assert.True(t, meta.CreatedAt().Equal(epoch))
	assert.Equal(t, models.DataDescription{
		Filename:  "prices.csv",
		SizeBytes: int64(len(helpers.SampleCSV)),
		Rows:      5,
	}, meta.Data())
	assert.GreaterOrEqual(t, meta.ExecutionTimeSeconds, 0.0)

	clock.Advance(time.Hour)
	second, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Record.MasterHash(), second.Record.MasterHash())
	assert.Equal(t, int64(2), second.Record.Metadata.AccessCount())
	assert.True(t, second.Record.Metadata.LastAccessed().Equal(epoch.Add(time.Hour)))
	assert.Equal(t, first.Record.Result.RawResults(), second.Record.Result.RawResults())
}

func TestGetOrComputeIgnoresFilename(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32

	_, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)

	renamed := sampleRequest()
	renamed.Filename = "copy-of-prices.csv"
	outcome, err := svc.GetOrCompute(ctx, renamed, countingCompute(&calls))
	require.NoError(t, err)
	assert.True(t, outcome.CacheHit)
	assert.Equal(t, "prices.csv", outcome.Record.Metadata.DataFilename)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeSharesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0, config.UnsortableReject)

	const callers = 8
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context, req Request) (models.BacktestResult, error) {
		calls.Add(1)
		<-release
		return models.NewResultFromSimulation(helpers.SampleSimulation())
	}

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.GetOrCompute(ctx, sampleRequest(), compute)
		}(i)
	}

	helpers.WaitForCondition(t, 5*time.Second, func() bool {
		stats, err := svc.Stats(ctx)
		return err == nil && stats.CacheMisses == callers
	}, "every caller should miss before the computation finishes")
	// give the last caller time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	shared := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, outcomes[i].CacheHit)
		assert.Equal(t, outcomes[0].Record.MasterHash(), outcomes[i].Record.MasterHash())
		if outcomes[i].Shared {
			shared++
		}
	}
	assert.Equal(t, callers-1, shared)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
}

func TestGetOrComputeComputeFailure(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0, config.UnsortableReject)
	cause := errors.New("not enough bars")

	_, err := svc.GetOrCompute(ctx, sampleRequest(), func(context.Context, Request) (models.BacktestResult, error) {
		return models.BacktestResult{}, cause
	})
	assert.ErrorIs(t, err, ErrComputeFailed)
	assert.ErrorIs(t, err, cause)

	ok, err := svc.Contains(ctx, sampleRequest())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.GetOrCompute(ctx, sampleRequest(), nil)
	assert.Error(t, err)
}

func TestGetOrComputeCacheFull(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, config.UnsortableReject)
	var calls atomic.Int32

	_, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)

	other := sampleRequest()
	other.Params = map[string]any{"initial_capital": 50000}
	outcome, err := svc.GetOrCompute(ctx, other, countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, outcome.Stored)
	assert.NotNil(t, outcome.Record)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
}

func TestGetOrComputeStorageErrors(t *testing.T) {
	ctx := context.Background()
	log := logger.NewLoggerWithOutput("error", "development", io.Discard)
	ioFailure := errors.New("disk unavailable")

	t.Run("store failure still returns the result", func(t *testing.T) {
		store := new(MockStorage)
		store.On("Get", mock.Anything, mock.AnythingOfType("string")).Return(nil, false, nil)
		store.On("Store", mock.Anything, mock.AnythingOfType("*models.BacktestRecord")).Return(ioFailure)
		svc := NewBacktestCacheService(store, Options{Backend: "mock"}, log)

		var calls atomic.Int32
		outcome, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
		require.NoError(t, err)
		assert.False(t, outcome.Stored)
		assert.Equal(t, int32(1), calls.Load())
		store.AssertExpectations(t)
	})

	t.Run("lookup failure skips the computation", func(t *testing.T) {
		store := new(MockStorage)
		store.On("Get", mock.Anything, mock.AnythingOfType("string")).Return(nil, false, ioFailure)
		svc := NewBacktestCacheService(store, Options{Backend: "mock"}, log)

		var calls atomic.Int32
		_, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
		assert.ErrorIs(t, err, ioFailure)
		assert.Equal(t, int32(0), calls.Load())
		store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	})
}

func TestIdentifyMatchesHashing(t *testing.T) {
	svc, _ := newTestService(t, 0, config.UnsortableReject)
	req := sampleRequest()

	got, err := svc.Identify(context.Background(), req)
	require.NoError(t, err)
	want, err := hashing.ComputeIdentity(req.Data, req.Config, req.Params)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIdentifyUnsortablePolicy(t *testing.T) {
	ctx := context.Background()
	withTags := func() Request {
		req := sampleRequest()
		cfg := helpers.SampleConfig()
		cfg["tags"] = []any{"momentum", 3}
		req.Config = cfg
		return req
	}

	t.Run("reject", func(t *testing.T) {
		svc, _ := newTestService(t, 0, config.UnsortableReject)
		before := testutil.ToFloat64(metrics.CanonicalizationFailuresTotal.WithLabelValues(sectionConfig, config.UnsortableReject))

		_, err := svc.Identify(ctx, withTags())
		assert.ErrorIs(t, err, canonical.ErrUnsortable)
		var canonErr *canonical.CanonicalizationError
		require.True(t, errors.As(err, &canonErr))

		after := testutil.ToFloat64(metrics.CanonicalizationFailuresTotal.WithLabelValues(sectionConfig, config.UnsortableReject))
		assert.Equal(t, before+1, after)
	})

	t.Run("exclude", func(t *testing.T) {
		var buf bytes.Buffer
		clock := helpers.NewFakeClock(epoch)
		store := storage.NewMemoryStorage(storage.Options{Now: clock.Now})
		log := logger.NewLoggerWithOutput("warn", "production", &buf)
		svc := NewBacktestCacheService(store, Options{Backend: config.BackendMemory, UnsortablePolicy: config.UnsortableExclude}, log)

		got, err := svc.Identify(ctx, withTags())
		require.NoError(t, err)
		plain, err := svc.Identify(ctx, sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, plain, got)

		assert.Contains(t, buf.String(), `"field":"tags"`)
		assert.Contains(t, buf.String(), `"section":"config"`)
	})

	t.Run("exclude still rejects unsupported values", func(t *testing.T) {
		svc, _ := newTestService(t, 0, config.UnsortableExclude)
		req := sampleRequest()
		req.Params = map[string]any{"commission": math.NaN(), "tags": []any{"a", 1}}

		_, err := svc.Identify(ctx, req)
		assert.ErrorIs(t, err, canonical.ErrUnsupportedValue)
	})
}

func TestLookupAndContains(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32

	record, found, err := svc.Lookup(ctx, sampleRequest())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, record)

	cached, err := svc.Contains(ctx, sampleRequest())
	require.NoError(t, err)
	assert.False(t, cached)

	_, err = svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)

	cached, err = svc.Contains(ctx, sampleRequest())
	require.NoError(t, err)
	assert.True(t, cached)

	clock.Advance(time.Minute)
	record, found, err = svc.Lookup(ctx, sampleRequest())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), record.Metadata.AccessCount())
	assert.True(t, record.Metadata.LastAccessed().Equal(epoch.Add(time.Minute)))
	assert.Equal(t, int32(1), calls.Load())

	// the initial Lookup and GetOrCompute missed; Contains never counts
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.CacheMisses)

	bad := sampleRequest()
	bad.Config = map[string]any{"symbol": "AB\xff"}
	_, _, err = svc.Lookup(ctx, bad)
	assert.ErrorIs(t, err, canonical.ErrUnsupportedValue)
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32
	outcome, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)

	got, err := svc.Record(ctx, outcome.Record.MasterHash())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Metadata.AccessCount())

	missing := helpers.RecordWithFast(t, 99, epoch).MasterHash()
	_, err = svc.Record(ctx, missing)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	_, err = svc.Record(ctx, "ABC")
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)
}

func TestRelated(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32

	var masters []string
	for _, fast := range []int{5, 10, 15} {
		req := sampleRequest()
		cfg := helpers.SampleConfig()
		cfg["fast"] = fast
		req.Config = cfg
		outcome, err := svc.GetOrCompute(ctx, req, countingCompute(&calls))
		require.NoError(t, err)
		masters = append(masters, outcome.Record.MasterHash())
		clock.Advance(time.Minute)
	}

	identity, err := svc.Identify(ctx, sampleRequest())
	require.NoError(t, err)

	byData, err := svc.Related(ctx, RelatedByData, identity.DataHash())
	require.NoError(t, err)
	require.Len(t, byData, 3)
	for i, record := range byData {
		assert.Equal(t, masters[i], record.MasterHash())
	}

	byConfig, err := svc.Related(ctx, RelatedByConfig, identity.ConfigHash())
	require.NoError(t, err)
	require.Len(t, byConfig, 1)
	assert.Equal(t, identity.MasterHash(), byConfig[0].MasterHash())

	_, err = svc.Related(ctx, RelatedBy("params"), identity.ParamsHash())
	assert.Error(t, err)
	_, err = svc.Related(ctx, RelatedByData, "not-a-hash")
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)
}

func TestDeleteAndCleanup(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32

	old, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)

	fresh := sampleRequest()
	fresh.Params = map[string]any{"initial_capital": 1}
	recent, err := svc.GetOrCompute(ctx, fresh, countingCompute(&calls))
	require.NoError(t, err)

	deleted, err := svc.Cleanup(ctx, 7, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	ok, err := svc.Contains(ctx, sampleRequest())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Cleanup(ctx, -1, "test")
	assert.ErrorIs(t, err, storage.ErrInvalidMaxAge)

	removed, err := svc.Delete(ctx, recent.Record.MasterHash(), "test")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = svc.Delete(ctx, old.Record.MasterHash(), "test")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCleanupInterrupted(t *testing.T) {
	svc, clock := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32
	_, err := svc.GetOrCompute(context.Background(), sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)
	clock.Advance(30 * 24 * time.Hour)

	before := testutil.ToFloat64(metrics.CleanupRunsTotal.WithLabelValues("interrupted"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	deleted, err := svc.Cleanup(ctx, 7, "test")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CleanupRunsTotal.WithLabelValues("interrupted")))
}

func TestStatsPublishesGauges(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0, config.UnsortableReject)
	var calls atomic.Int32

	_, err := svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)
	_, err = svc.GetOrCompute(ctx, sampleRequest(), countingCompute(&calls))
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecordsTotal))
	assert.Equal(t, 0.5, testutil.ToFloat64(metrics.HitRatio))

	require.NoError(t, svc.ClearAll(ctx, "test"))
	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CacheStats{}, stats)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RecordsTotal))
}

func TestDescribeData(t *testing.T) {
	tests := []struct {
		name string
		data string
		rows int
	}{
		{name: "empty", data: "", rows: 0},
		{name: "header only", data: "Date,Close\n", rows: 0},
		{name: "sample", data: helpers.SampleCSV, rows: 5},
		{name: "no trailing newline", data: "Date,Close\n2023-01-01,1\n2023-01-02,2", rows: 2},
		{name: "quoted newline", data: "Date,Note\n2023-01-01,\"two\nlines\"\n", rows: 1},
		{name: "blank lines skipped", data: "Date,Close\n\n2023-01-01,1\n\n", rows: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DescribeData("in.csv", []byte(tt.data))
			assert.Equal(t, tt.rows, got.Rows)
			assert.Equal(t, int64(len(tt.data)), got.SizeBytes)
			assert.Equal(t, "in.csv", got.Filename)
		})
	}
}
