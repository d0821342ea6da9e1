package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/backtest-cache/internal/logger"
	"github.com/yourusername/backtest-cache/test/helpers"
)

type fakeCleaner struct {
	mu      sync.Mutex
	calls   []int
	actors  []string
	deleted int
	block   bool
}

func (f *fakeCleaner) Cleanup(ctx context.Context, maxAgeDays int, actor string) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, maxAgeDays)
	f.actors = append(f.actors, actor)
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.deleted, nil
}

func (f *fakeCleaner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(cleaner Cleaner, timeout time.Duration) *Scheduler {
	return NewScheduler(cleaner, timeout, logger.NewLoggerWithOutput("error", "development", io.Discard))
}

func TestScheduleRetentionCleanup(t *testing.T) {
	s := newTestScheduler(&fakeCleaner{}, time.Minute)

	require.NoError(t, s.ScheduleRetentionCleanup("0 3 * * *", 30))
	assert.Len(t, s.jobIDs, 1)

	assert.Error(t, s.ScheduleRetentionCleanup("not a schedule", 30))
	assert.Error(t, s.ScheduleRetentionCleanup("0 3 * * *", -1))
	assert.Len(t, s.jobIDs, 1)
}

func TestStartRequiresJobs(t *testing.T) {
	s := newTestScheduler(&fakeCleaner{}, time.Minute)
	assert.Error(t, s.Start())
	assert.False(t, s.IsRunning())
}

func TestSchedulerLifecycle(t *testing.T) {
	s := newTestScheduler(&fakeCleaner{}, time.Minute)
	require.NoError(t, s.ScheduleRetentionCleanup("0 3 * * *", 30))

	assert.True(t, s.GetNextRun().IsZero())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	next := s.GetNextRun()
	assert.False(t, next.IsZero())
	assert.Equal(t, 3, next.UTC().Hour())

	assert.Error(t, s.ScheduleRetentionCleanup("0 4 * * *", 30))

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop())
}

func TestGetNextRunPicksEarliestJob(t *testing.T) {
	s := newTestScheduler(&fakeCleaner{}, time.Minute)
	require.NoError(t, s.ScheduleRetentionCleanup("@every 2h", 30))
	require.NoError(t, s.ScheduleRetentionCleanup("@every 1h", 60))
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	next := s.GetNextRun()
	require.False(t, next.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)
}

func TestRunCleanup(t *testing.T) {
	cleaner := &fakeCleaner{deleted: 4}
	s := newTestScheduler(cleaner, time.Minute)

	assert.Equal(t, 4, s.RunCleanup(7))
	assert.Equal(t, []int{7}, cleaner.calls)
	assert.Equal(t, []string{Actor}, cleaner.actors)
}

func TestRunCleanupTimesOut(t *testing.T) {
	cleaner := &fakeCleaner{block: true}
	s := newTestScheduler(cleaner, 20*time.Millisecond)

	start := time.Now()
	assert.Equal(t, 0, s.RunCleanup(7))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScheduledJobRuns(t *testing.T) {
	cleaner := &fakeCleaner{deleted: 1}
	s := newTestScheduler(cleaner, time.Minute)
	require.NoError(t, s.ScheduleRetentionCleanup("@every 1s", 14))
	require.NoError(t, s.Start())
	defer s.Stop()

	helpers.WaitForCondition(t, 5*time.Second, func() bool {
		return cleaner.callCount() > 0
	}, "scheduled cleanup should run")
}

func TestStopCancelsLongRunningJob(t *testing.T) {
	cleaner := &fakeCleaner{block: true}
	s := newTestScheduler(cleaner, time.Hour)
	s.gracefulTimeout = 50 * time.Millisecond
	require.NoError(t, s.ScheduleRetentionCleanup("@every 1s", 14))
	require.NoError(t, s.Start())

	helpers.WaitForCondition(t, 5*time.Second, func() bool {
		return cleaner.callCount() > 0
	}, "scheduled cleanup should start")

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running job")
	}
}
