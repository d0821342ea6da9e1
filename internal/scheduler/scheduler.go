// Package scheduler runs retention cleanup on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Actor is recorded in the audit log for scheduled cleanups.
const Actor = "retention-scheduler"

// Cleaner removes records older than maxAgeDays.
type Cleaner interface {
	Cleanup(ctx context.Context, maxAgeDays int, actor string) (int, error)
}

// Scheduler manages scheduled retention jobs
type Scheduler struct {
	cron            *cron.Cron
	cleaner         Cleaner
	logger          *logrus.Logger
	mu              sync.RWMutex
	isRunning       bool
	jobIDs          []cron.EntryID
	jobTimeout      time.Duration
	gracefulTimeout time.Duration
	jobCtx          context.Context
	cancelJobs      context.CancelFunc
}

// NewScheduler creates a new scheduler. Each run is bounded by jobTimeout.
func NewScheduler(cleaner Cleaner, jobTimeout time.Duration, logger *logrus.Logger) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = time.Hour
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:            cron.New(cron.WithLocation(time.UTC)),
		cleaner:         cleaner,
		logger:          logger,
		jobIDs:          make([]cron.EntryID, 0),
		jobTimeout:      jobTimeout,
		gracefulTimeout: 30 * time.Second,
		jobCtx:          jobCtx,
		cancelJobs:      cancel,
	}
}

// ScheduleRetentionCleanup schedules removal of records older than maxAgeDays.
func (s *Scheduler) ScheduleRetentionCleanup(cronExpression string, maxAgeDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}
	if maxAgeDays < 0 {
		return fmt.Errorf("max age must not be negative, got %d", maxAgeDays)
	}

	entryID, err := s.cron.AddFunc(cronExpression, func() {
		s.RunCleanup(maxAgeDays)
	})
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithFields(logrus.Fields{
		"schedule":     cronExpression,
		"max_age_days": maxAgeDays,
	}).Info("Scheduled retention cleanup")

	return nil
}

// RunCleanup performs one retention pass and returns the number of records removed.
func (s *Scheduler) RunCleanup(maxAgeDays int) int {
	ctx, cancel := context.WithTimeout(s.jobCtx, s.jobTimeout)
	defer cancel()

	deleted, err := s.cleaner.Cleanup(ctx, maxAgeDays, Actor)
	entry := s.logger.WithFields(logrus.Fields{
		"max_age_days": maxAgeDays,
		"deleted":      deleted,
	})
	switch {
	case err == nil:
		entry.Info("Scheduled retention cleanup completed")
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		entry.WithError(err).Warn("Scheduled retention cleanup interrupted")
	default:
		entry.WithError(err).Error("Scheduled retention cleanup failed")
	}
	return deleted
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")

	return nil
}

// Stop waits for running jobs. Jobs still running after the graceful timeout are
// cancelled.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	done := s.cron.Stop()
	timer := time.NewTimer(s.gracefulTimeout)
	defer timer.Stop()

	select {
	case <-done.Done():
	case <-timer.C:
		s.logger.Warn("Retention job still running after graceful timeout, cancelling")
		s.cancelJobs()
		<-done.Done()
	}

	s.isRunning = false
	s.logger.Info("Scheduler stopped")

	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled job run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || len(s.jobIDs) == 0 {
		return time.Time{}
	}

	nextRun := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			nextTime := entry.Next
			if nextRun.IsZero() || nextTime.Before(nextRun) {
				nextRun = nextTime
			}
		}
	}

	return nextRun
}
