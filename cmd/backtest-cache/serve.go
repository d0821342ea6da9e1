package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/backtest-cache/internal/health"
	"github.com/yourusername/backtest-cache/internal/metrics"
	"github.com/yourusername/backtest-cache/internal/scheduler"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health server and the retention scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			metrics.InitRegistry()

			var sched *scheduler.Scheduler
			if a.cfg.Retention.Enabled {
				sched = scheduler.NewScheduler(a.svc, a.cfg.RetentionTimeout(), a.logger)
				if err := sched.ScheduleRetentionCleanup(a.cfg.Retention.Schedule, a.cfg.Retention.MaxAgeDays); err != nil {
					return err
				}
			}

			healthCfg := health.Config{
				ServiceName: a.cfg.App.Name,
				Version:     Version,
				Commit:      GitCommit,
				Addr:        a.cfg.MetricsAddress(),
				MetricsPath: a.cfg.Metrics.Path,
				Logger:      a.logger,
				Storage:     a.svc,
				Stats:       a.svc,
			}
			if sched != nil {
				healthCfg.Retention = sched
			}
			server := health.NewServer(healthCfg)
			if err := server.Start(ctx); err != nil {
				return err
			}

			if sched != nil {
				if err := sched.Start(); err != nil {
					_ = server.Shutdown()
					return err
				}
				a.logger.WithFields(logrus.Fields{
					"schedule":     a.cfg.Retention.Schedule,
					"max_age_days": a.cfg.Retention.MaxAgeDays,
					"next_run":     sched.GetNextRun().Format(time.RFC3339),
				}).Info("Retention cleanup scheduled")
			}

			// Publish gauges once at startup, then on every stats read.
			if _, err := a.svc.Stats(ctx); err != nil {
				a.logger.WithError(err).Warn("Failed to read initial cache stats")
			}
			server.SetReady(true)
			a.logger.WithField("addr", server.Addr()).Info("Backtest cache serving")

			<-ctx.Done()
			server.SetReady(false)
			if sched != nil {
				_ = sched.Stop()
			}
			a.logger.WithField("shutdown_at", time.Now().UTC().Format(time.RFC3339)).Info("Backtest cache stopped")
			return server.Shutdown()
		},
	}
}
