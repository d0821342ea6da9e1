// Package main provides the command-line interface to the backtest result cache.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/backtest-cache/internal/config"
	"github.com/yourusername/backtest-cache/internal/logger"
	"github.com/yourusername/backtest-cache/internal/service"
	"github.com/yourusername/backtest-cache/internal/storage"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// app holds what every subcommand shares once configuration is loaded.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *logrus.Logger
	store      storage.Storage
	svc        *service.BacktestCacheService
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one command line and releases the store however the command ends.
func execute(ctx context.Context, args []string, out io.Writer) error {
	a := &app{}
	defer a.close()

	cmd := a.rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	return cmd.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "backtest-cache",
		Short:   "Content-addressed cache of backtest results",
		Long:    `Looks up, inspects and maintains backtest results keyed by the hash of their data, strategy configuration and run parameters.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := a.setupDependencies(cmd.Context()); err != nil {
				return fmt.Errorf("failed to setup dependencies: %w", err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "./config/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(
		newHashCmd(a),
		newGetCmd(a),
		newRelatedCmd(a),
		newDeleteCmd(a),
		newCleanupCmd(a),
		newStatsCmd(a),
		newClearCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

func (a *app) loadConfig() error {
	cfg, err := config.LoadWithDefaults(a.configFile)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.ValidateEnvironment(cfg); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) setupDependencies(ctx context.Context) error {
	a.logger = logger.NewLogger(a.cfg.App.LogLevel, a.cfg.App.Environment)

	store, err := storage.Open(ctx, a.cfg, storage.Options{})
	if err != nil {
		return err
	}
	a.store = store
	a.svc = service.NewFromConfig(a.cfg, store, a.logger)

	a.logger.WithFields(logrus.Fields{
		"backend":     a.cfg.Storage.Backend,
		"environment": a.cfg.App.Environment,
	}).Debug("Cache opened")
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
