package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/yourusername/backtest-cache/internal/models"
	"github.com/yourusername/backtest-cache/internal/service"
)

// cliActor is recorded in the audit log for operator commands.
const cliActor = "cli"

type hashOutput struct {
	Identity models.BacktestIdentity `json:"identity"`
	Cached   bool                    `json:"cached"`
	Record   *models.RecordSummary   `json:"record,omitempty"`
}

func newHashCmd(a *app) *cobra.Command {
	var dataFile, strategyFile, paramsFile string
	var lookup bool

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute the identity of a backtest and report whether it is cached",
		Long: `Compute the identity of a backtest and report whether it is cached.

With --lookup the cached record is read and included in the output. The read counts
as a cache hit or miss and advances the record's access count.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(dataFile, strategyFile, paramsFile)
			if err != nil {
				return err
			}
			identity, err := a.svc.Identify(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := hashOutput{Identity: identity}
			if !lookup {
				if out.Cached, err = a.svc.Contains(cmd.Context(), req); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			record, found, err := a.svc.Lookup(cmd.Context(), req)
			if err != nil {
				return err
			}
			if found {
				summary := record.ToSummary()
				out.Cached = true
				out.Record = &summary
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&dataFile, "data", "", "Path to the raw data file")
	cmd.Flags().StringVar(&strategyFile, "strategy", "", "Path to the strategy configuration JSON")
	cmd.Flags().StringVar(&paramsFile, "params", "", "Path to the run parameters JSON")
	cmd.Flags().BoolVar(&lookup, "lookup", false, "Read the cached record and include it in the output")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "get <master-hash>",
		Short: "Show a cached record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := a.svc.Record(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if raw {
				_, err := cmd.OutOrStdout().Write(record.Result.RawResults())
				return err
			}
			return printJSON(cmd.OutOrStdout(), record.ToSummary())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Write the raw result blob instead of the summary")
	return cmd
}

func newRelatedCmd(a *app) *cobra.Command {
	var dataHash, configHash string

	cmd := &cobra.Command{
		Use:   "related",
		Short: "List records sharing a data or config hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			by, hash := service.RelatedByData, dataHash
			switch {
			case dataHash != "" && configHash != "":
				return errors.New("use only one of --data-hash and --config-hash")
			case configHash != "":
				by, hash = service.RelatedByConfig, configHash
			case dataHash == "":
				return errors.New("one of --data-hash or --config-hash is required")
			}

			records, err := a.svc.Related(cmd.Context(), by, hash)
			if err != nil {
				return err
			}
			summaries := make([]models.RecordSummary, 0, len(records))
			for _, record := range records {
				summaries = append(summaries, record.ToSummary())
			}
			return printJSON(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().StringVar(&dataHash, "data-hash", "", "Data hash to match")
	cmd.Flags().StringVar(&configHash, "config-hash", "", "Config hash to match")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <master-hash>",
		Short: "Delete a cached record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := a.svc.Delete(cmd.Context(), args[0], cliActor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"master_hash": args[0], "deleted": deleted})
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete records older than the retention age",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-age-days") {
				maxAgeDays = a.cfg.Retention.MaxAgeDays
			}
			deleted, err := a.svc.Cleanup(cmd.Context(), maxAgeDays, cliActor)
			if printErr := printJSON(cmd.OutOrStdout(), map[string]any{"max_age_days": maxAgeDays, "deleted": deleted}); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 30, "Delete records created more than this many days ago")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats.ToSummary())
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			if err := a.svc.ClearAll(cmd.Context(), cliActor); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"cleared": true})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the wipe")
	return cmd
}

// readRequest loads the data file and decodes the JSON documents. Numbers are kept as
// literals so decimal values hash exactly.
func readRequest(dataFile, strategyFile, paramsFile string) (service.Request, error) {
	data, err := os.ReadFile(dataFile)
	if err != nil {
		return service.Request{}, fmt.Errorf("failed to read data file: %w", err)
	}
	strategy, err := readJSONFile(strategyFile)
	if err != nil {
		return service.Request{}, err
	}
	params := any(map[string]any{})
	if paramsFile != "" {
		if params, err = readJSONFile(paramsFile); err != nil {
			return service.Request{}, err
		}
	}
	return service.Request{Data: data, Filename: dataFile, Config: strategy, Params: params}, nil
}

func readJSONFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return v, nil
}
