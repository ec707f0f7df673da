package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/pipeline"
)

var replayYes bool

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reset aggregates and replay the ledger from the beginning",
	Long: "Clears every aggregate bucket and the pipeline checkpoint, then drains the full ledger. " +
		"Dimension history and bound facts are left in place; replayed records resolve to no-ops against them. " +
		"Run this offline: a concurrently running server would double-apply.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if !replayYes {
			return fmt.Errorf("replay clears all aggregate buckets; re-run with --yes to confirm")
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		runID, err := app.Stores.Runs.StartRun(ctx, "replay")
		if err != nil {
			return fmt.Errorf("open run record: %w", err)
		}

		if err := app.Stores.Buckets.ResetAggregates(ctx, pipeline.Processor); err != nil {
			completeRun(ctx, app, runID, storage.RunFailed, storage.RunCounts{}, err.Error())
			return fmt.Errorf("reset aggregates: %w", err)
		}
		slog.Info("Aggregates reset, draining ledger")

		var records int64
		for {
			n, err := app.Pipeline.RunBatch(ctx)
			if err != nil {
				completeRun(ctx, app, runID, storage.RunFailed, storage.RunCounts{RecordsRead: records}, err.Error())
				return fmt.Errorf("replay batch: %w", err)
			}
			if n == 0 {
				break
			}
			records += int64(n)
		}

		completeRun(ctx, app, runID, storage.RunSucceeded, storage.RunCounts{RecordsRead: records}, "")
		slog.Info("Replay complete", "records", records)
		return nil
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayYes, "yes", false, "Confirm clearing all aggregate buckets")
	rootCmd.AddCommand(replayCmd)
}
