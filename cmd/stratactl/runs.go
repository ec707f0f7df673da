package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/strata-dw/strata/internal/core/storage"
)

var (
	runsProcess string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the process execution log",
	Long:  "Lists recorded process runs (pipeline batches, replays, rebuilds, audits), newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		runs, err := app.Stores.Runs.ListRuns(cmd.Context(), runsProcess, runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			slog.Info("No runs recorded")
			return nil
		}

		formatRuns(os.Stdout, runs)
		return nil
	},
}

func formatRuns(out io.Writer, runs []storage.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROCESS\tSTATUS\tSTARTED\tDURATION\tREAD\tAPPLIED\tBOUND\tBUCKETS\tDETAIL")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.Process,
			r.Status,
			r.StartedAt.Format(time.RFC3339),
			dur,
			r.Counts.RecordsRead,
			r.Counts.ChangesApplied,
			r.Counts.FactsBound,
			r.Counts.BucketsUpdated,
			truncate(r.Detail, 60),
		)
	}
	_ = w.Flush()
}

func init() {
	runsCmd.Flags().StringVar(&runsProcess, "process", "", "Filter by process name")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "Maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}
