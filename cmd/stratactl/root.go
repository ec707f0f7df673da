package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/strata-dw/strata/internal/bootstrap"
	"github.com/strata-dw/strata/internal/config"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "stratactl",
	Short:        "Operator tooling for the strata warehouse",
	Long:         "Runs migrations, replays the ledger, rebuilds and audits aggregate buckets, and manages the operator error queue.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

		c, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "strata.yaml", "Path to configuration file")
}

// openApp assembles the warehouse with the background scheduler off so
// CLI operations drive the pipeline themselves.
func openApp() (*bootstrap.App, error) {
	c := *cfg
	c.Pipeline.Enabled = false
	return bootstrap.New(&c)
}

func completeRun(ctx context.Context, app *bootstrap.App, runID, status string, counts storage.RunCounts, detail string) {
	if err := app.Stores.Runs.CompleteRun(ctx, runID, status, counts, detail); err != nil {
		slog.Error("Failed to close run record", "run_id", runID, "error", err)
	}
}

// parseScope turns the shared --grain/--from/--to/--key flags into a
// rebuild scope with period-aligned bounds.
func parseScope(grainName, from, to, key string) (storage.RebuildScope, error) {
	var scope storage.RebuildScope

	grain, err := warehouse.ParseGrain(grainName)
	if err != nil {
		return scope, err
	}

	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return scope, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return scope, fmt.Errorf("invalid --to %q: %w", to, err)
	}
	if !start.Before(end) {
		return scope, fmt.Errorf("--from must precede --to")
	}

	scope.Grain = grain
	scope.PeriodStart = grain.PeriodStart(start)
	scope.PeriodEnd = end
	scope.DurableKey = key
	return scope, nil
}
