package main

import (
	"errors"
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
	errorsStatus string
	errorsLimit  int
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Operator error queue",
	Long:  "Lists and resolves escalations: out-of-order dimension changes and facts that exhausted their retry budget.",
}

var errorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		switch errorsStatus {
		case "", storage.EscalationOpen, storage.EscalationResolved:
		default:
			return fmt.Errorf("invalid --status %q (open or resolved)", errorsStatus)
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		escs, err := app.Stores.Errors.List(ctx, errorsStatus, errorsLimit)
		if err != nil {
			return fmt.Errorf("list escalations: %w", err)
		}
		if len(escs) == 0 {
			slog.Info("No escalations found")
			return nil
		}

		formatEscalations(os.Stdout, escs)
		return nil
	},
}

var errorsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark an escalation resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Stores.Errors.Resolve(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no escalation with id %q", args[0])
			}
			return fmt.Errorf("resolve escalation: %w", err)
		}

		slog.Info("Escalation resolved", "id", args[0])
		return nil
	},
}

func formatEscalations(out io.Writer, escs []storage.Escalation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tKEY\tEVENT_TIME\tSEQ\tSTATUS\tREPORTED\tDETAIL")

	for _, e := range escs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ID,
			e.Kind,
			e.DurableKey,
			e.Token.EventTime.Format(time.RFC3339),
			e.Token.SequenceNo,
			e.Status,
			e.ReportedAt.Format(time.RFC3339),
			truncate(e.Detail, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	errorsListCmd.Flags().StringVar(&errorsStatus, "status", "", "Filter by status (open, resolved)")
	errorsListCmd.Flags().IntVar(&errorsLimit, "limit", 50, "Maximum entries to list")
	errorsCmd.AddCommand(errorsListCmd)
	errorsCmd.AddCommand(errorsResolveCmd)
	rootCmd.AddCommand(errorsCmd)
}
