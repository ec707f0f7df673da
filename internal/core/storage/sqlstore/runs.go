package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strata-dw/strata/internal/core/storage"
)

// StartRun opens a run row and returns its id.
func (a *Adapter) StartRun(ctx context.Context, process string) (string, error) {
	id := uuid.NewString()
	_, err := a.db.ExecContext(ctx, queryStartRun,
		id, process, time.Now().UTC(), storage.RunRunning)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// CompleteRun closes a run with its final status and counts.
func (a *Adapter) CompleteRun(ctx context.Context, id, status string, counts storage.RunCounts, detail string) error {
	res, err := a.db.ExecContext(ctx, queryCompleteRun,
		time.Now().UTC(),
		status,
		counts.RecordsRead,
		counts.ChangesApplied,
		counts.FactsBound,
		counts.BucketsUpdated,
		detail,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read complete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListRuns returns runs newest first, optionally filtered by process.
func (a *Adapter) ListRuns(ctx context.Context, process string, limit int) ([]storage.RunRecord, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, process, started_at, completed_at, status,
		       records_read, changes_applied, facts_bound, buckets_updated, detail
		FROM process_runs`)
	var args []interface{}
	if process != "" {
		args = append(args, process)
		fmt.Fprintf(&sb, " WHERE process = $%d", len(args))
	}
	sb.WriteString(" ORDER BY started_at DESC, id ASC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := a.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.RunRecord
	for rows.Next() {
		var run storage.RunRecord
		var completedAt sql.NullTime
		if err := rows.Scan(
			&run.ID,
			&run.Process,
			&run.StartedAt,
			&completedAt,
			&run.Status,
			&run.Counts.RecordsRead,
			&run.Counts.ChangesApplied,
			&run.Counts.FactsBound,
			&run.Counts.BucketsUpdated,
			&run.Detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.StartedAt = run.StartedAt.UTC()
		if completedAt.Valid {
			t := completedAt.Time.UTC()
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
