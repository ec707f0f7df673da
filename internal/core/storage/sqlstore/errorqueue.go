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

// Report upserts an escalation keyed by (kind, durable_key, token).
// Reporting an already-recorded escalation is a no-op, so replays never
// re-raise an entry the operator has resolved.
func (a *Adapter) Report(ctx context.Context, esc storage.Escalation) error {
	if esc.ID == "" {
		esc.ID = uuid.NewString()
	}
	if esc.Status == "" {
		esc.Status = storage.EscalationOpen
	}
	if esc.ReportedAt.IsZero() {
		esc.ReportedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx, queryReportEscalation,
		esc.ID,
		esc.Kind,
		esc.DurableKey,
		esc.Token.EventTime.UTC(),
		esc.Token.SequenceNo,
		esc.Detail,
		esc.Status,
		esc.ReportedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to report escalation: %w", err)
	}
	return nil
}

// List returns escalations newest first, optionally filtered by status.
func (a *Adapter) List(ctx context.Context, status string, limit int) ([]storage.Escalation, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, kind, durable_key, event_time, sequence_no,
		       detail, status, reported_at, resolved_at
		FROM escalations`)
	var args []interface{}
	if status != "" {
		args = append(args, status)
		fmt.Fprintf(&sb, " WHERE status = $%d", len(args))
	}
	sb.WriteString(" ORDER BY reported_at DESC, id ASC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := a.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	var escalations []storage.Escalation
	for rows.Next() {
		var esc storage.Escalation
		var resolvedAt sql.NullTime
		if err := rows.Scan(
			&esc.ID,
			&esc.Kind,
			&esc.DurableKey,
			&esc.Token.EventTime,
			&esc.Token.SequenceNo,
			&esc.Detail,
			&esc.Status,
			&esc.ReportedAt,
			&resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan escalation row: %w", err)
		}
		esc.Token.EventTime = esc.Token.EventTime.UTC()
		esc.ReportedAt = esc.ReportedAt.UTC()
		if resolvedAt.Valid {
			t := resolvedAt.Time.UTC()
			esc.ResolvedAt = &t
		}
		escalations = append(escalations, esc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating escalations: %w", err)
	}
	return escalations, nil
}

// Resolve marks an escalation resolved. Resolving twice keeps the first
// resolution time. Returns storage.ErrNotFound for an unknown id.
func (a *Adapter) Resolve(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, queryResolveEscalation,
		storage.EscalationResolved, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve escalation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read resolve result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
