package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// Insert stores a bound fact. Returns storage.ErrDuplicate when the
// version token is already bound for the durable key.
func (a *Adapter) Insert(ctx context.Context, fact *warehouse.Fact) error {
	measuresJSON, err := marshalJSONMap(fact.Measures)
	if err != nil {
		return err
	}
	degenerateJSON, err := marshalJSONMap(fact.Degenerate)
	if err != nil {
		return err
	}

	res, err := a.db.ExecContext(ctx, queryInsertFact,
		fact.DurableKey,
		fact.Token.EventTime.UTC(),
		fact.Token.SequenceNo,
		fact.SurrogateID,
		measuresJSON,
		degenerateJSON,
		fact.BoundAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

// FactsInRange pages through facts with event_time in [start, end) in
// version-token order, ties broken by durable key. The query fetches one
// row beyond the limit to decide HasMore without a second round trip.
func (a *Adapter) FactsInRange(ctx context.Context, start, end time.Time, filter storage.FactFilter, cursor warehouse.FactCursor, limit int) (*storage.FactPage, error) {
	var sb strings.Builder
	sb.WriteString(queryFactColumns)
	sb.WriteString(" WHERE event_time >= $1 AND event_time < $2")
	args := []interface{}{start.UTC(), end.UTC()}

	if filter.DurableKey != "" {
		args = append(args, filter.DurableKey)
		fmt.Fprintf(&sb, " AND durable_key = $%d", len(args))
	}
	if filter.SurrogateID != "" {
		args = append(args, filter.SurrogateID)
		fmt.Fprintf(&sb, " AND surrogate_id = $%d", len(args))
	}
	if !cursor.IsZero() {
		args = append(args, cursor.EventTime.UTC(), cursor.SequenceNo, cursor.DurableKey)
		fmt.Fprintf(&sb, " AND (event_time, sequence_no, durable_key) > ($%d, $%d, $%d)",
			len(args)-2, len(args)-1, len(args))
	}

	fetch := limit
	if fetch <= 0 {
		fetch = 0
	}
	sb.WriteString(" ORDER BY event_time ASC, sequence_no ASC, durable_key ASC")
	if fetch > 0 {
		args = append(args, fetch+1)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := a.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	var facts []*warehouse.Fact
	for rows.Next() {
		f, err := scanFactRow(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}

	page := &storage.FactPage{Next: cursor}
	if fetch > 0 && len(facts) > fetch {
		page.HasMore = true
		facts = facts[:fetch]
	}
	page.Facts = facts
	if n := len(facts); n > 0 {
		last := facts[n-1]
		page.Next = warehouse.FactCursor{
			EventTime:  last.Token.EventTime,
			SequenceNo: last.Token.SequenceNo,
			DurableKey: last.DurableKey,
		}
	}
	return page, nil
}

// BoundToSince returns facts bound to a surrogate with event_time >=
// since, in version-token order. Used by interval splits to find the
// facts that must be rebound.
func (a *Adapter) BoundToSince(ctx context.Context, surrogateID string, since time.Time) ([]*warehouse.Fact, error) {
	rows, err := a.db.QueryContext(ctx, queryBoundToSince, surrogateID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query bound facts: %w", err)
	}
	defer rows.Close()

	var facts []*warehouse.Fact
	for rows.Next() {
		f, err := scanFactRow(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bound facts: %w", err)
	}
	return facts, nil
}
