package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// Park upserts a pending fact keyed by (durable_key, token). first_seen
// survives re-parking; attempts and last_attempt take the new value.
func (a *Adapter) Park(ctx context.Context, pf storage.PendingFact) error {
	measuresJSON, err := marshalJSONMap(pf.Measures)
	if err != nil {
		return err
	}
	degenerateJSON, err := marshalJSONMap(pf.Degenerate)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	firstSeen := pf.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	lastAttempt := pf.LastAttempt
	if lastAttempt.IsZero() {
		lastAttempt = now
	}

	_, err = a.db.ExecContext(ctx, queryParkFact,
		pf.DurableKey,
		pf.Token.EventTime.UTC(),
		pf.Token.SequenceNo,
		measuresJSON,
		degenerateJSON,
		pf.Attempts,
		firstSeen.UTC(),
		lastAttempt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to park fact: %w", err)
	}
	return nil
}

// ListForKey returns the parked facts for one key ordered by token.
func (a *Adapter) ListForKey(ctx context.Context, durableKey string) ([]storage.PendingFact, error) {
	rows, err := a.db.QueryContext(ctx, queryPendingForKey, durableKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending facts: %w", err)
	}
	defer rows.Close()

	var pending []storage.PendingFact
	for rows.Next() {
		pf, err := scanPendingRow(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, pf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending facts: %w", err)
	}
	return pending, nil
}

// Remove deletes one parked fact. Removing an absent entry is a no-op.
func (a *Adapter) Remove(ctx context.Context, durableKey string, token warehouse.VersionToken) error {
	_, err := a.db.ExecContext(ctx, queryRemovePending,
		durableKey, token.EventTime.UTC(), token.SequenceNo)
	if err != nil {
		return fmt.Errorf("failed to remove pending fact: %w", err)
	}
	return nil
}

// Count returns the total number of parked facts.
func (a *Adapter) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := a.db.QueryRowContext(ctx, queryCountPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending facts: %w", err)
	}
	return count, nil
}
