package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// checkpointForUpdate locks the checkpoint row for the duration of the
// flush. SQLite has no FOR UPDATE; its single-writer transaction gives
// the same exclusion.
func (a *Adapter) checkpointForUpdate() string {
	q := `SELECT cursor, watermark_event_time, watermark_sequence_no FROM checkpoints WHERE processor = $1`
	if a.dialect == DialectPostgres {
		q += " FOR UPDATE"
	}
	return q
}

// ApplyBatch applies one pipeline flush atomically: bound facts,
// pending parkings and removals, fact rebinds, bucket deltas and the
// checkpoint, all in a single transaction. A batch whose cursor is not
// beyond the durable checkpoint is a replay of already-applied work and
// is skipped wholesale.
func (a *Adapter) ApplyBatch(ctx context.Context, batch storage.BatchApply) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		cursor, watermark, err := a.lockCheckpoint(ctx, tx, batch.Processor, now)
		if err != nil {
			return err
		}
		if batch.Cursor <= cursor {
			slog.Warn("[Store] Skipping stale/no-op batch",
				"processor", batch.Processor,
				"cursor", batch.Cursor,
				"durable_cursor", cursor)
			return nil
		}

		if err := a.applyFacts(ctx, tx, batch.Facts); err != nil {
			return err
		}
		if err := a.applyParks(ctx, tx, batch.Parks, now); err != nil {
			return err
		}
		for _, ref := range batch.Unparks {
			if _, err := tx.ExecContext(ctx, queryRemovePending,
				ref.DurableKey, ref.Token.EventTime.UTC(), ref.Token.SequenceNo); err != nil {
				return fmt.Errorf("batch unpark: %w", err)
			}
		}
		for _, rb := range batch.Rebinds {
			if _, err := tx.ExecContext(ctx, queryRebindFact,
				rb.ToSurrogateID,
				rb.DurableKey,
				rb.Token.EventTime.UTC(),
				rb.Token.SequenceNo,
				rb.FromSurrogateID,
			); err != nil {
				return fmt.Errorf("batch rebind: %w", err)
			}
		}
		if err := a.applyDeltas(ctx, tx, batch.Deltas, now); err != nil {
			return err
		}

		if batch.Watermark.After(watermark) {
			watermark = batch.Watermark
		}
		wmTime, wmSeq := tokenColumns(watermark)
		if _, err := tx.ExecContext(ctx, queryUpdateCheckpoint,
			batch.Cursor, wmTime, wmSeq, now, batch.Processor); err != nil {
			return fmt.Errorf("batch checkpoint: %w", err)
		}
		return nil
	})
}

// lockCheckpoint reads (creating if needed) the processor's checkpoint
// row under the transaction's lock and enforces monotonic cursors.
func (a *Adapter) lockCheckpoint(ctx context.Context, tx *sql.Tx, processor string, now time.Time) (int64, warehouse.VersionToken, error) {
	var cursor int64
	var wmTime sql.NullTime
	var wmSeq sql.NullInt64

	err := tx.QueryRowContext(ctx, a.checkpointForUpdate(), processor).Scan(&cursor, &wmTime, &wmSeq)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, queryInitCheckpoint, processor, nil, now); err != nil {
			return 0, warehouse.VersionToken{}, fmt.Errorf("init checkpoint row: %w", err)
		}
		err = tx.QueryRowContext(ctx, a.checkpointForUpdate(), processor).Scan(&cursor, &wmTime, &wmSeq)
	}
	if err != nil {
		return 0, warehouse.VersionToken{}, fmt.Errorf("read checkpoint for update: %w", err)
	}

	var watermark warehouse.VersionToken
	if wmTime.Valid {
		watermark = warehouse.VersionToken{EventTime: wmTime.Time.UTC(), SequenceNo: wmSeq.Int64}
	}
	return cursor, watermark, nil
}

func (a *Adapter) applyFacts(ctx context.Context, tx *sql.Tx, facts []*warehouse.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, queryInsertFact)
	if err != nil {
		return fmt.Errorf("batch facts: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		measuresJSON, err := marshalJSONMap(f.Measures)
		if err != nil {
			return err
		}
		degenerateJSON, err := marshalJSONMap(f.Degenerate)
		if err != nil {
			return err
		}
		// Conflicts are replayed inserts; ignore them.
		if _, err := stmt.ExecContext(ctx,
			f.DurableKey,
			f.Token.EventTime.UTC(),
			f.Token.SequenceNo,
			f.SurrogateID,
			measuresJSON,
			degenerateJSON,
			f.BoundAt.UTC(),
		); err != nil {
			return fmt.Errorf("batch fact insert: %w", err)
		}
	}
	return nil
}

func (a *Adapter) applyParks(ctx context.Context, tx *sql.Tx, parks []storage.PendingFact, now time.Time) error {
	for _, pf := range parks {
		measuresJSON, err := marshalJSONMap(pf.Measures)
		if err != nil {
			return err
		}
		degenerateJSON, err := marshalJSONMap(pf.Degenerate)
		if err != nil {
			return err
		}
		firstSeen := pf.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = now
		}
		lastAttempt := pf.LastAttempt
		if lastAttempt.IsZero() {
			lastAttempt = now
		}
		if _, err := tx.ExecContext(ctx, queryParkFact,
			pf.DurableKey,
			pf.Token.EventTime.UTC(),
			pf.Token.SequenceNo,
			measuresJSON,
			degenerateJSON,
			pf.Attempts,
			firstSeen.UTC(),
			lastAttempt.UTC(),
		); err != nil {
			return fmt.Errorf("batch park: %w", err)
		}
	}
	return nil
}

// applyDeltas folds each signed delta into its bucket row. Measure maps
// are JSON, so the merge happens in Go under the transaction: read the
// current row, fold, upsert the merged state.
func (a *Adapter) applyDeltas(ctx context.Context, tx *sql.Tx, deltas []warehouse.BucketDelta, now time.Time) error {
	for _, d := range deltas {
		key := d.Key
		key.PeriodStart = key.PeriodStart.UTC()

		state := &warehouse.BucketState{Key: key, Measures: make(warehouse.Measures)}
		row := tx.QueryRowContext(ctx, queryBucketByKey,
			string(key.Grain), key.PeriodStart, key.SurrogateID)
		existing, err := scanBucketRow(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("batch delta read: %w", err)
		}
		if err == nil {
			state = existing
			state.Key.DurableKey = key.DurableKey
		}
		state.ApplyDelta(d)

		measuresJSON, err := marshalJSONMap(state.Measures)
		if err != nil {
			return err
		}
		hwmTime, hwmSeq := tokenColumns(state.HighWaterMark)
		if _, err := tx.ExecContext(ctx, queryUpsertBucket,
			string(key.Grain),
			key.PeriodStart,
			key.SurrogateID,
			key.DurableKey,
			measuresJSON,
			state.FactCount,
			hwmTime,
			hwmSeq,
			now,
		); err != nil {
			return fmt.Errorf("batch delta upsert: %w", err)
		}
	}
	return nil
}

// ReadCheckpoint returns a processor's checkpoint. A zero-valued
// checkpoint means "replay from the beginning".
func (a *Adapter) ReadCheckpoint(ctx context.Context, processor string) (storage.Checkpoint, error) {
	var cp storage.Checkpoint
	cp.Processor = processor

	var wmTime sql.NullTime
	var wmSeq sql.NullInt64
	err := a.db.QueryRowContext(ctx, queryReadCheckpoint, processor).
		Scan(&cp.Cursor, &wmTime, &wmSeq, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return storage.Checkpoint{Processor: processor}, nil
	}
	if err != nil {
		return storage.Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if wmTime.Valid {
		cp.Watermark = warehouse.VersionToken{EventTime: wmTime.Time.UTC(), SequenceNo: wmSeq.Int64}
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return cp, nil
}

// Bucket fetches one bucket. Returns (nil, nil) when absent; readers
// render that as zero-valued state.
func (a *Adapter) Bucket(ctx context.Context, key warehouse.BucketKey) (*warehouse.BucketState, error) {
	row := a.db.QueryRowContext(ctx, queryBucketByKey,
		string(key.Grain), key.PeriodStart.UTC(), key.SurrogateID)
	state, err := scanBucketRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

// QueryRange fetches buckets of one grain with period_start in
// [start, end), ordered by period start, optionally filtered by durable
// key or surrogate.
func (a *Adapter) QueryRange(ctx context.Context, grain warehouse.Grain, start, end time.Time, filter storage.FactFilter) ([]warehouse.BucketState, error) {
	var sb strings.Builder
	sb.WriteString(queryBucketColumns)
	sb.WriteString(" WHERE grain = $1 AND period_start >= $2 AND period_start < $3")
	args := []interface{}{string(grain), start.UTC(), end.UTC()}

	if filter.DurableKey != "" {
		args = append(args, filter.DurableKey)
		fmt.Fprintf(&sb, " AND durable_key = $%d", len(args))
	}
	if filter.SurrogateID != "" {
		args = append(args, filter.SurrogateID)
		fmt.Fprintf(&sb, " AND surrogate_id = $%d", len(args))
	}
	sb.WriteString(" ORDER BY period_start ASC, durable_key ASC, surrogate_id ASC")

	rows, err := a.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var states []warehouse.BucketState
	for rows.Next() {
		s, err := scanBucketRow(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating buckets: %w", err)
	}
	return states, nil
}

// ReplaceRange swaps freshly rebuilt buckets in for a scope: delete the
// scoped live rows and insert the shadow rows in one transaction.
func (a *Adapter) ReplaceRange(ctx context.Context, scope storage.RebuildScope, buckets []warehouse.BucketState) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		var sb strings.Builder
		sb.WriteString("DELETE FROM aggregate_buckets WHERE grain = $1 AND period_start >= $2 AND period_start < $3")
		args := []interface{}{string(scope.Grain), scope.PeriodStart.UTC(), scope.PeriodEnd.UTC()}
		if scope.DurableKey != "" {
			args = append(args, scope.DurableKey)
			fmt.Fprintf(&sb, " AND durable_key = $%d", len(args))
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("replace range: delete: %w", err)
		}

		now := time.Now().UTC()
		for i := range buckets {
			state := buckets[i]
			measuresJSON, err := marshalJSONMap(state.Measures)
			if err != nil {
				return err
			}
			hwmTime, hwmSeq := tokenColumns(state.HighWaterMark)
			if _, err := tx.ExecContext(ctx, queryUpsertBucket,
				string(state.Key.Grain),
				state.Key.PeriodStart.UTC(),
				state.Key.SurrogateID,
				state.Key.DurableKey,
				measuresJSON,
				state.FactCount,
				hwmTime,
				hwmSeq,
				now,
			); err != nil {
				return fmt.Errorf("replace range: insert: %w", err)
			}
		}
		return nil
	})
}

// ResetAggregates clears all buckets and a processor's checkpoint so the
// ledger can be replayed from scratch. Offline operation.
func (a *Adapter) ResetAggregates(ctx context.Context, processor string) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryDeleteAllBuckets); err != nil {
			return fmt.Errorf("reset aggregates: clear buckets: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryDeleteCheckpoint, processor); err != nil {
			return fmt.Errorf("reset aggregates: clear checkpoint: %w", err)
		}
		return nil
	})
}
