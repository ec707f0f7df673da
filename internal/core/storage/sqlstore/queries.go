package sqlstore

// SQL for the warehouse stores. Everything here sticks to the dialect
// intersection of PostgreSQL and SQLite: $N placeholders, ON CONFLICT,
// RETURNING, row-value comparisons.

const (
	// queryAppendRecord inserts a ledger record with token idempotency.
	// The version token (durable_key, event_time, sequence_no) is the
	// uniqueness key. RETURNING retrieves the assigned ledger_seq for
	// cursor tracking; ON CONFLICT DO NOTHING returns no rows
	// (sql.ErrNoRows) for duplicates.
	queryAppendRecord = `
		INSERT INTO change_ledger (
			durable_key, kind, event_time, sequence_no,
			schema_name, schema_version, received_at, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (durable_key, event_time, sequence_no) DO NOTHING
		RETURNING ledger_seq
	`

	// queryReadAfterCursor fetches records after a cursor (ledger_seq)
	// in strict total order. Prevents batch boundary data loss during
	// replay pagination.
	queryReadAfterCursor = `
		SELECT
			ledger_seq, durable_key, kind, event_time, sequence_no,
			schema_name, schema_version, received_at, payload
		FROM change_ledger
		WHERE ledger_seq > $1
		ORDER BY ledger_seq ASC
		LIMIT $2
	`

	queryVersionsForKey = `
		SELECT surrogate_id, durable_key, attributes, valid_from, valid_to, created_at
		FROM dimension_versions
		WHERE durable_key = $1
		ORDER BY valid_from ASC
	`

	queryCurrentVersion = `
		SELECT surrogate_id, durable_key, attributes, valid_from, valid_to, created_at
		FROM dimension_versions
		WHERE durable_key = $1 AND valid_to = $2
	`

	queryTruncateVersion = `
		UPDATE dimension_versions
		SET valid_to = $1
		WHERE surrogate_id = $2
	`

	// queryInsertVersion inserts a dimension version. The
	// (durable_key, valid_from) conflict target makes re-inserting an
	// existing interval start observable as sql.ErrNoRows.
	queryInsertVersion = `
		INSERT INTO dimension_versions (
			surrogate_id, durable_key, attributes, valid_from, valid_to, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (durable_key, valid_from) DO NOTHING
		RETURNING surrogate_id
	`

	// queryInsertFact binds a fact. The version token is the uniqueness
	// key; replays hit the conflict and are treated as no-ops.
	queryInsertFact = `
		INSERT INTO facts (
			durable_key, event_time, sequence_no, surrogate_id,
			measures, degenerate, bound_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (durable_key, event_time, sequence_no) DO NOTHING
	`

	queryFactColumns = `
		SELECT durable_key, event_time, sequence_no, surrogate_id,
		       measures, degenerate, bound_at
		FROM facts
	`

	queryBoundToSince = queryFactColumns + `
		WHERE surrogate_id = $1 AND event_time >= $2
		ORDER BY event_time ASC, sequence_no ASC, durable_key ASC
	`

	// queryRebindFact repoints one fact at a different dimension
	// version. The from-surrogate guard makes replayed rebinds no-ops.
	queryRebindFact = `
		UPDATE facts
		SET surrogate_id = $1
		WHERE durable_key = $2 AND event_time = $3 AND sequence_no = $4
		  AND surrogate_id = $5
	`

	// queryParkFact upserts a parking-lot entry. first_seen survives
	// re-parking; attempts and last_attempt always take the new value.
	queryParkFact = `
		INSERT INTO pending_facts (
			durable_key, event_time, sequence_no, measures, degenerate,
			attempts, first_seen, last_attempt
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (durable_key, event_time, sequence_no)
		DO UPDATE SET
			measures     = EXCLUDED.measures,
			degenerate   = EXCLUDED.degenerate,
			attempts     = EXCLUDED.attempts,
			last_attempt = EXCLUDED.last_attempt
	`

	queryPendingForKey = `
		SELECT durable_key, event_time, sequence_no, measures, degenerate,
		       attempts, first_seen, last_attempt
		FROM pending_facts
		WHERE durable_key = $1
		ORDER BY event_time ASC, sequence_no ASC
	`

	queryRemovePending = `
		DELETE FROM pending_facts
		WHERE durable_key = $1 AND event_time = $2 AND sequence_no = $3
	`

	queryCountPending = `SELECT COUNT(*) FROM pending_facts`

	queryReadCheckpoint = `
		SELECT cursor, watermark_event_time, watermark_sequence_no, updated_at
		FROM checkpoints
		WHERE processor = $1
	`

	queryInitCheckpoint = `
		INSERT INTO checkpoints (
			processor, cursor, watermark_event_time, watermark_sequence_no, updated_at
		)
		VALUES ($1, 0, $2, 0, $3)
		ON CONFLICT (processor) DO NOTHING
	`

	queryUpdateCheckpoint = `
		UPDATE checkpoints
		SET cursor = $1, watermark_event_time = $2, watermark_sequence_no = $3,
		    updated_at = $4
		WHERE processor = $5
	`

	queryBucketByKey = `
		SELECT grain, period_start, surrogate_id, durable_key, measures,
		       fact_count, hwm_event_time, hwm_sequence_no, updated_at
		FROM aggregate_buckets
		WHERE grain = $1 AND period_start = $2 AND surrogate_id = $3
	`

	// queryUpsertBucket writes one fully merged bucket row. The caller
	// folds the delta into the current state inside the same
	// transaction, so the upsert carries final values rather than
	// SQL-side arithmetic — measure maps are JSON and cannot be added
	// portably in SQL.
	queryUpsertBucket = `
		INSERT INTO aggregate_buckets (
			grain, period_start, surrogate_id, durable_key, measures,
			fact_count, hwm_event_time, hwm_sequence_no, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (grain, period_start, surrogate_id)
		DO UPDATE SET
			durable_key     = EXCLUDED.durable_key,
			measures        = EXCLUDED.measures,
			fact_count      = EXCLUDED.fact_count,
			hwm_event_time  = EXCLUDED.hwm_event_time,
			hwm_sequence_no = EXCLUDED.hwm_sequence_no,
			updated_at      = EXCLUDED.updated_at
	`

	queryBucketColumns = `
		SELECT grain, period_start, surrogate_id, durable_key, measures,
		       fact_count, hwm_event_time, hwm_sequence_no, updated_at
		FROM aggregate_buckets
	`

	queryDeleteAllBuckets = `DELETE FROM aggregate_buckets`

	queryDeleteCheckpoint = `DELETE FROM checkpoints WHERE processor = $1`

	// queryReportEscalation records an operator error-queue entry. The
	// (kind, durable_key, token) conflict target keeps replays from
	// re-raising an entry the operator has already seen or resolved.
	queryReportEscalation = `
		INSERT INTO escalations (
			id, kind, durable_key, event_time, sequence_no,
			detail, status, reported_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (kind, durable_key, event_time, sequence_no) DO NOTHING
	`

	queryResolveEscalation = `
		UPDATE escalations
		SET status = $1, resolved_at = COALESCE(resolved_at, $2)
		WHERE id = $3
	`

	queryStartRun = `
		INSERT INTO process_runs (id, process, started_at, status)
		VALUES ($1, $2, $3, $4)
	`

	queryCompleteRun = `
		UPDATE process_runs
		SET completed_at = $1, status = $2, records_read = $3,
		    changes_applied = $4, facts_bound = $5, buckets_updated = $6,
		    detail = $7
		WHERE id = $8
	`
)
