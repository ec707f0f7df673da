package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/core/storage"
)

// Append persists a change record and populates its LedgerSeq.
// Returns storage.ErrDuplicate when the version token is already
// recorded for the durable key.
func (a *Adapter) Append(ctx context.Context, rec *v1.ChangeRecord) error {
	payloadJSON, err := marshalJSONMap(rec.Payload)
	if err != nil {
		return err
	}

	var schemaName interface{}
	var schemaVersion interface{}
	if rec.Schema != "" {
		schemaName = rec.Schema
		schemaVersion = rec.SchemaVersion
	}

	var ledgerSeq int64
	err = a.db.QueryRowContext(ctx, queryAppendRecord,
		rec.DurableKey,
		rec.Kind,
		rec.EventTime.UTC(),
		rec.SequenceNo,
		schemaName,
		schemaVersion,
		rec.ReceivedAt.UTC(),
		payloadJSON,
	).Scan(&ledgerSeq)

	if err == sql.ErrNoRows {
		// ON CONFLICT DO NOTHING - the token is already recorded
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	rec.LedgerSeq = ledgerSeq

	slog.Debug("[Store] Appended change record",
		"durable_key", rec.DurableKey,
		"kind", rec.Kind,
		"ledger_seq", ledgerSeq)
	return nil
}

// ReadAfterCursor fetches records after a cursor (ledger_seq) in strict
// total order. cursor=0 means "from the beginning".
func (a *Adapter) ReadAfterCursor(ctx context.Context, cursor int64, limit int) ([]*v1.ChangeRecord, error) {
	rows, err := a.db.QueryContext(ctx, queryReadAfterCursor, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger by cursor: %w", err)
	}
	defer rows.Close()

	var records []*v1.ChangeRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger records: %w", err)
	}
	return records, nil
}
