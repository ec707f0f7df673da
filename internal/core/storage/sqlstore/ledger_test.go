package sqlstore

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/core/storage"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	adapter, err := New(db, DialectPostgres)
	require.NoError(t, err)
	return adapter, mock
}

func TestAdapter_Append(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := func() *v1.ChangeRecord {
		return &v1.ChangeRecord{
			DurableKey: "cust-1",
			Kind:       v1.KindFact,
			EventTime:  now,
			SequenceNo: 1,
			ReceivedAt: now,
			Payload:    map[string]interface{}{"amount": 20},
		}
	}

	t.Run("success sets ledger seq", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		rec := record()

		mock.ExpectQuery(regexp.QuoteMeta(queryAppendRecord)).
			WithArgs(
				rec.DurableKey,
				rec.Kind,
				rec.EventTime,
				rec.SequenceNo,
				nil,
				nil,
				rec.ReceivedAt,
				sqlmock.AnyArg(),
			).
			WillReturnRows(sqlmock.NewRows([]string{"ledger_seq"}).AddRow(int64(42)))

		err := adapter.Append(context.Background(), rec)
		require.NoError(t, err)
		require.Equal(t, int64(42), rec.LedgerSeq)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate token maps to ErrDuplicate", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		rec := record()

		mock.ExpectQuery(regexp.QuoteMeta(queryAppendRecord)).
			WillReturnRows(sqlmock.NewRows([]string{"ledger_seq"}))

		err := adapter.Append(context.Background(), rec)
		require.ErrorIs(t, err, storage.ErrDuplicate)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema reference is stored when present", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		rec := record()
		rec.Schema = "policy.premium"
		rec.SchemaVersion = 2

		mock.ExpectQuery(regexp.QuoteMeta(queryAppendRecord)).
			WithArgs(
				rec.DurableKey,
				rec.Kind,
				rec.EventTime,
				rec.SequenceNo,
				"policy.premium",
				2,
				rec.ReceivedAt,
				sqlmock.AnyArg(),
			).
			WillReturnRows(sqlmock.NewRows([]string{"ledger_seq"}).AddRow(int64(7)))

		require.NoError(t, adapter.Append(context.Background(), rec))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_ReadAfterCursor(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	payload, err := json.Marshal(map[string]interface{}{"state": "CA"})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"ledger_seq", "durable_key", "kind", "event_time", "sequence_no",
		"schema_name", "schema_version", "received_at", "payload",
	}).
		AddRow(int64(5), "cust-1", v1.KindDimensionChange, now, int64(1), nil, nil, now, payload).
		AddRow(int64(6), "cust-2", v1.KindFact, now.Add(time.Hour), int64(1), "policy.premium", int64(1), now, payload)

	mock.ExpectQuery(regexp.QuoteMeta(queryReadAfterCursor)).
		WithArgs(int64(4), 100).
		WillReturnRows(rows)

	records, err := adapter.ReadAfterCursor(context.Background(), 4, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(5), records[0].LedgerSeq)
	require.Equal(t, "CA", records[0].Payload["state"])
	require.Equal(t, "policy.premium", records[1].Schema)
	require.Equal(t, 1, records[1].SchemaVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}
