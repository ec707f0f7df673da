package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

func record(key string, kind string, ts time.Time, seq int64) *v1.ChangeRecord {
	return &v1.ChangeRecord{
		DurableKey: key,
		Kind:       kind,
		EventTime:  ts,
		SequenceNo: seq,
		Payload:    map[string]interface{}{"claim_amount": 10},
	}
}

func TestLedger_AppendAssignsSeqAndDedupes(t *testing.T) {
	s := New()
	ctx := context.Background()
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	first := record("customer:1", v1.KindFact, ts, 1)
	require.NoError(t, s.Append(ctx, first))
	require.Equal(t, int64(1), first.LedgerSeq)

	second := record("customer:1", v1.KindFact, ts, 2)
	require.NoError(t, s.Append(ctx, second))
	require.Equal(t, int64(2), second.LedgerSeq)

	// Same token for the same key is a duplicate regardless of kind.
	dup := record("customer:1", v1.KindDimensionChange, ts, 1)
	require.ErrorIs(t, s.Append(ctx, dup), storage.ErrDuplicate)

	// Same token for a different key is fine.
	other := record("customer:2", v1.KindFact, ts, 1)
	require.NoError(t, s.Append(ctx, other))

	page, err := s.ReadAfterCursor(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(2), page[0].LedgerSeq)
	require.Equal(t, int64(3), page[1].LedgerSeq)
}

func TestDimension_ApplyRevisionAndCurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	t1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.AddDate(0, 0, 9)

	_, err := s.CurrentVersion(ctx, "customer:1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	v1rec := warehouse.DimensionVersion{
		SurrogateID: "sk-1", DurableKey: "customer:1",
		Attributes: warehouse.Attributes{"state": "CA"},
		ValidFrom:  t1, ValidTo: warehouse.MaxValidTo,
	}
	require.NoError(t, s.ApplyRevision(ctx, warehouse.DimensionRevision{
		DurableKey: "customer:1", Insert: &v1rec,
	}))

	// Supersede: truncate + insert in one revision.
	v2rec := warehouse.DimensionVersion{
		SurrogateID: "sk-2", DurableKey: "customer:1",
		Attributes: warehouse.Attributes{"state": "NV"},
		ValidFrom:  t2, ValidTo: warehouse.MaxValidTo,
	}
	require.NoError(t, s.ApplyRevision(ctx, warehouse.DimensionRevision{
		DurableKey: "customer:1",
		Truncate:   &warehouse.VersionTruncation{SurrogateID: "sk-1", ValidTo: t2},
		Insert:     &v2rec,
	}))

	versions, err := s.VersionsForKey(ctx, "customer:1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, "sk-1", versions[0].SurrogateID)
	require.Equal(t, t2, versions[0].ValidTo)
	require.False(t, versions[0].IsCurrent())

	current, err := s.CurrentVersion(ctx, "customer:1")
	require.NoError(t, err)
	require.Equal(t, "sk-2", current.SurrogateID)

	// Re-inserting the same valid_from is a duplicate.
	err = s.ApplyRevision(ctx, warehouse.DimensionRevision{
		DurableKey: "customer:1",
		Insert:     &warehouse.DimensionVersion{SurrogateID: "sk-3", ValidFrom: t2, ValidTo: warehouse.MaxValidTo},
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	// Truncating an unknown surrogate fails.
	err = s.ApplyRevision(ctx, warehouse.DimensionRevision{
		DurableKey: "customer:1",
		Truncate:   &warehouse.VersionTruncation{SurrogateID: "sk-9", ValidTo: t2},
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFacts_InsertDedupeAndRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mkFact := func(key string, ts time.Time, seq int64, surrogate string) *warehouse.Fact {
		return &warehouse.Fact{
			DurableKey:  key,
			Token:       warehouse.VersionToken{EventTime: ts, SequenceNo: seq},
			SurrogateID: surrogate,
			Measures:    warehouse.Measures{"claim_amount": decimal.NewFromInt(10)},
		}
	}

	require.NoError(t, s.Insert(ctx, mkFact("customer:1", base.Add(2*time.Hour), 2, "sk-1")))
	require.NoError(t, s.Insert(ctx, mkFact("customer:1", base.Add(1*time.Hour), 1, "sk-1")))
	require.NoError(t, s.Insert(ctx, mkFact("customer:2", base.Add(3*time.Hour), 1, "sk-9")))
	require.ErrorIs(t, s.Insert(ctx, mkFact("customer:1", base.Add(2*time.Hour), 2, "sk-1")), storage.ErrDuplicate)

	// Ordered by token across keys, paging via cursor.
	page, err := s.FactsInRange(ctx, base, base.AddDate(0, 0, 1), storage.FactFilter{}, warehouse.FactCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page.Facts, 2)
	require.True(t, page.HasMore)
	require.Equal(t, int64(1), page.Facts[0].Token.SequenceNo)
	require.Equal(t, int64(2), page.Facts[1].Token.SequenceNo)

	rest, err := s.FactsInRange(ctx, base, base.AddDate(0, 0, 1), storage.FactFilter{}, page.Next, 2)
	require.NoError(t, err)
	require.Len(t, rest.Facts, 1)
	require.False(t, rest.HasMore)
	require.Equal(t, "customer:2", rest.Facts[0].DurableKey)

	// Re-reading from the same cursor returns the same page.
	again, err := s.FactsInRange(ctx, base, base.AddDate(0, 0, 1), storage.FactFilter{}, page.Next, 2)
	require.NoError(t, err)
	require.Equal(t, rest.Facts, again.Facts)

	// Filter by surrogate.
	bySurrogate, err := s.FactsInRange(ctx, base, base.AddDate(0, 0, 1), storage.FactFilter{SurrogateID: "sk-9"}, warehouse.FactCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, bySurrogate.Facts, 1)
}

func TestBuckets_ApplyBatchSkipsStaleCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	key := warehouse.BucketKey{DurableKey: "customer:1", SurrogateID: "sk-1", Grain: warehouse.GrainDay, PeriodStart: day}

	delta := warehouse.BucketDelta{
		Key:       key,
		Measures:  warehouse.Measures{"claim_amount": decimal.NewFromInt(25)},
		FactCount: 1,
		Token:     warehouse.VersionToken{EventTime: day.Add(time.Hour), SequenceNo: 1},
	}

	require.NoError(t, s.ApplyBatch(ctx, storage.BatchApply{
		Processor: "ledger_apply", Deltas: []warehouse.BucketDelta{delta}, Cursor: 5,
		Watermark: delta.Token,
	}))

	// Replay of the same cursor must not double-apply.
	require.NoError(t, s.ApplyBatch(ctx, storage.BatchApply{
		Processor: "ledger_apply", Deltas: []warehouse.BucketDelta{delta}, Cursor: 5,
		Watermark: delta.Token,
	}))

	state, err := s.Bucket(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.True(t, state.Measures["claim_amount"].Equal(decimal.NewFromInt(25)))
	require.Equal(t, int64(1), state.FactCount)

	cp, err := s.ReadCheckpoint(ctx, "ledger_apply")
	require.NoError(t, err)
	require.Equal(t, int64(5), cp.Cursor)
	require.Equal(t, delta.Token, cp.Watermark)

	// Absent bucket reads return nil, not an error.
	missing, err := s.Bucket(ctx, warehouse.BucketKey{DurableKey: "x", SurrogateID: "y", Grain: warehouse.GrainDay, PeriodStart: day})
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBuckets_ApplyBatchRebinds(t *testing.T) {
	s := New()
	ctx := context.Background()
	ts := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)

	fact := &warehouse.Fact{
		DurableKey:  "customer:1",
		Token:       warehouse.VersionToken{EventTime: ts, SequenceNo: 4},
		SurrogateID: "sk-1",
		Measures:    warehouse.Measures{"claim_amount": decimal.NewFromInt(10)},
	}
	require.NoError(t, s.Insert(ctx, fact))

	require.NoError(t, s.ApplyBatch(ctx, storage.BatchApply{
		Processor: "ledger_apply",
		Rebinds: []warehouse.FactRebind{{
			DurableKey: "customer:1", Token: fact.Token,
			FromSurrogateID: "sk-1", ToSurrogateID: "sk-2",
		}},
		Cursor: 1,
	}))

	rebound, err := s.BoundToSince(ctx, "sk-2", ts.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rebound, 1)

	old, err := s.BoundToSince(ctx, "sk-1", ts.Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, old)
}

func TestBuckets_ReplaceRangeAndReset(t *testing.T) {
	s := New()
	ctx := context.Background()
	feb1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	feb2 := feb1.AddDate(0, 0, 1)
	mar1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mkDelta := func(day time.Time, amount int64) warehouse.BucketDelta {
		return warehouse.BucketDelta{
			Key:       warehouse.BucketKey{DurableKey: "customer:1", SurrogateID: "sk-1", Grain: warehouse.GrainDay, PeriodStart: day},
			Measures:  warehouse.Measures{"claim_amount": decimal.NewFromInt(amount)},
			FactCount: 1,
		}
	}
	require.NoError(t, s.ApplyBatch(ctx, storage.BatchApply{
		Processor: "ledger_apply",
		Deltas:    []warehouse.BucketDelta{mkDelta(feb1, 10), mkDelta(feb2, 20), mkDelta(mar1, 30)},
		Cursor:    3,
	}))

	// Replace February with a rebuilt shadow holding different totals.
	shadow := []warehouse.BucketState{{
		Key:       warehouse.BucketKey{DurableKey: "customer:1", SurrogateID: "sk-1", Grain: warehouse.GrainDay, PeriodStart: feb1},
		Measures:  warehouse.Measures{"claim_amount": decimal.NewFromInt(99)},
		FactCount: 1,
	}}
	require.NoError(t, s.ReplaceRange(ctx, storage.RebuildScope{
		Grain: warehouse.GrainDay, PeriodStart: feb1, PeriodEnd: mar1,
	}, shadow))

	febBuckets, err := s.QueryRange(ctx, warehouse.GrainDay, feb1, mar1, storage.FactFilter{})
	require.NoError(t, err)
	require.Len(t, febBuckets, 1)
	require.True(t, febBuckets[0].Measures["claim_amount"].Equal(decimal.NewFromInt(99)))

	// March was outside the scope and survives.
	marBuckets, err := s.QueryRange(ctx, warehouse.GrainDay, mar1, mar1.AddDate(0, 0, 1), storage.FactFilter{})
	require.NoError(t, err)
	require.Len(t, marBuckets, 1)

	require.NoError(t, s.ResetAggregates(ctx, "ledger_apply"))
	cp, err := s.ReadCheckpoint(ctx, "ledger_apply")
	require.NoError(t, err)
	require.Zero(t, cp.Cursor)
	all, err := s.QueryRange(ctx, warehouse.GrainDay, feb1, mar1.AddDate(0, 0, 1), storage.FactFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestErrorQueue_ReportDedupesAndResolve(t *testing.T) {
	s := New()
	ctx := context.Background()
	token := warehouse.VersionToken{EventTime: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), SequenceNo: 7}

	esc := storage.Escalation{
		Kind:       warehouse.EscalationUnresolvableFact,
		DurableKey: "customer:1",
		Token:      token,
		Detail:     "no dimension version after 5 attempts",
	}
	require.NoError(t, s.Report(ctx, esc))
	require.NoError(t, s.Report(ctx, esc)) // replay is a no-op

	open, err := s.List(ctx, storage.EscalationOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, storage.EscalationOpen, open[0].Status)

	require.NoError(t, s.Resolve(ctx, open[0].ID))
	require.ErrorIs(t, s.Resolve(ctx, "absent"), storage.ErrNotFound)

	// A replayed report after resolution must not re-open the entry.
	require.NoError(t, s.Report(ctx, esc))
	openAfter, err := s.List(ctx, storage.EscalationOpen, 10)
	require.NoError(t, err)
	require.Empty(t, openAfter)

	resolved, err := s.List(ctx, storage.EscalationResolved, 10)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].ResolvedAt)
}

func TestProcessRuns_Lifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.StartRun(ctx, "ledger_apply")
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, "ledger_apply", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, storage.RunRunning, runs[0].Status)

	counts := storage.RunCounts{RecordsRead: 10, ChangesApplied: 3, FactsBound: 7, BucketsUpdated: 12}
	require.NoError(t, s.CompleteRun(ctx, id, storage.RunSucceeded, counts, ""))
	require.ErrorIs(t, s.CompleteRun(ctx, "absent", storage.RunFailed, counts, ""), storage.ErrNotFound)

	runs, err = s.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, storage.RunSucceeded, runs[0].Status)
	require.Equal(t, counts, runs[0].Counts)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestPending_ParkListRemove(t *testing.T) {
	s := New()
	ctx := context.Background()
	token := warehouse.VersionToken{EventTime: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), SequenceNo: 1}

	pf := storage.PendingFact{
		DurableKey: "customer:1",
		Token:      token,
		Measures:   warehouse.Measures{"claim_amount": decimal.NewFromInt(10)},
		Attempts:   1,
	}
	require.NoError(t, s.Park(ctx, pf))

	pf.Attempts = 2
	require.NoError(t, s.Park(ctx, pf)) // upsert bumps attempts

	parked, err := s.ListForKey(ctx, "customer:1")
	require.NoError(t, err)
	require.Len(t, parked, 1)
	require.Equal(t, 2, parked[0].Attempts)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, s.Remove(ctx, "customer:1", token))
	require.NoError(t, s.Remove(ctx, "customer:1", token)) // idempotent

	n, err = s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
