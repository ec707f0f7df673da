package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/binder"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/storage/memory"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/strata-dw/strata/internal/dimension"
	"github.com/strata-dw/strata/internal/latearrival"
	"github.com/strata-dw/strata/internal/rollup"
)

func day(n int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

func newTestPipeline(store *memory.Store, retryLimit int) *Pipeline {
	grains := []warehouse.Grain{warehouse.GrainDay, warehouse.GrainMonth}
	versioner := dimension.NewVersioner(store)
	resolver := dimension.NewResolver(store)
	b := binder.New(resolver, store, store, retryLimit)
	coordinator := latearrival.New(store, store, grains)
	rebuilder := rollup.New(grains, store, store, 100, 0)
	return New(store.Stores(), versioner, b, coordinator, rebuilder,
		Options{BatchSize: 100, WorkerCount: 4})
}

func ingest(t *testing.T, store *memory.Store, key, kind string, n int, seq int64, payload map[string]interface{}) {
	t.Helper()
	err := store.Append(context.Background(), &v1.ChangeRecord{
		DurableKey: key,
		Kind:       kind,
		EventTime:  day(n),
		SequenceNo: seq,
		Payload:    payload,
	})
	require.NoError(t, err)
}

func drain(t *testing.T, p *Pipeline) {
	t.Helper()
	for {
		n, err := p.RunBatch(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func dayBucket(t *testing.T, store *memory.Store, surrogateID string, n int) *warehouse.BucketState {
	t.Helper()
	buckets, err := store.QueryRange(context.Background(), warehouse.GrainDay, day(n), day(n+1),
		storage.FactFilter{SurrogateID: surrogateID})
	require.NoError(t, err)
	if len(buckets) == 0 {
		return nil
	}
	require.Len(t, buckets, 1)
	return &buckets[0]
}

func factSurrogate(t *testing.T, store *memory.Store, key string, n int, seq int64) string {
	t.Helper()
	page, err := store.FactsInRange(context.Background(), day(n), day(n+1),
		storage.FactFilter{DurableKey: key}, warehouse.FactCursor{}, 0)
	require.NoError(t, err)
	for _, f := range page.Facts {
		if f.Token.SequenceNo == seq {
			return f.SurrogateID
		}
	}
	t.Fatalf("no fact for %s day %d seq %d", key, n, seq)
	return ""
}

// Entity E is CA from day 1 and NV from day 10. A day-5 fact binds to
// the CA version, a day-15 fact to NV.
func TestAsWasBinding(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)
	ctx := context.Background()

	ingest(t, store, "E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"})
	ingest(t, store, "E", v1.KindDimensionChange, 10, 1, map[string]interface{}{"state": "NV"})
	ingest(t, store, "E", v1.KindFact, 5, 2, map[string]interface{}{"amount": 10})
	ingest(t, store, "E", v1.KindFact, 15, 2, map[string]interface{}{"amount": 40})
	drain(t, p)

	versions, err := store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	caID, nvID := versions[0].SurrogateID, versions[1].SurrogateID

	assert.Equal(t, caID, factSurrogate(t, store, "E", 5, 2))
	assert.Equal(t, nvID, factSurrogate(t, store, "E", 15, 2))

	ca := dayBucket(t, store, caID, 5)
	require.NotNil(t, ca)
	assert.True(t, ca.Measures["amount"].Equal(decimal.NewFromInt(10)))
	nv := dayBucket(t, store, nvID, 15)
	require.NotNil(t, nv)
	assert.True(t, nv.Measures["amount"].Equal(decimal.NewFromInt(40)))
}

// A correction moves E's change from day 10 back to day 7. The day-5
// fact stays on CA; days 8 and 9 move to the interim version and their
// measures move bucket context with them.
func TestLateDimensionChangeRebindsFacts(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)
	ctx := context.Background()

	ingest(t, store, "E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"})
	ingest(t, store, "E", v1.KindDimensionChange, 10, 1, map[string]interface{}{"state": "NV"})
	ingest(t, store, "E", v1.KindFact, 5, 2, map[string]interface{}{"amount": 10})
	ingest(t, store, "E", v1.KindFact, 8, 2, map[string]interface{}{"amount": 20})
	ingest(t, store, "E", v1.KindFact, 9, 2, map[string]interface{}{"amount": 30})
	drain(t, p)

	// Correction arrives in a later batch.
	ingest(t, store, "E", v1.KindDimensionChange, 7, 2, map[string]interface{}{"state": "NV"})
	drain(t, p)

	versions, err := store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	caID := versions[0].SurrogateID
	interimID := versions[1].SurrogateID
	assert.Equal(t, day(7), versions[1].ValidFrom)
	assert.Equal(t, day(10), versions[1].ValidTo)

	assert.Equal(t, caID, factSurrogate(t, store, "E", 5, 2))
	assert.Equal(t, interimID, factSurrogate(t, store, "E", 8, 2))
	assert.Equal(t, interimID, factSurrogate(t, store, "E", 9, 2))

	// Old context retains only the day-5 measures; days 8-9 buckets now
	// live under the interim context, fully retracted from CA.
	assert.True(t, dayBucket(t, store, caID, 5).Measures["amount"].Equal(decimal.NewFromInt(10)))
	day8 := dayBucket(t, store, caID, 8)
	if day8 != nil {
		assert.True(t, day8.Measures.IsZero())
		assert.Zero(t, day8.FactCount)
	}
	assert.True(t, dayBucket(t, store, interimID, 8).Measures["amount"].Equal(decimal.NewFromInt(20)))
	assert.True(t, dayBucket(t, store, interimID, 9).Measures["amount"].Equal(decimal.NewFromInt(30)))
}

// A day-3 fact arriving after day-10 history only touches its own
// periods.
func TestLateFactTouchesOwnBucketOnly(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)

	ingest(t, store, "E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"})
	ingest(t, store, "E", v1.KindFact, 10, 1, map[string]interface{}{"amount": 100})
	drain(t, p)

	versions, err := store.VersionsForKey(context.Background(), "E")
	require.NoError(t, err)
	surrogate := versions[0].SurrogateID
	before := dayBucket(t, store, surrogate, 10)
	require.NotNil(t, before)

	ingest(t, store, "E", v1.KindFact, 3, 1, map[string]interface{}{"amount": 7})
	drain(t, p)

	after := dayBucket(t, store, surrogate, 10)
	assert.True(t, before.Measures.Equal(after.Measures))
	assert.Equal(t, before.FactCount, after.FactCount)
	assert.Equal(t, before.HighWaterMark, after.HighWaterMark)

	late := dayBucket(t, store, surrogate, 3)
	require.NotNil(t, late)
	assert.True(t, late.Measures["amount"].Equal(decimal.NewFromInt(7)))
}

// The same fact event appended twice is rejected by the ledger's token
// uniqueness, so the second copy never reaches the buckets.
func TestDuplicateFactIsNoOp(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)
	ctx := context.Background()

	ingest(t, store, "E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"})
	ingest(t, store, "E", v1.KindFact, 5, 2, map[string]interface{}{"amount": 10})

	err := store.Append(ctx, &v1.ChangeRecord{
		DurableKey: "E",
		Kind:       v1.KindFact,
		EventTime:  day(5),
		SequenceNo: 2,
		Payload:    map[string]interface{}{"amount": 10},
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)
	drain(t, p)

	versions, err := store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	b := dayBucket(t, store, versions[0].SurrogateID, 5)
	require.NotNil(t, b)
	assert.Equal(t, int64(1), b.FactCount)
	assert.True(t, b.Measures["amount"].Equal(decimal.NewFromInt(10)))
}

// Replaying the whole ledger from a cleared checkpoint reproduces the
// same buckets, and a drained pipeline re-run applies nothing.
func TestReplayIdempotence(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)
	ctx := context.Background()

	ingest(t, store, "E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"})
	ingest(t, store, "F", v1.KindDimensionChange, 1, 1, map[string]interface{}{"tier": "gold"})
	ingest(t, store, "E", v1.KindFact, 5, 2, map[string]interface{}{"amount": 10})
	ingest(t, store, "F", v1.KindFact, 6, 2, map[string]interface{}{"amount": 20})
	ingest(t, store, "E", v1.KindDimensionChange, 10, 3, map[string]interface{}{"state": "NV"})
	ingest(t, store, "E", v1.KindFact, 12, 4, map[string]interface{}{"amount": 30})
	drain(t, p)

	firstPass, err := store.QueryRange(ctx, warehouse.GrainDay, day(1), day(31), storage.FactFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, firstPass)

	// Drained: nothing further to apply.
	n, err := p.RunBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Full replay from scratch.
	require.NoError(t, store.ResetAggregates(ctx, Processor))
	drain(t, p)

	secondPass, err := store.QueryRange(ctx, warehouse.GrainDay, day(1), day(31), storage.FactFilter{})
	require.NoError(t, err)
	require.Len(t, secondPass, len(firstPass))
	for i := range firstPass {
		assert.Equal(t, firstPass[i].Key, secondPass[i].Key)
		assert.True(t, firstPass[i].Measures.Equal(secondPass[i].Measures),
			"bucket %v drifted on replay", firstPass[i].Key)
		assert.Equal(t, firstPass[i].FactCount, secondPass[i].FactCount)
	}
}

// Two ledgers with the same per-key sequences but different cross-key
// interleavings converge to the same dimension history and sums.
func TestCrossKeyOrderIndependence(t *testing.T) {
	type rec struct {
		key     string
		kind    string
		day     int
		seq     int64
		payload map[string]interface{}
	}
	e := []rec{
		{"E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"}},
		{"E", v1.KindFact, 5, 2, map[string]interface{}{"amount": 10}},
		{"E", v1.KindDimensionChange, 10, 3, map[string]interface{}{"state": "NV"}},
	}
	f := []rec{
		{"F", v1.KindDimensionChange, 2, 1, map[string]interface{}{"tier": "gold"}},
		{"F", v1.KindFact, 5, 2, map[string]interface{}{"amount": 20}},
	}

	run := func(order []rec) *memory.Store {
		store := memory.New()
		p := newTestPipeline(store, 5)
		for _, r := range order {
			ingest(t, store, r.key, r.kind, r.day, r.seq, r.payload)
		}
		drain(t, p)
		return store
	}

	interleavedFirst := run([]rec{e[0], f[0], e[1], f[1], e[2]})
	keysGrouped := run([]rec{f[0], f[1], e[0], e[1], e[2]})

	ctx := context.Background()
	a, err := interleavedFirst.QueryRange(ctx, warehouse.GrainDay, day(1), day(31), storage.FactFilter{})
	require.NoError(t, err)
	b, err := keysGrouped.QueryRange(ctx, warehouse.GrainDay, day(1), day(31), storage.FactFilter{})
	require.NoError(t, err)

	require.Len(t, b, len(a))
	for i := range a {
		// Surrogates are random per run; compare by durable key, period
		// and sums.
		assert.Equal(t, a[i].Key.DurableKey, b[i].Key.DurableKey)
		assert.Equal(t, a[i].Key.PeriodStart, b[i].Key.PeriodStart)
		assert.True(t, a[i].Measures.Equal(b[i].Measures))
	}
}

// A fact with no dimension version is parked, retried as versions
// appear, and escalated with its key and token once the budget is gone.
func TestPendingEscalation(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 2)
	ctx := context.Background()

	// Fact predates any dimension state for its key.
	ingest(t, store, "E", v1.KindFact, 5, 1, map[string]interface{}{"amount": 10})
	drain(t, p)

	pendingCount, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pendingCount)

	// A version appears, but it starts after the fact: retry fails and
	// the budget (2) is exhausted.
	ingest(t, store, "E", v1.KindDimensionChange, 10, 1, map[string]interface{}{"state": "CA"})
	drain(t, p)

	pendingCount, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, pendingCount)

	escalations, err := store.List(ctx, storage.EscalationOpen, 10)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, warehouse.EscalationUnresolvableFact, escalations[0].Kind)
	assert.Equal(t, "E", escalations[0].DurableKey)
	assert.Equal(t, int64(1), escalations[0].Token.SequenceNo)
}

// A parked fact binds once a covering version arrives.
func TestPendingBindsOnBackfill(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)
	ctx := context.Background()

	ingest(t, store, "E", v1.KindFact, 5, 1, map[string]interface{}{"amount": 10})
	drain(t, p)
	ingest(t, store, "E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"})
	drain(t, p)

	pendingCount, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, pendingCount)

	versions, err := store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, versions[0].SurrogateID, factSurrogate(t, store, "E", 5, 1))

	b := dayBucket(t, store, versions[0].SurrogateID, 5)
	require.NotNil(t, b)
	assert.True(t, b.Measures["amount"].Equal(decimal.NewFromInt(10)))
}

// A fact and its covering change landing in the same batch still bind.
// The park is only staged at that point, so the retry on version
// creation has to reach into the batch, not just the pending store.
func TestPendingBindsWithinOneBatch(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)
	ctx := context.Background()

	ingest(t, store, "E", v1.KindFact, 5, 1, map[string]interface{}{"amount": 10})
	ingest(t, store, "E", v1.KindDimensionChange, 1, 2, map[string]interface{}{"state": "CA"})
	drain(t, p)

	pendingCount, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, pendingCount)

	versions, err := store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, versions[0].SurrogateID, factSurrogate(t, store, "E", 5, 1))

	b := dayBucket(t, store, versions[0].SurrogateID, 5)
	require.NotNil(t, b)
	assert.True(t, b.Measures["amount"].Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(1), b.FactCount)
}

// A store failure while re-checking staged facts aborts the batch
// instead of flushing facts that may point at a stale version.
func TestRepairStagedFactsPropagatesStoreError(t *testing.T) {
	store := memory.New()
	boom := errors.New("connection reset")
	a := &applier{
		dims:   failingDims{DimensionStore: store, err: boom},
		rollup: rollup.New([]warehouse.Grain{warehouse.GrainDay}, store, store, 100, 0),
	}

	err := a.repairStagedFacts(context.Background(), "E", newBatchResult())
	require.ErrorIs(t, err, boom)
}

type failingDims struct {
	storage.DimensionStore
	err error
}

func (f failingDims) VersionsForKey(ctx context.Context, durableKey string) ([]warehouse.DimensionVersion, error) {
	return nil, f.err
}

// A forward supersession arriving after facts with later event times
// moves those facts onto the new version.
func TestForwardChangeRebindsEarlyFacts(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store, 5)
	ctx := context.Background()

	ingest(t, store, "E", v1.KindDimensionChange, 1, 1, map[string]interface{}{"state": "CA"})
	ingest(t, store, "E", v1.KindFact, 20, 2, map[string]interface{}{"amount": 10})
	drain(t, p)

	// Change effective day 10 arrives after the day-20 fact.
	ingest(t, store, "E", v1.KindDimensionChange, 10, 3, map[string]interface{}{"state": "NV"})
	drain(t, p)

	versions, err := store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	nvID := versions[1].SurrogateID

	assert.Equal(t, nvID, factSurrogate(t, store, "E", 20, 2))
	b := dayBucket(t, store, nvID, 20)
	require.NotNil(t, b)
	assert.True(t, b.Measures["amount"].Equal(decimal.NewFromInt(10)))
}
