package latearrival

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/storage/memory"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/strata-dw/strata/internal/dimension"
)

func day(n int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

func token(n int, seq int64) warehouse.VersionToken {
	return warehouse.VersionToken{EventTime: day(n), SequenceNo: seq}
}

type fixture struct {
	store       *memory.Store
	versioner   *dimension.Versioner
	resolver    *dimension.Resolver
	coordinator *Coordinator
	caID        string
	nvID        string
}

// Entity E: state=CA from day 1, state=NV from day 10, facts on days
// 5, 8 and 9 bound to the CA version, day 15 to NV.
func seed(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	versioner := dimension.NewVersioner(store)
	resolver := dimension.NewResolver(store)

	ca, err := versioner.ApplyChange(ctx, "E", warehouse.Attributes{"state": "CA"}, day(1))
	require.NoError(t, err)
	nv, err := versioner.ApplyChange(ctx, "E", warehouse.Attributes{"state": "NV"}, day(10))
	require.NoError(t, err)

	for _, f := range []struct {
		day       int
		surrogate string
		amount    int64
	}{
		{5, ca.Created.SurrogateID, 10},
		{8, ca.Created.SurrogateID, 20},
		{9, ca.Created.SurrogateID, 30},
		{15, nv.Created.SurrogateID, 40},
	} {
		require.NoError(t, store.Insert(ctx, &warehouse.Fact{
			DurableKey:  "E",
			Token:       token(f.day, 1),
			SurrogateID: f.surrogate,
			Measures:    warehouse.Measures{"amount": decimal.NewFromInt(f.amount)},
		}))
	}

	return &fixture{
		store:       store,
		versioner:   versioner,
		resolver:    resolver,
		coordinator: New(store, store, []warehouse.Grain{warehouse.GrainDay}),
		caID:        ca.Created.SurrogateID,
		nvID:        nv.Created.SurrogateID,
	}
}

// Correction: state actually changed on day 7, not day 10. The day-5
// fact stays on CA; facts on days 8 and 9 move to the interim version.
func TestLateChangeSplitsAndRebinds(t *testing.T) {
	fx := seed(t)
	ctx := context.Background()

	res, err := fx.coordinator.HandleLateDimensionChange(ctx, "E", warehouse.Attributes{"state": "NV"}, day(7))
	require.NoError(t, err)
	require.NotNil(t, res.Created)
	assert.Equal(t, day(7), res.Created.ValidFrom)
	assert.Equal(t, day(10), res.Created.ValidTo)

	// Interval set: [1,7) CA, [7,10) NV-interim, [10,max) NV.
	versions, err := fx.store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, day(7), versions[0].ValidTo)
	assert.Equal(t, res.Created.SurrogateID, versions[1].SurrogateID)
	assert.True(t, versions[2].IsCurrent())

	// Facts on days 8 and 9 rebind; day 5 and day 15 do not.
	require.Len(t, res.Rebinds, 2)
	for _, rb := range res.Rebinds {
		assert.Equal(t, fx.caID, rb.FromSurrogateID)
		assert.Equal(t, res.Created.SurrogateID, rb.ToSurrogateID)
	}

	// Each rebound fact yields a retract from the old context and an
	// apply to the new one.
	require.Len(t, res.Deltas, 4)
	var retracted, applied decimal.Decimal
	for _, d := range res.Deltas {
		switch d.Key.SurrogateID {
		case fx.caID:
			retracted = retracted.Add(d.Measures["amount"])
			assert.Equal(t, int64(-1), d.FactCount)
		case res.Created.SurrogateID:
			applied = applied.Add(d.Measures["amount"])
			assert.Equal(t, int64(1), d.FactCount)
		default:
			t.Fatalf("delta for unexpected surrogate %s", d.Key.SurrogateID)
		}
	}
	assert.True(t, retracted.Equal(decimal.NewFromInt(-50)))
	assert.True(t, applied.Equal(decimal.NewFromInt(50)))

	// After flushing the rebinds, the day-5 fact still resolves to CA
	// and days 8-9 to the interim version.
	require.NoError(t, fx.store.ApplyBatch(ctx, storage.BatchApply{
		Processor: "test", Rebinds: res.Rebinds, Deltas: res.Deltas, Cursor: 1,
	}))
	for _, f := range mustFacts(t, fx.store, "E") {
		ver, err := fx.resolver.Resolve(ctx, "E", f.Token.EventTime)
		require.NoError(t, err)
		assert.Equal(t, ver.SurrogateID, f.SurrogateID,
			"fact at %s bound to wrong version", f.Token)
	}
}

// Replaying the same correction after its flush finds nothing stranded.
func TestLateChangeReplayIsExactlyOnce(t *testing.T) {
	fx := seed(t)
	ctx := context.Background()

	res, err := fx.coordinator.HandleLateDimensionChange(ctx, "E", warehouse.Attributes{"state": "NV"}, day(7))
	require.NoError(t, err)
	require.NoError(t, fx.store.ApplyBatch(ctx, storage.BatchApply{
		Processor: "test", Rebinds: res.Rebinds, Deltas: res.Deltas, Cursor: 1,
	}))

	replay, err := fx.coordinator.HandleLateDimensionChange(ctx, "E", warehouse.Attributes{"state": "NV"}, day(7))
	require.NoError(t, err)
	assert.True(t, replay.NoOp)
	assert.Empty(t, replay.Rebinds)
	assert.Empty(t, replay.Deltas)
}

// A split whose rebind flush was lost is repaired when the change
// replays: the versions exist, so the boundary no-op path re-derives
// the rebinds from the facts still stranded.
func TestLateChangeRepairsLostRebinds(t *testing.T) {
	fx := seed(t)
	ctx := context.Background()

	res, err := fx.coordinator.HandleLateDimensionChange(ctx, "E", warehouse.Attributes{"state": "NV"}, day(7))
	require.NoError(t, err)
	require.Len(t, res.Rebinds, 2)
	// Crash: the split is durable, the flush never happened.

	replay, err := fx.coordinator.HandleLateDimensionChange(ctx, "E", warehouse.Attributes{"state": "NV"}, day(7))
	require.NoError(t, err)
	assert.True(t, replay.NoOp)
	require.Len(t, replay.Rebinds, 2)
	assert.ElementsMatch(t, res.Rebinds, replay.Rebinds)
	assert.Len(t, replay.Deltas, 4)
}

func TestLateChangeBackfillsBeforeFirstVersion(t *testing.T) {
	fx := seed(t)
	ctx := context.Background()

	res, err := fx.coordinator.HandleLateDimensionChange(ctx, "E", warehouse.Attributes{"state": "AZ"}, day(1).AddDate(0, 0, -5))
	require.NoError(t, err)
	require.NotNil(t, res.Created)
	assert.Equal(t, day(1), res.Created.ValidTo)
	assert.Empty(t, res.Rebinds)

	versions, err := fx.store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "AZ", versions[0].Attributes["state"])
}

func TestLateChangeEqualAttributesInsideIntervalIsNoOp(t *testing.T) {
	fx := seed(t)
	ctx := context.Background()

	res, err := fx.coordinator.HandleLateDimensionChange(ctx, "E", warehouse.Attributes{"state": "CA"}, day(5))
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	versions, err := fx.store.VersionsForKey(ctx, "E")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestLateChangeBoundaryConflictSurfaced(t *testing.T) {
	fx := seed(t)

	_, err := fx.coordinator.HandleLateDimensionChange(context.Background(), "E", warehouse.Attributes{"state": "TX"}, day(10))
	require.Error(t, err)
	var conflict *warehouse.OutOfOrderChangeError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, day(10), conflict.ChangeTime)
}

func TestLateChangeUnknownEntity(t *testing.T) {
	fx := seed(t)

	_, err := fx.coordinator.HandleLateDimensionChange(context.Background(), "nobody", warehouse.Attributes{"state": "CA"}, day(5))
	require.ErrorIs(t, err, warehouse.ErrUnknownEntity)
}

func mustFacts(t *testing.T, store *memory.Store, key string) []*warehouse.Fact {
	t.Helper()
	page, err := store.FactsInRange(context.Background(), day(1), day(100), storage.FactFilter{DurableKey: key}, warehouse.FactCursor{}, 0)
	require.NoError(t, err)
	return page.Facts
}
