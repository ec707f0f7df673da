package latearrival

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/strata-dw/strata/internal/dimension"
)

// Coordinator handles changes that arrive after newer history is
// already recorded. A late dimension change splits the interval it
// lands in; every fact the split strands on the wrong version is
// rebound and its measures moved between bucket contexts by a
// retract/reapply delta pair. Like the binder, the coordinator stages
// rebinds and deltas for the caller's atomic flush instead of writing
// them itself.
//
// All calls for one durable key must be serialized by the caller.
type Coordinator struct {
	dims   storage.DimensionStore
	facts  storage.FactStore
	grains []warehouse.Grain
}

// New creates a coordinator producing deltas for the given active
// grains.
func New(dims storage.DimensionStore, facts storage.FactStore, grains []warehouse.Grain) *Coordinator {
	if dims == nil {
		panic("latearrival: dimension store must not be nil")
	}
	if facts == nil {
		panic("latearrival: fact store must not be nil")
	}
	if len(grains) == 0 {
		grains = warehouse.AllGrains()
	}
	return &Coordinator{dims: dims, facts: facts, grains: grains}
}

// SplitResult reports what a late dimension change did.
type SplitResult struct {
	// Created is the inserted version: the interim version of a split,
	// or a backfilled first interval. Nil for a no-op.
	Created *warehouse.DimensionVersion

	// Rebinds repoint facts stranded on the shrunk version.
	Rebinds []warehouse.FactRebind

	// Deltas move the rebound facts' measures between bucket contexts
	// (a -1 on the old context and a +1 on the new, per grain).
	Deltas []warehouse.BucketDelta

	// NoOp is true when recorded history already reflects the change.
	NoOp bool
}

// HandleLateDimensionChange applies a change whose change_time precedes
// the current version. Exact semantics by where changeTime lands:
//
//   - before the first version: backfill [changeTime, first.valid_from).
//   - on an existing boundary with equal attributes: no-op, but stranded
//     facts are still repaired (a crash can persist a split while losing
//     its rebinds; replay comes through here).
//   - on an existing boundary with differing attributes: conflicting
//     correction, surfaced as OutOfOrderChangeError.
//   - strictly inside an interval with equal attributes: no-op.
//   - strictly inside an interval with differing attributes: split.
func (c *Coordinator) HandleLateDimensionChange(ctx context.Context, durableKey string, attrs warehouse.Attributes, changeTime time.Time) (*SplitResult, error) {
	changeTime = changeTime.UTC()

	versions, err := c.dims.VersionsForKey(ctx, durableKey)
	if err != nil {
		return nil, fmt.Errorf("load versions for %s: %w", durableKey, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("late change for %s: %w", durableKey, warehouse.ErrUnknownEntity)
	}

	first := versions[0]
	if changeTime.Before(first.ValidFrom) {
		return c.backfill(ctx, durableKey, attrs, changeTime, first)
	}

	for i, v := range versions {
		if changeTime.Equal(v.ValidFrom) {
			if !attrs.Equal(v.Attributes) {
				return nil, &warehouse.OutOfOrderChangeError{
					DurableKey: durableKey,
					ChangeTime: changeTime,
					Conflict: fmt.Sprintf("attributes differ from version %s recorded at the same valid_from",
						v.SurrogateID),
				}
			}
			// Recorded already. Repair any facts a lost flush left
			// behind on the predecessor version.
			res := &SplitResult{NoOp: true}
			if i > 0 {
				rebinds, deltas, err := c.RebindStranded(ctx, versions[i-1], changeTime)
				if err != nil {
					return nil, err
				}
				res.Rebinds, res.Deltas = rebinds, deltas
			}
			return res, nil
		}
		if v.Contains(changeTime) {
			if attrs.Equal(v.Attributes) {
				return &SplitResult{NoOp: true}, nil
			}
			return c.split(ctx, durableKey, attrs, changeTime, v)
		}
	}

	// Contiguous intervals with an open end cover everything from
	// first.ValidFrom on; reaching here means the interval set is
	// corrupt.
	return nil, fmt.Errorf("late change for %s at %s: no interval covers a time after the first version",
		durableKey, changeTime.Format(time.RFC3339Nano))
}

// backfill inserts history before the first known version. No facts can
// be bound in the new interval (binding would have failed), so there is
// nothing to rebind; the caller retries the key's pending queue.
func (c *Coordinator) backfill(ctx context.Context, durableKey string, attrs warehouse.Attributes, changeTime time.Time, first warehouse.DimensionVersion) (*SplitResult, error) {
	created := &warehouse.DimensionVersion{
		SurrogateID: uuid.New().String(),
		DurableKey:  durableKey,
		Attributes:  attrs.Clone(),
		ValidFrom:   changeTime,
		ValidTo:     first.ValidFrom,
		CreatedAt:   time.Now().UTC(),
	}
	rev := warehouse.DimensionRevision{DurableKey: durableKey, Insert: created}
	if err := c.dims.ApplyRevision(ctx, rev); err != nil {
		if err == storage.ErrDuplicate {
			return &SplitResult{NoOp: true}, nil
		}
		return nil, fmt.Errorf("backfill version: %w", err)
	}
	slog.Info("Backfilled dimension history",
		"durable_key", durableKey,
		"surrogate_id", created.SurrogateID,
		"valid_from", created.ValidFrom,
		"valid_to", created.ValidTo)
	return &SplitResult{Created: created}, nil
}

// split shrinks v to [v.valid_from, changeTime) and inserts an interim
// version with the corrected attributes over [changeTime, v.valid_to),
// then stages rebinds for every fact stranded on the shrunk interval.
func (c *Coordinator) split(ctx context.Context, durableKey string, attrs warehouse.Attributes, changeTime time.Time, v warehouse.DimensionVersion) (*SplitResult, error) {
	created := &warehouse.DimensionVersion{
		SurrogateID: uuid.New().String(),
		DurableKey:  durableKey,
		Attributes:  attrs.Clone(),
		ValidFrom:   changeTime,
		ValidTo:     v.ValidTo,
		CreatedAt:   time.Now().UTC(),
	}
	rev := warehouse.DimensionRevision{
		DurableKey: durableKey,
		Truncate: &warehouse.VersionTruncation{
			SurrogateID: v.SurrogateID,
			ValidTo:     changeTime,
		},
		Insert: created,
	}
	if err := c.dims.ApplyRevision(ctx, rev); err != nil {
		return nil, fmt.Errorf("split version %s at %s: %w",
			v.SurrogateID, changeTime.Format(time.RFC3339Nano), err)
	}

	shrunk := v
	shrunk.ValidTo = changeTime
	rebinds, deltas, err := c.RebindStranded(ctx, shrunk, changeTime)
	if err != nil {
		return nil, err
	}

	slog.Info("Split dimension interval",
		"durable_key", durableKey,
		"shrunk_surrogate_id", v.SurrogateID,
		"created_surrogate_id", created.SurrogateID,
		"split_at", changeTime,
		"rebinds", len(rebinds))
	return &SplitResult{Created: created, Rebinds: rebinds, Deltas: deltas}, nil
}

// RebindStranded finds facts still bound to old with event_time on or
// after cutoff and stages their move to the covering successor.
// Deriving the set from the facts actually still bound (not from the
// change record) is what makes replaying a split exactly-once: once the
// rebinds are flushed, a replay finds nothing stranded.
func (c *Coordinator) RebindStranded(ctx context.Context, old warehouse.DimensionVersion, cutoff time.Time) ([]warehouse.FactRebind, []warehouse.BucketDelta, error) {
	stranded, err := c.facts.BoundToSince(ctx, old.SurrogateID, cutoff)
	if err != nil {
		return nil, nil, fmt.Errorf("find stranded facts: %w", err)
	}
	if len(stranded) == 0 {
		return nil, nil, nil
	}

	versions, err := c.dims.VersionsForKey(ctx, old.DurableKey)
	if err != nil {
		return nil, nil, fmt.Errorf("reload versions for %s: %w", old.DurableKey, err)
	}

	var rebinds []warehouse.FactRebind
	var deltas []warehouse.BucketDelta
	for _, f := range stranded {
		target, err := dimension.ResolveIn(versions, f.DurableKey, f.Token.EventTime)
		if err != nil {
			return nil, nil, fmt.Errorf("re-resolve fact %s: %w", f.Token, err)
		}
		if target.SurrogateID == f.SurrogateID {
			continue
		}
		rebinds = append(rebinds, warehouse.FactRebind{
			DurableKey:      f.DurableKey,
			Token:           f.Token,
			FromSurrogateID: f.SurrogateID,
			ToSurrogateID:   target.SurrogateID,
		})
		for _, g := range c.grains {
			deltas = append(deltas, warehouse.DeltaForFact(f, g, -1))
		}
		rebound := *f
		rebound.SurrogateID = target.SurrogateID
		for _, g := range c.grains {
			deltas = append(deltas, warehouse.DeltaForFact(&rebound, g, +1))
		}
	}
	return rebinds, deltas, nil
}
