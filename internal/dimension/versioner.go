package dimension

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// Versioner maintains the versioned dimension history for durable keys.
// All calls for one durable key must be serialized by the caller (the
// pipeline partitions work by key); calls for different keys are safe
// concurrently because every mutation is scoped to a single key.
type Versioner struct {
	store storage.DimensionStore
}

// NewVersioner creates a versioner over the given dimension store.
func NewVersioner(store storage.DimensionStore) *Versioner {
	if store == nil {
		panic("dimension: store must not be nil")
	}
	return &Versioner{store: store}
}

// ChangeResult reports what ApplyChange did.
type ChangeResult struct {
	// Created is the newly inserted version, nil for a no-op.
	Created *warehouse.DimensionVersion

	// Closed is the previously current version whose interval was
	// truncated by the new one. Nil for a first version or a no-op.
	Closed *warehouse.DimensionVersion

	// NoOp is true when the change matched the recorded state
	// (duplicate change event) and nothing was written.
	NoOp bool

	// Late is true when changeTime precedes the current version's
	// valid_from. Nothing was written; the caller must route the change
	// through the late-arrival coordinator, which knows how to split
	// intervals.
	Late bool
}

// ApplyChange records an attribute change for a durable key observed at
// changeTime. Forward changes supersede the current version atomically:
// the old interval is truncated and the new open-ended version inserted
// in one store transaction. Duplicate changes are no-ops, which makes
// ledger replay safe.
func (v *Versioner) ApplyChange(ctx context.Context, durableKey string, attrs warehouse.Attributes, changeTime time.Time) (*ChangeResult, error) {
	changeTime = changeTime.UTC()

	current, err := v.store.CurrentVersion(ctx, durableKey)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("load current version: %w", err)
	}

	if current == nil {
		created := &warehouse.DimensionVersion{
			SurrogateID: uuid.New().String(),
			DurableKey:  durableKey,
			Attributes:  attrs.Clone(),
			ValidFrom:   changeTime,
			ValidTo:     warehouse.MaxValidTo,
			CreatedAt:   time.Now().UTC(),
		}
		rev := warehouse.DimensionRevision{DurableKey: durableKey, Insert: created}
		if err := v.store.ApplyRevision(ctx, rev); err != nil {
			if err == storage.ErrDuplicate {
				// Replay of an already-recorded first version.
				return &ChangeResult{NoOp: true}, nil
			}
			return nil, fmt.Errorf("insert first version: %w", err)
		}
		slog.Debug("Created first dimension version",
			"durable_key", durableKey,
			"surrogate_id", created.SurrogateID,
			"valid_from", created.ValidFrom)
		return &ChangeResult{Created: created}, nil
	}

	if changeTime.Before(current.ValidFrom) {
		return &ChangeResult{Late: true}, nil
	}

	if attrs.Equal(current.Attributes) {
		return &ChangeResult{NoOp: true}, nil
	}

	// Differing attributes claimed for the exact instant the current
	// version took effect contradict recorded history. Surface it.
	if changeTime.Equal(current.ValidFrom) {
		return nil, &warehouse.OutOfOrderChangeError{
			DurableKey: durableKey,
			ChangeTime: changeTime,
			Conflict: fmt.Sprintf("attributes differ from version %s recorded at the same valid_from",
				current.SurrogateID),
		}
	}

	created := &warehouse.DimensionVersion{
		SurrogateID: uuid.New().String(),
		DurableKey:  durableKey,
		Attributes:  attrs.Clone(),
		ValidFrom:   changeTime,
		ValidTo:     warehouse.MaxValidTo,
		CreatedAt:   time.Now().UTC(),
	}
	rev := warehouse.DimensionRevision{
		DurableKey: durableKey,
		Truncate: &warehouse.VersionTruncation{
			SurrogateID: current.SurrogateID,
			ValidTo:     changeTime,
		},
		Insert: created,
	}
	if err := v.store.ApplyRevision(ctx, rev); err != nil {
		if err == storage.ErrDuplicate {
			return &ChangeResult{NoOp: true}, nil
		}
		return nil, fmt.Errorf("supersede version %s: %w", current.SurrogateID, err)
	}

	closed := *current
	closed.ValidTo = changeTime
	slog.Debug("Superseded dimension version",
		"durable_key", durableKey,
		"closed_surrogate_id", closed.SurrogateID,
		"created_surrogate_id", created.SurrogateID,
		"valid_from", created.ValidFrom)
	return &ChangeResult{Created: created, Closed: &closed}, nil
}
