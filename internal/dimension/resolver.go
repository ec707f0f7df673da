package dimension

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// Resolver answers "which dimension version was in effect for this key
// at this instant". It is the single authority both the fact binder and
// the late-arrival coordinator consult, so as-was joins stay consistent
// across the normal and the correction path.
type Resolver struct {
	store storage.DimensionStore
}

// NewResolver creates a resolver over the given dimension store.
func NewResolver(store storage.DimensionStore) *Resolver {
	if store == nil {
		panic("dimension: store must not be nil")
	}
	return &Resolver{store: store}
}

// Resolve returns the version whose interval contains asOf.
// Returns warehouse.ErrUnknownEntity when the key has no versions at
// all, warehouse.ErrNoDimensionVersion when versions exist but none
// covers asOf (a fact arriving before the entity's first known state).
func (r *Resolver) Resolve(ctx context.Context, durableKey string, asOf time.Time) (*warehouse.DimensionVersion, error) {
	versions, err := r.store.VersionsForKey(ctx, durableKey)
	if err != nil {
		return nil, fmt.Errorf("load versions for %s: %w", durableKey, err)
	}
	return ResolveIn(versions, durableKey, asOf)
}

// ResolveIn finds the covering version in an already-loaded, ordered
// interval set. Split out so the pipeline can resolve repeatedly
// against one read.
func ResolveIn(versions []warehouse.DimensionVersion, durableKey string, asOf time.Time) (*warehouse.DimensionVersion, error) {
	if len(versions) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", durableKey, warehouse.ErrUnknownEntity)
	}
	asOf = asOf.UTC()

	// Versions are ordered by valid_from; find the first interval whose
	// end lies beyond asOf, then check it actually covers.
	i := sort.Search(len(versions), func(i int) bool {
		return versions[i].ValidTo.After(asOf)
	})
	if i == len(versions) || !versions[i].Contains(asOf) {
		return nil, fmt.Errorf("resolve %s at %s: %w",
			durableKey, asOf.Format(time.RFC3339Nano), warehouse.ErrNoDimensionVersion)
	}
	v := versions[i]
	return &v, nil
}

// ResolveCurrent returns the key's open-ended version, used for as-is
// joins. Returns warehouse.ErrUnknownEntity when the key has never been
// seen.
func (r *Resolver) ResolveCurrent(ctx context.Context, durableKey string) (*warehouse.DimensionVersion, error) {
	current, err := r.store.CurrentVersion(ctx, durableKey)
	if err == storage.ErrNotFound {
		return nil, fmt.Errorf("resolve current %s: %w", durableKey, warehouse.ErrUnknownEntity)
	}
	if err != nil {
		return nil, fmt.Errorf("load current version for %s: %w", durableKey, err)
	}
	return current, nil
}

// History returns the key's full ordered interval set.
// Returns warehouse.ErrUnknownEntity for a never-seen key.
func (r *Resolver) History(ctx context.Context, durableKey string) ([]warehouse.DimensionVersion, error) {
	versions, err := r.store.VersionsForKey(ctx, durableKey)
	if err != nil {
		return nil, fmt.Errorf("load versions for %s: %w", durableKey, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("history %s: %w", durableKey, warehouse.ErrUnknownEntity)
	}
	return versions, nil
}
