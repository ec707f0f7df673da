package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/binder"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/strata-dw/strata/internal/dimension"
	"github.com/strata-dw/strata/internal/latearrival"
	"github.com/strata-dw/strata/internal/rollup"
)

// batchResult accumulates the staged mutations one worker produces from
// its partitions. Results merge after all workers join; nothing is
// durable until the single flush at the end of the batch.
type batchResult struct {
	facts       []*warehouse.Fact
	parks       []storage.PendingFact
	unparks     []storage.PendingRef
	rebinds     []warehouse.FactRebind
	deltas      map[warehouse.BucketKey]warehouse.BucketDelta
	escalations []*storage.Escalation

	counts    storage.RunCounts
	lateFacts int64
	watermark warehouse.VersionToken
}

func newBatchResult() *batchResult {
	return &batchResult{deltas: make(map[warehouse.BucketKey]warehouse.BucketDelta)}
}

func (r *batchResult) addDeltas(deltas []warehouse.BucketDelta) {
	for _, d := range deltas {
		merged, ok := r.deltas[d.Key]
		if !ok {
			r.deltas[d.Key] = d
			continue
		}
		merged.Merge(d)
		r.deltas[d.Key] = merged
	}
}

func (r *batchResult) addOutcome(out *binder.Outcome) {
	switch {
	case out.Fact != nil:
		r.facts = append(r.facts, out.Fact)
		r.counts.FactsBound++
	case out.Park != nil:
		r.parks = append(r.parks, *out.Park)
	case out.Escalation != nil:
		r.escalations = append(r.escalations, out.Escalation)
		r.unparks = append(r.unparks, storage.PendingRef{
			DurableKey: out.Escalation.DurableKey,
			Token:      out.Escalation.Token,
		})
	}
}

// merge folds other into r. Delta merging is commutative and
// associative, so the worker join order does not matter.
func (r *batchResult) merge(other *batchResult) {
	r.facts = append(r.facts, other.facts...)
	r.parks = append(r.parks, other.parks...)
	r.unparks = append(r.unparks, other.unparks...)
	r.rebinds = append(r.rebinds, other.rebinds...)
	r.escalations = append(r.escalations, other.escalations...)
	for _, d := range other.deltas {
		r.addDeltas([]warehouse.BucketDelta{d})
	}
	r.counts.RecordsRead += other.counts.RecordsRead
	r.counts.ChangesApplied += other.counts.ChangesApplied
	r.counts.FactsBound += other.counts.FactsBound
	r.lateFacts += other.lateFacts
	if other.watermark.After(r.watermark) {
		r.watermark = other.watermark
	}
}

// sortedDeltas flattens the delta map in a deterministic order so the
// flush transaction takes bucket locks in a stable sequence.
func (r *batchResult) sortedDeltas() []warehouse.BucketDelta {
	out := make([]warehouse.BucketDelta, 0, len(r.deltas))
	for _, d := range r.deltas {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Grain != b.Grain {
			return a.Grain < b.Grain
		}
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		if a.DurableKey != b.DurableKey {
			return a.DurableKey < b.DurableKey
		}
		return a.SurrogateID < b.SurrogateID
	})
	return out
}

// applier applies the records of one partition, in ledger order, into a
// batchResult. One applier never sees two partitions concurrently, so
// per-key serialization holds by construction.
type applier struct {
	versioner   *dimension.Versioner
	dims        storage.DimensionStore
	binder      *binder.Binder
	coordinator *latearrival.Coordinator
	rollup      *rollup.Rebuilder
	watermark   warehouse.VersionToken // checkpoint watermark at batch start
}

func (a *applier) applyPartition(ctx context.Context, records []*v1.ChangeRecord, res *batchResult) error {
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.applyRecord(ctx, rec, res); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) applyRecord(ctx context.Context, rec *v1.ChangeRecord, res *batchResult) error {
	token := warehouse.VersionToken{EventTime: rec.EventTime.UTC(), SequenceNo: rec.SequenceNo}
	res.counts.RecordsRead++
	if token.After(res.watermark) {
		res.watermark = token
	}

	switch rec.Kind {
	case v1.KindDimensionChange:
		return a.applyDimensionChange(ctx, rec, token, res)
	case v1.KindFact:
		return a.applyFact(ctx, rec, token, res)
	default:
		// The ingest API rejects unknown kinds; a record reaching here
		// bypassed it. Skip rather than poison the batch.
		slog.Warn("Skipping ledger record with unknown kind",
			"durable_key", rec.DurableKey, "kind", rec.Kind)
		return nil
	}
}

func (a *applier) applyDimensionChange(ctx context.Context, rec *v1.ChangeRecord, token warehouse.VersionToken, res *batchResult) error {
	attrs := warehouse.Attributes(rec.Payload)

	result, err := a.versioner.ApplyChange(ctx, rec.DurableKey, attrs, rec.EventTime)
	if err != nil {
		return a.escalateOrFail(err, rec.DurableKey, token, res)
	}

	if result.Late {
		split, err := a.coordinator.HandleLateDimensionChange(ctx, rec.DurableKey, attrs, rec.EventTime)
		if err != nil {
			return a.escalateOrFail(err, rec.DurableKey, token, res)
		}
		res.rebinds = append(res.rebinds, split.Rebinds...)
		res.addDeltas(split.Deltas)
		if err := a.repairStagedFacts(ctx, rec.DurableKey, res); err != nil {
			return err
		}
		if split.Created != nil {
			res.counts.ChangesApplied++
			return a.retryPending(ctx, rec.DurableKey, res)
		}
		return nil
	}

	if result.NoOp {
		return nil
	}
	res.counts.ChangesApplied++

	// A forward supersession can strand facts whose event time lies
	// beyond the truncation point (the change arrived after them in the
	// ledger). Move them to the new version the same way a split would.
	if result.Closed != nil {
		closed := *result.Closed
		rebinds, deltas, err := a.coordinator.RebindStranded(ctx, closed, closed.ValidTo)
		if err != nil {
			return err
		}
		res.rebinds = append(res.rebinds, rebinds...)
		res.addDeltas(deltas)
		if err := a.repairStagedFacts(ctx, rec.DurableKey, res); err != nil {
			return err
		}
	}

	return a.retryPending(ctx, rec.DurableKey, res)
}

func (a *applier) applyFact(ctx context.Context, rec *v1.ChangeRecord, token warehouse.VersionToken, res *batchResult) error {
	if token.EventTime.Before(a.watermark.EventTime) {
		res.lateFacts++
	}

	out, err := a.binder.Bind(ctx, rec.DurableKey, token, rec.Payload)
	if err != nil {
		return fmt.Errorf("bind fact %s: %w", token, err)
	}
	res.addOutcome(out)
	if out.Fact != nil {
		res.addDeltas(a.rollup.DeltasFor(out.Fact, +1))
	}
	return nil
}

// retryPending re-attempts the key's parked facts after a new dimension
// version appeared, staging whatever each attempt produced. Parks
// staged earlier in this batch are not in the pending store yet, so
// RetryPending cannot see them; they are re-attempted here directly,
// otherwise a fact arriving one ledger slot before its covering change
// would sit in pending_facts with nothing left to wake it.
func (a *applier) retryPending(ctx context.Context, durableKey string, res *batchResult) error {
	// Staged parks first: the durable pass below may re-park entries
	// into res.parks, and those must not be attempted twice in one call.
	kept := res.parks[:0]
	for _, pf := range res.parks {
		if pf.DurableKey != durableKey {
			kept = append(kept, pf)
			continue
		}
		out, err := a.binder.Retry(ctx, pf)
		if err != nil {
			return err
		}
		switch {
		case out.Fact != nil:
			// The park was never durable, so no unpark is staged.
			res.facts = append(res.facts, out.Fact)
			res.counts.FactsBound++
			res.addDeltas(a.rollup.DeltasFor(out.Fact, +1))
		case out.Park != nil:
			kept = append(kept, *out.Park)
		case out.Escalation != nil:
			res.escalations = append(res.escalations, out.Escalation)
		}
	}
	res.parks = kept

	outcomes, err := a.binder.RetryPending(ctx, durableKey)
	if err != nil {
		return err
	}
	for _, out := range outcomes {
		res.addOutcome(out)
		if out.Fact != nil {
			res.unparks = append(res.unparks, storage.PendingRef{
				DurableKey: out.Fact.DurableKey,
				Token:      out.Fact.Token,
			})
			res.addDeltas(a.rollup.DeltasFor(out.Fact, +1))
		}
	}
	return nil
}

// repairStagedFacts re-resolves facts staged earlier in this batch for
// the key. They are not in the store yet, so RebindStranded cannot see
// them; a revision landing between their bind and the flush would leave
// them pointing at a version that no longer covers their event time.
func (a *applier) repairStagedFacts(ctx context.Context, durableKey string, res *batchResult) error {
	versions, err := a.dims.VersionsForKey(ctx, durableKey)
	if err != nil {
		return fmt.Errorf("load versions for %s: %w", durableKey, err)
	}
	if len(versions) == 0 {
		return nil
	}
	for _, f := range res.facts {
		if f.DurableKey != durableKey {
			continue
		}
		target, err := dimension.ResolveIn(versions, durableKey, f.Token.EventTime)
		if err != nil {
			return fmt.Errorf("re-resolve staged fact %s for %s: %w", f.Token, durableKey, err)
		}
		if target.SurrogateID == f.SurrogateID {
			continue
		}
		res.addDeltas(a.rollup.DeltasFor(f, -1))
		f.SurrogateID = target.SurrogateID
		res.addDeltas(a.rollup.DeltasFor(f, +1))
	}
	return nil
}

// escalateOrFail turns an out-of-order conflict into a staged operator
// escalation; anything else aborts the batch.
func (a *applier) escalateOrFail(err error, durableKey string, token warehouse.VersionToken, res *batchResult) error {
	var conflict *warehouse.OutOfOrderChangeError
	if !errors.As(err, &conflict) {
		return err
	}
	slog.Warn("Out-of-order dimension change escalated",
		"durable_key", durableKey,
		"version_token", token.String(),
		"conflict", conflict.Conflict)
	res.escalations = append(res.escalations, &storage.Escalation{
		ID:         uuid.New().String(),
		Kind:       warehouse.EscalationOutOfOrderChange,
		DurableKey: durableKey,
		Token:      token,
		Detail:     conflict.Error(),
		Status:     storage.EscalationOpen,
		ReportedAt: time.Now().UTC(),
	})
	return nil
}
