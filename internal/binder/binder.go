package binder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/strata-dw/strata/internal/dimension"
)

// Binder resolves fact events to the dimension version in effect at
// their event time. It never writes facts itself: every outcome is a
// staged mutation the caller folds into the next atomic batch flush,
// which is what makes crash-replay exactly-once. Facts that cannot be
// resolved are parked rather than bound to a wrong version, and
// escalated once the retry budget runs out — never dropped.
type Binder struct {
	resolver   *dimension.Resolver
	facts      storage.FactStore
	pending    storage.PendingStore
	retryLimit int
}

// New creates a binder. retryLimit is the pending retry budget from
// configuration.
func New(resolver *dimension.Resolver, facts storage.FactStore, pending storage.PendingStore, retryLimit int) *Binder {
	if resolver == nil {
		panic("binder: resolver must not be nil")
	}
	if facts == nil {
		panic("binder: fact store must not be nil")
	}
	if pending == nil {
		panic("binder: pending store must not be nil")
	}
	if retryLimit <= 0 {
		retryLimit = 5
	}
	return &Binder{
		resolver:   resolver,
		facts:      facts,
		pending:    pending,
		retryLimit: retryLimit,
	}
}

// Outcome is the staged result of one bind attempt. Exactly one of
// Fact, Park, Escalation is set.
type Outcome struct {
	// Fact is the bound fact to insert, nil when the fact was parked or
	// escalated.
	Fact *warehouse.Fact

	// Park is the pending entry to upsert when no version covered the
	// event time and budget remains.
	Park *storage.PendingFact

	// Escalation reports a fact whose retry budget is exhausted. The
	// caller also removes the pending entry.
	Escalation *storage.Escalation
}

// Bind resolves one fact event against the current dimension history.
// payload is the raw fact body; numeric fields become measures, string
// fields degenerate context.
func (b *Binder) Bind(ctx context.Context, durableKey string, token warehouse.VersionToken, payload map[string]interface{}) (*Outcome, error) {
	measures, degenerate := warehouse.SplitFactPayload(payload)
	pf := storage.PendingFact{
		DurableKey: durableKey,
		Token:      token,
		Measures:   measures,
		Degenerate: degenerate,
		Attempts:   1,
	}
	return b.attempt(ctx, pf)
}

// Retry re-attempts one parked fact that has not reached the pending
// store yet, spending one attempt from its budget. The pipeline uses it
// for parks staged inside the current batch, which RetryPending cannot
// see.
func (b *Binder) Retry(ctx context.Context, pf storage.PendingFact) (*Outcome, error) {
	pf.Attempts++
	return b.attempt(ctx, pf)
}

// RetryPending re-attempts every parked fact for a key. Called after a
// new dimension version for that key appears. Each still-unresolvable
// fact costs one attempt from its budget; facts over budget come back
// as escalations.
func (b *Binder) RetryPending(ctx context.Context, durableKey string) ([]*Outcome, error) {
	parked, err := b.pending.ListForKey(ctx, durableKey)
	if err != nil {
		return nil, fmt.Errorf("list pending for %s: %w", durableKey, err)
	}
	if len(parked) == 0 {
		return nil, nil
	}

	outcomes := make([]*Outcome, 0, len(parked))
	for _, pf := range parked {
		pf.Attempts++
		out, err := b.attempt(ctx, pf)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (b *Binder) attempt(ctx context.Context, pf storage.PendingFact) (*Outcome, error) {
	version, err := b.resolver.Resolve(ctx, pf.DurableKey, pf.Token.EventTime)
	if err == nil {
		return &Outcome{Fact: &warehouse.Fact{
			DurableKey:  pf.DurableKey,
			Token:       pf.Token,
			SurrogateID: version.SurrogateID,
			Measures:    pf.Measures,
			Degenerate:  pf.Degenerate,
			BoundAt:     time.Now().UTC(),
		}}, nil
	}

	if !errors.Is(err, warehouse.ErrNoDimensionVersion) && !errors.Is(err, warehouse.ErrUnknownEntity) {
		return nil, err
	}

	if pf.Attempts >= b.retryLimit {
		slog.Warn("Fact exhausted pending retry budget",
			"durable_key", pf.DurableKey,
			"version_token", pf.Token.String(),
			"attempts", pf.Attempts)
		ufe := &warehouse.UnresolvableFactError{
			DurableKey: pf.DurableKey,
			Token:      pf.Token,
			Attempts:   pf.Attempts,
		}
		return &Outcome{Escalation: &storage.Escalation{
			ID:         uuid.New().String(),
			Kind:       warehouse.EscalationUnresolvableFact,
			DurableKey: pf.DurableKey,
			Token:      pf.Token,
			Detail:     ufe.Error(),
			Status:     storage.EscalationOpen,
			ReportedAt: time.Now().UTC(),
		}}, nil
	}

	pf.LastAttempt = time.Now().UTC()
	parked := pf
	return &Outcome{Park: &parked}, nil
}
