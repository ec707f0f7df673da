package warehouse

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for dimension resolution and rebuild control flow.
var (
	// ErrUnknownEntity: the durable key has no recorded versions at all.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrNoDimensionVersion: versions exist but none covers the
	// requested time.
	ErrNoDimensionVersion = errors.New("no dimension version covers the requested time")

	// ErrBucketRebuildAborted: a full rebuild was canceled before the
	// swap; live buckets are untouched.
	ErrBucketRebuildAborted = errors.New("bucket rebuild aborted")
)

// Escalation kinds stored in the operator error queue.
const (
	EscalationOutOfOrderChange = "out_of_order_dimension_change"
	EscalationUnresolvableFact = "unresolvable_fact"
)

// OutOfOrderChangeError reports a dimension correction that conflicts
// with recorded history: a differing attribute set claimed for an
// instant that already has one. Never resolved silently; the record is
// escalated for operator intervention.
type OutOfOrderChangeError struct {
	DurableKey string
	ChangeTime time.Time
	Conflict   string
}

func (e *OutOfOrderChangeError) Error() string {
	return fmt.Sprintf("out-of-order dimension change for %s at %s: %s",
		e.DurableKey, e.ChangeTime.UTC().Format(time.RFC3339Nano), e.Conflict)
}

// UnresolvableFactError reports a fact that exhausted its pending retry
// budget without any dimension version covering its event time.
type UnresolvableFactError struct {
	DurableKey string
	Token      VersionToken
	Attempts   int
}

func (e *UnresolvableFactError) Error() string {
	return fmt.Sprintf("fact %s for %s unresolvable after %d attempts",
		e.Token, e.DurableKey, e.Attempts)
}
