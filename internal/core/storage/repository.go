package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// ErrDuplicate is returned when a record with the same
// (durable_key, event_time, sequence_no) already exists.
var ErrDuplicate = errors.New("record already exists")

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// LedgerStore persists the append-only change ledger.
type LedgerStore interface {
	// Append stores a record and assigns its LedgerSeq.
	// Returns ErrDuplicate when the version token is already recorded
	// for the durable key.
	Append(ctx context.Context, rec *v1.ChangeRecord) error

	// ReadAfterCursor fetches records after a cursor (ledger_seq) in
	// strict total order. This prevents batch boundary data loss during
	// replay pagination. cursor=0 means "from the beginning".
	ReadAfterCursor(ctx context.Context, cursor int64, limit int) ([]*v1.ChangeRecord, error)
}

// DimensionStore persists versioned dimension history.
type DimensionStore interface {
	// VersionsForKey returns all versions of a key ordered by
	// valid_from ascending. Empty slice when the key is unknown.
	VersionsForKey(ctx context.Context, durableKey string) ([]warehouse.DimensionVersion, error)

	// CurrentVersion returns the open-ended version for a key.
	// Returns ErrNotFound when the key has no current version.
	CurrentVersion(ctx context.Context, durableKey string) (*warehouse.DimensionVersion, error)

	// ApplyRevision applies one truncate+insert pair in a single
	// transaction, so contiguity of a key's intervals is never
	// observable mid-flight. Re-inserting an existing
	// (durable_key, valid_from) surfaces ErrDuplicate.
	ApplyRevision(ctx context.Context, rev warehouse.DimensionRevision) error
}

// FactFilter narrows fact range reads. Zero values mean "no filter".
type FactFilter struct {
	DurableKey  string
	SurrogateID string
}

// FactPage is one step of a lazy fact sequence. Next resumes the scan;
// re-reading from the same cursor is always safe.
type FactPage struct {
	Facts   []*warehouse.Fact
	Next    warehouse.FactCursor
	HasMore bool
}

// FactStore persists bound facts.
type FactStore interface {
	// Insert stores a bound fact. Returns ErrDuplicate when the version
	// token is already bound for the durable key — the caller treats
	// that as a no-op, which is what makes replays safe.
	Insert(ctx context.Context, fact *warehouse.Fact) error

	// FactsInRange pages through facts with event_time in [start, end),
	// ordered by version token (ties broken by durable key). cursor
	// resumes after a previous page.
	FactsInRange(ctx context.Context, start, end time.Time, filter FactFilter, cursor warehouse.FactCursor, limit int) (*FactPage, error)

	// BoundToSince returns facts bound to a surrogate with
	// event_time >= since, ordered by version token. Used by interval
	// splits to find the facts that must be rebound.
	BoundToSince(ctx context.Context, surrogateID string, since time.Time) ([]*warehouse.Fact, error)
}

// PendingFact is a fact parked because no dimension version covered its
// event time when it arrived.
type PendingFact struct {
	DurableKey  string
	Token       warehouse.VersionToken
	Measures    warehouse.Measures
	Degenerate  map[string]string
	Attempts    int
	FirstSeen   time.Time
	LastAttempt time.Time
}

// PendingStore is the parking lot for unresolvable facts. Entries are
// retried when a new dimension version for their key appears and
// escalated once the retry budget is exhausted — never silently dropped.
type PendingStore interface {
	// Park upserts a pending fact keyed by (durable_key, token).
	Park(ctx context.Context, pf PendingFact) error

	// ListForKey returns the parked facts for one key ordered by token.
	ListForKey(ctx context.Context, durableKey string) ([]PendingFact, error)

	// Remove deletes one parked fact. Removing an absent entry is a
	// no-op.
	Remove(ctx context.Context, durableKey string, token warehouse.VersionToken) error

	// Count returns the total number of parked facts.
	Count(ctx context.Context) (int64, error)
}

// Checkpoint records how far a processor has consumed the ledger and
// the newest event time it has incorporated (the load watermark).
type Checkpoint struct {
	Processor string
	Cursor    int64
	Watermark warehouse.VersionToken
	UpdatedAt time.Time
}

// PendingRef names one parked fact.
type PendingRef struct {
	DurableKey string
	Token      warehouse.VersionToken
}

// BatchApply is one atomic pipeline flush: newly bound facts, pending
// parkings and removals, fact rebinds produced by interval splits,
// signed bucket deltas, and the new checkpoint. Staging every mutation
// of a batch into one flush is what keeps crash-replay exactly-once:
// either the whole batch is durable along with its cursor, or none of
// it is and the replay recomputes it identically.
type BatchApply struct {
	Processor string
	Facts     []*warehouse.Fact
	Parks     []PendingFact
	Unparks   []PendingRef
	Rebinds   []warehouse.FactRebind
	Deltas    []warehouse.BucketDelta
	Cursor    int64
	Watermark warehouse.VersionToken
}

// RebuildScope bounds a shadow rebuild to one grain and period range,
// optionally narrowed to a single durable key.
type RebuildScope struct {
	Grain       warehouse.Grain
	PeriodStart time.Time
	PeriodEnd   time.Time
	DurableKey  string
}

// BucketStore persists additive aggregate buckets.
//
// Contract: ApplyBatch writes deltas, rebinds and the checkpoint in a
// single database transaction. This prevents the crash scenario where
// the flush succeeds but the checkpoint is not written, which would
// cause double-counting on replay. A batch whose cursor is not beyond
// the durable checkpoint is a replay of already-applied work and is
// skipped.
//
// Checkpoint invariant: "cursor N means: bucket state includes all
// ledger records up to ledger_seq N, and none after."
type BucketStore interface {
	// ApplyBatch applies one pipeline flush atomically.
	ApplyBatch(ctx context.Context, batch BatchApply) error

	// ReadCheckpoint returns a processor's checkpoint. A zero-valued
	// checkpoint means "replay from the beginning".
	ReadCheckpoint(ctx context.Context, processor string) (Checkpoint, error)

	// Bucket fetches one bucket. Returns (nil, nil) when absent;
	// readers render that as zero-valued state.
	Bucket(ctx context.Context, key warehouse.BucketKey) (*warehouse.BucketState, error)

	// QueryRange fetches buckets of one grain with period_start in
	// [start, end), ordered by period_start ascending, optionally
	// filtered by durable key or surrogate.
	QueryRange(ctx context.Context, grain warehouse.Grain, start, end time.Time, filter FactFilter) ([]warehouse.BucketState, error)

	// ReplaceRange swaps freshly rebuilt buckets in for a scope: delete
	// the scoped live rows and insert the shadow rows in one
	// transaction. Readers see the old totals until the swap commits.
	ReplaceRange(ctx context.Context, scope RebuildScope, buckets []warehouse.BucketState) error

	// ResetAggregates clears all buckets and a processor's checkpoint so
	// the ledger can be replayed from scratch. Offline operation.
	ResetAggregates(ctx context.Context, processor string) error
}

// Escalation statuses.
const (
	EscalationOpen     = "open"
	EscalationResolved = "resolved"
)

// Escalation is one operator error-queue entry.
type Escalation struct {
	ID         string
	Kind       string
	DurableKey string
	Token      warehouse.VersionToken
	Detail     string
	Status     string
	ReportedAt time.Time
	ResolvedAt *time.Time
}

// ErrorQueueStore is the durable operator error queue.
type ErrorQueueStore interface {
	// Report upserts an escalation keyed by (kind, durable_key, token).
	// Reporting an already-recorded escalation is a no-op, so replays
	// never re-raise an entry the operator has resolved.
	Report(ctx context.Context, esc Escalation) error

	// List returns escalations, newest first, optionally filtered by
	// status.
	List(ctx context.Context, status string, limit int) ([]Escalation, error)

	// Resolve marks an escalation resolved. Returns ErrNotFound for an
	// unknown id.
	Resolve(ctx context.Context, id string) error
}

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunCounts are the row counts of one process run.
type RunCounts struct {
	RecordsRead    int64
	ChangesApplied int64
	FactsBound     int64
	BucketsUpdated int64
}

// RunRecord is one row of the process execution log.
type RunRecord struct {
	ID          string
	Process     string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Counts      RunCounts
	Detail      string
}

// ProcessRunStore is the execution audit log: every batch cycle,
// rebuild, replay and audit records its outcome here.
type ProcessRunStore interface {
	// StartRun opens a run row and returns its id.
	StartRun(ctx context.Context, process string) (string, error)

	// CompleteRun closes a run with its final status and counts.
	CompleteRun(ctx context.Context, id, status string, counts RunCounts, detail string) error

	// ListRuns returns runs newest first, optionally filtered by
	// process name.
	ListRuns(ctx context.Context, process string, limit int) ([]RunRecord, error)
}

// Stores bundles every store interface one backend provides.
type Stores struct {
	Ledger     LedgerStore
	Dimensions DimensionStore
	Facts      FactStore
	Pending    PendingStore
	Buckets    BucketStore
	Errors     ErrorQueueStore
	Runs       ProcessRunStore
}
