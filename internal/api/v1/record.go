package v1

import (
	"fmt"
	"time"
)

// Record kinds accepted on the change stream.
const (
	KindDimensionChange = "dimension_change"
	KindFact            = "fact"
)

// ChangeRecord is the atomic unit of the warehouse ingest stream.
// It separates the "Envelope" (system attributes) from the "Letter" (payload).
type ChangeRecord struct {
	// --- System Attributes (The Envelope) ---

	// DurableKey identifies the business entity this record belongs to.
	// Examples: "customer:1001", "policy:POL-2219", "agent:ag-77".
	// All ordering and partitioning guarantees are scoped to this key.
	DurableKey string `json:"durable_key"`

	// Kind discriminates dimension changes from facts.
	// One of KindDimensionChange or KindFact.
	Kind string `json:"kind"`

	// EventTime is when the change or fact happened in the source system
	// (source-side clock). This distinguishes it from ReceivedAt.
	EventTime time.Time `json:"event_time"`

	// SequenceNo breaks ties between records carrying the same EventTime.
	// (EventTime, SequenceNo) forms the version token and MUST be unique
	// per DurableKey to enforce idempotency.
	SequenceNo int64 `json:"sequence_no"`

	// Schema optionally names the conformed schema the payload claims to
	// follow. When set together with SchemaVersion the payload is
	// validated before the record is accepted.
	Schema string `json:"schema,omitempty"`

	// SchemaVersion selects the schema revision. Zero skips validation.
	SchemaVersion int `json:"schema_version,omitempty"`

	// ReceivedAt is when the warehouse accepted the record (audit trail).
	// Set by the ingestion service, not the source.
	ReceivedAt time.Time `json:"received_at"`

	// LedgerSeq is a monotonic sequence number assigned on append.
	// It provides strict total ordering for replay pagination.
	// Set by the ledger store, not exposed in the public API.
	LedgerSeq int64 `json:"-"`

	// --- Source Payload (The Letter) ---

	// Payload carries the record body. For a dimension change this is the
	// conformed attribute set; for a fact it is the measures plus any
	// degenerate context fields.
	Payload map[string]interface{} `json:"payload"`
}

// Validate ensures the record has all required system attributes.
func (r *ChangeRecord) Validate() error {
	if r.DurableKey == "" {
		return fmt.Errorf("durable_key is required")
	}

	if r.Kind != KindDimensionChange && r.Kind != KindFact {
		return fmt.Errorf("kind must be %q or %q", KindDimensionChange, KindFact)
	}

	if r.EventTime.IsZero() {
		return fmt.Errorf("event_time is required")
	}

	if r.SequenceNo < 0 {
		return fmt.Errorf("sequence_no must not be negative")
	}

	if len(r.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}

	return nil
}
