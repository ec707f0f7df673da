package warehouse

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fact is one immutable measurement event, carried on the dual-key
// design: DurableKey names the business entity forever, SurrogateID
// pins the dimension version that was in effect at the fact's event
// time. Everything except SurrogateID is immutable after binding; the
// surrogate may be repointed exactly once per correction by late-arrival
// rebinding.
type Fact struct {
	DurableKey  string
	Token       VersionToken
	SurrogateID string
	Measures    Measures
	Degenerate  map[string]string
	BoundAt     time.Time
}

// FactRebind repoints one bound fact at a different dimension version.
// Produced by interval splits and applied atomically with the bucket
// deltas that move the fact's measures between contexts.
type FactRebind struct {
	DurableKey      string
	Token           VersionToken
	FromSurrogateID string
	ToSurrogateID   string
}

// FactCursor is a keyset position in the version-token ordering
// (event_time, sequence_no, durable_key). Fact range reads resume from a
// cursor, which makes the sequence lazy and restartable without server
// state.
type FactCursor struct {
	EventTime  time.Time
	SequenceNo int64
	DurableKey string
}

// IsZero reports whether the cursor is the start of the range.
func (c FactCursor) IsZero() bool {
	return c.EventTime.IsZero() && c.SequenceNo == 0 && c.DurableKey == ""
}

// Encode renders the cursor as an opaque URL-safe string.
func (c FactCursor) Encode() string {
	raw := fmt.Sprintf("%s|%d|%s",
		c.EventTime.UTC().Format(time.RFC3339Nano), c.SequenceNo, c.DurableKey)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseFactCursor decodes a cursor produced by Encode. An empty string
// decodes to the zero cursor.
func ParseFactCursor(s string) (FactCursor, error) {
	if s == "" {
		return FactCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return FactCursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return FactCursor{}, fmt.Errorf("invalid cursor %q", string(raw))
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return FactCursor{}, fmt.Errorf("invalid cursor time: %w", err)
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return FactCursor{}, fmt.Errorf("invalid cursor sequence: %w", err)
	}
	return FactCursor{EventTime: ts, SequenceNo: seq, DurableKey: parts[2]}, nil
}
