package warehouse

import (
	"bytes"
	"encoding/json"
	"time"
)

// MaxValidTo is the far-future sentinel marking an open-ended validity
// interval. A version whose ValidTo equals this sentinel is the current
// version for its durable key. Stored as a real timestamp so interval
// queries never special-case NULL.
var MaxValidTo = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Attributes is the conformed attribute set of one dimension version.
// Values are the decoded JSON payload of the originating change record.
type Attributes map[string]interface{}

// Equal compares two attribute sets by canonical JSON form.
// encoding/json sorts map keys, so the comparison is order independent.
func (a Attributes) Equal(other Attributes) bool {
	if len(a) != len(other) {
		return false
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	ob, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, ob)
}

// Clone returns a shallow copy. Nested values are shared; versions treat
// attribute sets as immutable after recording.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// DimensionVersion is one row of versioned dimension history: the
// attribute set that was in effect for a durable key over the half-open
// interval [ValidFrom, ValidTo). The versions of one key are contiguous
// and non-overlapping. SurrogateID and the recorded attributes are
// immutable once assigned; corrections create new versions or shrink
// intervals, they never rewrite a recorded state.
type DimensionVersion struct {
	SurrogateID string
	DurableKey  string
	Attributes  Attributes
	ValidFrom   time.Time
	ValidTo     time.Time
	CreatedAt   time.Time
}

// IsCurrent reports whether the interval is open-ended.
// Derived from ValidTo, never stored as a flag.
func (v DimensionVersion) IsCurrent() bool {
	return v.ValidTo.Equal(MaxValidTo)
}

// Contains reports whether t falls inside [ValidFrom, ValidTo).
// A change landing exactly on a boundary belongs to the newer version.
func (v DimensionVersion) Contains(t time.Time) bool {
	return !t.Before(v.ValidFrom) && t.Before(v.ValidTo)
}

// DimensionRevision is one atomic mutation of a key's interval set:
// optionally truncate an existing version's ValidTo, optionally insert a
// new version. A supersession pairs both, a first version or a history
// backfill inserts only. Stores apply the pair in a single transaction so
// contiguity is never observable mid-flight.
type DimensionRevision struct {
	DurableKey string
	Truncate   *VersionTruncation
	Insert     *DimensionVersion
}

// VersionTruncation shrinks an existing version's interval end.
// ValidTo only ever moves earlier; intervals never grow.
type VersionTruncation struct {
	SurrogateID string
	ValidTo     time.Time
}
