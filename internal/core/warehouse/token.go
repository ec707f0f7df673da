package warehouse

import (
	"fmt"
	"time"
)

// VersionToken is the per-key ordering stamp of the change stream.
// EventTime carries the source-side clock; SequenceNo breaks ties between
// records stamped with the same instant. A token is unique per durable key
// — that uniqueness is what makes replay idempotent.
type VersionToken struct {
	EventTime  time.Time
	SequenceNo int64
}

// Compare orders tokens by event time, then sequence number.
// Returns -1 if t < other, 0 if equal, +1 if t > other.
func (t VersionToken) Compare(other VersionToken) int {
	if t.EventTime.Before(other.EventTime) {
		return -1
	}
	if t.EventTime.After(other.EventTime) {
		return 1
	}
	switch {
	case t.SequenceNo < other.SequenceNo:
		return -1
	case t.SequenceNo > other.SequenceNo:
		return 1
	}
	return 0
}

// Before reports whether t orders strictly before other.
func (t VersionToken) Before(other VersionToken) bool {
	return t.Compare(other) < 0
}

// After reports whether t orders strictly after other.
func (t VersionToken) After(other VersionToken) bool {
	return t.Compare(other) > 0
}

// IsZero reports whether the token is unset.
func (t VersionToken) IsZero() bool {
	return t.EventTime.IsZero() && t.SequenceNo == 0
}

func (t VersionToken) String() string {
	return fmt.Sprintf("%s/%d", t.EventTime.UTC().Format(time.RFC3339Nano), t.SequenceNo)
}
