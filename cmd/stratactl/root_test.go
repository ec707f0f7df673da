package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

func TestParseScope(t *testing.T) {
	scope, err := parseScope("month", "2025-06-15T12:00:00Z", "2025-09-01T00:00:00Z", "customer:1")
	require.NoError(t, err)

	require.Equal(t, warehouse.GrainMonth, scope.Grain)
	// Range start snaps to the period boundary.
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), scope.PeriodStart)
	require.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), scope.PeriodEnd)
	require.Equal(t, "customer:1", scope.DurableKey)
}

func TestParseScope_Invalid(t *testing.T) {
	tests := []struct {
		name            string
		grain, from, to string
	}{
		{"unknown grain", "fortnight", "2025-06-01T00:00:00Z", "2025-07-01T00:00:00Z"},
		{"bad from", "day", "june first", "2025-07-01T00:00:00Z"},
		{"bad to", "day", "2025-06-01T00:00:00Z", "later"},
		{"reversed range", "day", "2025-07-01T00:00:00Z", "2025-06-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScope(tt.grain, tt.from, tt.to, "")
			require.Error(t, err)
		})
	}
}

func TestFormatEscalations(t *testing.T) {
	var buf bytes.Buffer
	formatEscalations(&buf, []storage.Escalation{{
		ID:         "esc-1",
		Kind:       warehouse.EscalationUnresolvableFact,
		DurableKey: "customer:7",
		Token: warehouse.VersionToken{
			EventTime:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			SequenceNo: 3,
		},
		Status:     storage.EscalationOpen,
		ReportedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Detail:     "retry budget exhausted",
	}})

	out := buf.String()
	require.Contains(t, out, "esc-1")
	require.Contains(t, out, "customer:7")
	require.Contains(t, out, "open")
}

func TestFormatRuns(t *testing.T) {
	completed := time.Date(2025, 6, 1, 0, 0, 1, 0, time.UTC)
	var buf bytes.Buffer
	formatRuns(&buf, []storage.RunRecord{{
		ID:          "run-1",
		Process:     "replay",
		StartedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		CompletedAt: &completed,
		Status:      storage.RunSucceeded,
		Counts:      storage.RunCounts{RecordsRead: 42},
	}})

	out := buf.String()
	require.Contains(t, out, "run-1")
	require.Contains(t, out, "succeeded")
	require.Contains(t, out, "1s")
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
