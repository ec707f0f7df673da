package warehouse

import (
	"fmt"
	"time"
)

// Grain is an aggregation granularity. Periods are UTC calendar floors,
// so a grain's buckets tile the timeline without gaps or overlap.
type Grain string

const (
	GrainDay   Grain = "day"
	GrainWeek  Grain = "week"
	GrainMonth Grain = "month"
	GrainYear  Grain = "year"
)

// AllGrains returns every supported grain, coarsest last.
func AllGrains() []Grain {
	return []Grain{GrainDay, GrainWeek, GrainMonth, GrainYear}
}

// ParseGrain validates a grain string from config or a request path.
func ParseGrain(s string) (Grain, error) {
	switch Grain(s) {
	case GrainDay, GrainWeek, GrainMonth, GrainYear:
		return Grain(s), nil
	}
	return "", fmt.Errorf("unknown grain %q (want day, week, month or year)", s)
}

// PeriodStart floors t to the start of its period in UTC.
// Weeks start Monday (ISO convention).
func (g Grain) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GrainDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GrainWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
		return day.AddDate(0, 0, -offset)
	case GrainMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case GrainYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the start of the period following the one beginning
// at start. Calendar-aware: months and years have uneven lengths.
func (g Grain) PeriodEnd(start time.Time) time.Time {
	switch g {
	case GrainDay:
		return start.AddDate(0, 0, 1)
	case GrainWeek:
		return start.AddDate(0, 0, 7)
	case GrainMonth:
		return start.AddDate(0, 1, 0)
	case GrainYear:
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 0, 1)
}

// Periods lists every period start covering [from, to). Used by series
// reads to emit empty buckets for quiet periods.
func (g Grain) Periods(from, to time.Time) []time.Time {
	if !from.Before(to) {
		return nil
	}
	var out []time.Time
	for p := g.PeriodStart(from); p.Before(to); p = g.PeriodEnd(p) {
		out = append(out, p)
	}
	return out
}
