package projection

import (
	"time"

	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/shopspring/decimal"
)

// fillSeries renders one BucketResponse per period covering [start, end).
// Stored bucket state is grouped by period start; periods with no state
// render zero-valued. A period may hold several buckets (one per
// surrogate that was in effect), so measures and fact counts are summed.
// All measures are additive, which is what makes this merge safe.
func fillSeries(grain warehouse.Grain, start, end time.Time, states []warehouse.BucketState) []BucketResponse {
	byPeriod := make(map[time.Time][]warehouse.BucketState)
	for _, state := range states {
		periodStart := state.Key.PeriodStart.UTC()
		byPeriod[periodStart] = append(byPeriod[periodStart], state)
	}

	periods := grain.Periods(start, end)
	results := make([]BucketResponse, 0, len(periods))
	for _, periodStart := range periods {
		results = append(results, mergePeriod(grain, periodStart, byPeriod[periodStart]))
	}
	return results
}

// mergePeriod folds the bucket states of one period into a single
// response row. No states means an empty period: zero measures, zero
// fact count, no high-water mark.
func mergePeriod(grain warehouse.Grain, periodStart time.Time, states []warehouse.BucketState) BucketResponse {
	resp := BucketResponse{
		Grain:       string(grain),
		PeriodStart: periodStart,
		PeriodEnd:   grain.PeriodEnd(periodStart),
		Measures:    make(map[string]decimal.Decimal),
	}

	var mark warehouse.VersionToken
	for _, state := range states {
		for name, value := range state.Measures {
			resp.Measures[name] = resp.Measures[name].Add(value)
		}
		resp.FactCount += state.FactCount
		if state.HighWaterMark.After(mark) {
			mark = state.HighWaterMark
		}
	}
	if !mark.IsZero() {
		t := mark.EventTime
		resp.HighWaterMark = &t
	}
	return resp
}
