package projection

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strata-dw/strata/internal/core/warehouse"
)

func TestFillSeries_EmptyRangeIsZeroValued(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

	buckets := fillSeries(warehouse.GrainDay, start, end, nil)
	require.Len(t, buckets, 3)
	for i, b := range buckets {
		require.Equal(t, start.AddDate(0, 0, i), b.PeriodStart)
		require.Equal(t, start.AddDate(0, 0, i+1), b.PeriodEnd)
		require.Empty(t, b.Measures)
		require.Zero(t, b.FactCount)
		require.Nil(t, b.HighWaterMark)
	}
}

func TestFillSeries_MonthPeriodsAreCalendarAware(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	buckets := fillSeries(warehouse.GrainMonth, start, end, nil)
	require.Len(t, buckets, 3)
	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), buckets[0].PeriodEnd)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), buckets[1].PeriodEnd)
	require.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), buckets[2].PeriodEnd)
}

func TestMergePeriod_SumsAcrossSurrogates(t *testing.T) {
	period := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	early := warehouse.VersionToken{EventTime: period.Add(2 * time.Hour), SequenceNo: 1}
	late := warehouse.VersionToken{EventTime: period.Add(20 * time.Hour), SequenceNo: 1}

	states := []warehouse.BucketState{
		{
			Key:           warehouse.BucketKey{DurableKey: "cust-1", SurrogateID: "sg-a", Grain: warehouse.GrainDay, PeriodStart: period},
			Measures:      warehouse.Measures{"amount": decimal.NewFromInt(10)},
			FactCount:     2,
			HighWaterMark: late,
		},
		{
			Key:           warehouse.BucketKey{DurableKey: "cust-1", SurrogateID: "sg-b", Grain: warehouse.GrainDay, PeriodStart: period},
			Measures:      warehouse.Measures{"amount": decimal.NewFromInt(5), "units": decimal.NewFromInt(3)},
			FactCount:     1,
			HighWaterMark: early,
		},
	}

	merged := mergePeriod(warehouse.GrainDay, period, states)
	require.True(t, merged.Measures["amount"].Equal(decimal.NewFromInt(15)))
	require.True(t, merged.Measures["units"].Equal(decimal.NewFromInt(3)))
	require.Equal(t, int64(3), merged.FactCount)
	require.NotNil(t, merged.HighWaterMark)
	require.Equal(t, late.EventTime, *merged.HighWaterMark)
}

func TestMergePeriod_RetractedPeriodNetsToZero(t *testing.T) {
	period := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	token := warehouse.VersionToken{EventTime: period.Add(time.Hour), SequenceNo: 1}

	// A retract/reapply pair that moved every fact out of this bucket
	// leaves a zero-valued row behind; the merge reports it as-is.
	states := []warehouse.BucketState{{
		Key:           warehouse.BucketKey{DurableKey: "cust-1", SurrogateID: "sg-a", Grain: warehouse.GrainDay, PeriodStart: period},
		Measures:      warehouse.Measures{"amount": decimal.Zero},
		FactCount:     0,
		HighWaterMark: token,
	}}

	merged := mergePeriod(warehouse.GrainDay, period, states)
	require.True(t, merged.Measures["amount"].IsZero())
	require.Zero(t, merged.FactCount)
	require.NotNil(t, merged.HighWaterMark)
}
