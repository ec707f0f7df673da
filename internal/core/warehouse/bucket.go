package warehouse

import "time"

// BucketKey identifies one additive aggregate bucket. Identity is
// (Grain, PeriodStart, SurrogateID); DurableKey is carried denormalized
// so as-is reads can group a key's buckets without resolving surrogates.
// PeriodStart must be a UTC period floor or map-key equality breaks.
type BucketKey struct {
	DurableKey  string
	SurrogateID string
	Grain       Grain
	PeriodStart time.Time
}

// BucketState is the durable aggregate for one bucket: additive measure
// sums, the bound fact count, and the newest version token incorporated
// (the bucket's high-water mark, which drives late-arrival accounting).
type BucketState struct {
	Key           BucketKey
	Measures      Measures
	FactCount     int64
	HighWaterMark VersionToken
	UpdatedAt     time.Time
}

// BucketDelta is one signed adjustment to a bucket. Measures and
// FactCount already carry their sign, so deltas merge by plain addition:
// the merge is commutative and associative, and a retract/reapply pair
// nets to zero.
type BucketDelta struct {
	Key       BucketKey
	Measures  Measures
	FactCount int64
	Token     VersionToken
}

// DeltaForFact builds the signed delta a fact contributes to one grain.
// sign is +1 to apply, -1 to retract.
func DeltaForFact(f *Fact, g Grain, sign int) BucketDelta {
	m := f.Measures.Clone()
	if sign < 0 {
		m = f.Measures.Negated()
	}
	return BucketDelta{
		Key: BucketKey{
			DurableKey:  f.DurableKey,
			SurrogateID: f.SurrogateID,
			Grain:       g,
			PeriodStart: g.PeriodStart(f.Token.EventTime),
		},
		Measures:  m,
		FactCount: int64(sign),
		Token:     f.Token,
	}
}

// Merge folds other into d. Both deltas must share the same key.
func (d *BucketDelta) Merge(other BucketDelta) {
	if d.Measures == nil {
		d.Measures = make(Measures)
	}
	d.Measures.Add(other.Measures)
	d.FactCount += other.FactCount
	if other.Token.After(d.Token) {
		d.Token = other.Token
	}
}

// ApplyDelta folds a delta into the durable state.
func (s *BucketState) ApplyDelta(d BucketDelta) {
	if s.Measures == nil {
		s.Measures = make(Measures)
	}
	s.Measures.Add(d.Measures)
	s.FactCount += d.FactCount
	if d.Token.After(s.HighWaterMark) {
		s.HighWaterMark = d.Token
	}
}
