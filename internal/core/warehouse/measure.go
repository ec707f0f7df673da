package warehouse

import "github.com/shopspring/decimal"

// Measures maps measure names to decimal values. All measures in the
// warehouse are fully additive: sums, counts and signed corrections
// compose through plain addition.
type Measures map[string]decimal.Decimal

// Clone returns an independent copy.
func (m Measures) Clone() Measures {
	out := make(Measures, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Add folds other into m in place, creating entries as needed.
func (m Measures) Add(other Measures) {
	for k, v := range other {
		m[k] = m[k].Add(v)
	}
}

// Negated returns a copy with every value sign-flipped. Retractions are
// expressed as negated reapplications.
func (m Measures) Negated() Measures {
	out := make(Measures, len(m))
	for k, v := range m {
		out[k] = v.Neg()
	}
	return out
}

// Equal reports value equality across all names, treating absent entries
// as zero on neither side.
func (m Measures) Equal(other Measures) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// IsZero reports whether every value is zero.
func (m Measures) IsZero() bool {
	for _, v := range m {
		if !v.IsZero() {
			return false
		}
	}
	return true
}

// ExtractDecimal pulls a numeric value from a payload map by field name.
// Returns decimal.Zero and false if the field is missing or not a
// recognized numeric type. JSON numbers unmarshal to float64 in Go —
// that's the common path; NewFromFloat converts it to an exact decimal
// representation.
func ExtractDecimal(payload map[string]interface{}, field string) (decimal.Decimal, bool) {
	if field == "" {
		return decimal.Zero, false
	}
	v, ok := payload[field]
	if !ok {
		return decimal.Zero, false
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat(float64(val)), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case string:
		d, err := decimal.NewFromString(val)
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

// SplitFactPayload partitions a fact payload into numeric measures and
// degenerate string context. Numeric-looking strings count as measures;
// everything else lands in the degenerate map as its string form only
// when it already is a string.
func SplitFactPayload(payload map[string]interface{}) (Measures, map[string]string) {
	measures := make(Measures)
	degenerate := make(map[string]string)
	for field, raw := range payload {
		if d, ok := ExtractDecimal(payload, field); ok {
			measures[field] = d
			continue
		}
		if s, ok := raw.(string); ok {
			degenerate[field] = s
		}
	}
	if len(degenerate) == 0 {
		degenerate = nil
	}
	return measures, degenerate
}
