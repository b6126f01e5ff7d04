package alignment

import "math"

// Categorize buckets a metric into positive/negative/neutral. The
// percentage form is preferred with the 0.25% deadband; the raw value
// falls back to the absolute deadband. Missing both sides yields
// "missing".
func Categorize(raw, pct *float64) string {
	value, threshold := pickMetric(raw, pct)
	if value == nil {
		return CategoryMissing
	}
	switch {
	case math.Abs(*value) < threshold:
		return CategoryNeutral
	case *value > 0:
		return CategoryPositive
	default:
		return CategoryNegative
	}
}

func pickMetric(raw, pct *float64) (*float64, float64) {
	if pct != nil {
		return pct, ShockPercentThreshold
	}
	return raw, ShockAbsThreshold
}
