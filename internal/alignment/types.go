// Package alignment collapses the merged minute dataset into one summary
// row per event. Its output is the canonical dataset every later stage
// reads.
package alignment

import (
	"time"

	"calpulse/internal/merge"
)

// Numeric guards shared by the categorization and normalization logic.
const (
	// Epsilon is the smallest denominator magnitude accepted for
	// relative percentages.
	Epsilon = 1e-6
	// ShockPercentThreshold is the near-zero deadband, in percent, used
	// when a percentage form of a metric is available.
	ShockPercentThreshold = 0.25
	// ShockAbsThreshold is the deadband applied to raw values when no
	// percentage form exists.
	ShockAbsThreshold = 1e-6
)

// Direction category labels.
const (
	CategoryPositive = "positive"
	CategoryNegative = "negative"
	CategoryNeutral  = "neutral"
	CategoryMissing  = "missing"
)

// Event is one aligned event summary. Window-keyed maps hold one entry
// per configured window; nil values mean the metric could not be
// computed from the available minutes.
type Event struct {
	EventID    string
	EventTime  time.Time
	EventName  string
	Currency   string
	Importance string

	Actual    *float64
	Forecast  *float64
	Previous  *float64
	IsPercent bool

	ClosePre  map[int]*float64
	ClosePost map[int]*float64

	ReturnPre  map[int]*float64
	ReturnPost map[int]*float64

	VolatilityPre  map[int]*float64
	VolatilityPost map[int]*float64

	MinutesPre  map[int]int
	MinutesPost map[int]int

	VolumePre  map[int]*float64
	VolumePost map[int]*float64

	ReturnAt     *float64
	ReturnAtAbs  *float64
	VolatilityAt *float64

	Surprise                 *float64
	SurprisePct              *float64
	Revision                 *float64
	RevisionPct              *float64
	ForecastMinusPrevious    *float64
	ForecastMinusPreviousPct *float64

	SurpriseCategory           string
	RevisionCategory           string
	ForecastVsPreviousCategory string
	Scenario                   string

	ReturnAtPerSurprise   *float64
	ReturnPostPerSurprise map[int]*float64

	Joint       merge.JointMeta
	JointShared bool

	ReturnAtShare   *float64
	ReturnPostShare map[int]*float64
}

// Config holds the alignment stage parameters.
type Config struct {
	// Windows are the offsets, in minutes, summarized on both sides of
	// the event. The configured pre/post spans are merged in.
	Windows           []int
	PreWindowMinutes  int
	PostWindowMinutes int
}

// ReturnPostAt returns the post return for a window, nil when absent.
func (e *Event) ReturnPostAt(window int) *float64 {
	if e.ReturnPost == nil {
		return nil
	}
	return e.ReturnPost[window]
}

// ReturnPreAt returns the pre return for a window, nil when absent.
func (e *Event) ReturnPreAt(window int) *float64 {
	if e.ReturnPre == nil {
		return nil
	}
	return e.ReturnPre[window]
}
