// Package pathdep tracks consecutive-surprise streaks per indicator
// series and their price-reaction correlates.
package pathdep

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"calpulse/internal/alignment"
	"calpulse/internal/decompose"
	"calpulse/internal/stats"
)

// Streak states.
const (
	StateBaseline = "baseline"
	StateMomentum = "momentum"
	StateFatigue  = "fatigue"
	StateNeutral  = "neutral"
	StateMissing  = "missing"
)

// Config holds the path dependency stage parameters.
type Config struct {
	MinEvents int
}

// Row is one event with its streak context.
type Row struct {
	EventID       string
	EventTime     time.Time
	EventName     string
	Currency      string
	BaseIndicator string
	FrequencyTag  string
	CoreCategory  string

	SurprisePct       *float64
	SurpriseDirection string
	StreakState       string
	StreakDirection   string
	StreakLength      int
	StreakBucket      string

	ReturnAt   *float64
	ReturnPost60  *float64
	ReturnPost240 *float64

	PrevEventTime   *time.Time
	PrevDirection   string
	PrevSurprisePct *float64
	PrevReturnPost60 *float64
}

// SummaryRow aggregates the directional streak states.
type SummaryRow struct {
	Currency        string
	BaseIndicator   string
	FrequencyTag    string
	CoreCategory    string
	StreakState     string
	StreakDirection string
	StreakBucket    string

	EventCount        int
	SurpriseMean      float64
	ReturnAtMean      float64
	ReturnPost60Mean  float64
	ReturnPost240Mean float64
	Post60PositiveShare  float64
	Post240PositiveShare float64
}

// Result bundles the stage outputs.
type Result struct {
	Detail  []Row
	Summary []SummaryRow
}

// Analyzer walks each indicator series chronologically.
type Analyzer struct {
	cfg    Config
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// direction classifies the surprise of one event for streak purposes.
func direction(surprisePct *float64) string {
	if surprisePct == nil {
		return StateMissing
	}
	if math.Abs(*surprisePct) < alignment.ShockPercentThreshold {
		return StateNeutral
	}
	if *surprisePct > 0 {
		return alignment.CategoryPositive
	}
	return alignment.CategoryNegative
}

// Analyze runs the streak machine per (currency, base_indicator) series
// and aggregates the directional states.
func (a *Analyzer) Analyze(ctx context.Context, events []alignment.Event) (*Result, error) {
	type seriesKey struct{ currency, indicator string }
	series := make(map[seriesKey][]*alignment.Event)
	class := make(map[string]decompose.Classification, len(events))
	for i := range events {
		e := &events[i]
		c := Classify(e)
		class[e.EventID] = c
		k := seriesKey{e.Currency, c.BaseIndicator}
		series[k] = append(series[k], e)
	}

	keys := make([]seriesKey, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].currency != keys[j].currency {
			return keys[i].currency < keys[j].currency
		}
		return keys[i].indicator < keys[j].indicator
	})

	result := &Result{}
	for _, k := range keys {
		members := series[k]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].EventTime.Before(members[j].EventTime)
		})
		result.Detail = append(result.Detail, a.walkSeries(members, class)...)
	}

	result.Summary = a.summarize(result.Detail)

	a.logger.InfoContext(ctx, "path dependency complete",
		"series", len(series),
		"rows", len(result.Detail),
		"summary_rows", len(result.Summary))
	return result, nil
}

// walkSeries applies the streak transitions over one ordered series.
func (a *Analyzer) walkSeries(members []*alignment.Event, class map[string]decompose.Classification) []Row {
	rows := make([]Row, 0, len(members))

	var lastDirection string // "", positive, negative, neutral
	lastLength := 0
	var prev *Row

	for _, e := range members {
		c := class[e.EventID]
		dir := direction(e.SurprisePct)
		row := Row{
			EventID:       e.EventID,
			EventTime:     e.EventTime,
			EventName:     e.EventName,
			Currency:      e.Currency,
			BaseIndicator: c.BaseIndicator,
			FrequencyTag:  c.FrequencyTag,
			CoreCategory:  c.CoreCategory,

			SurprisePct:       e.SurprisePct,
			SurpriseDirection: dir,

			ReturnAt:      e.ReturnAt,
			ReturnPost60:  e.ReturnPostAt(60),
			ReturnPost240: e.ReturnPostAt(240),
		}
		if prev != nil {
			t := prev.EventTime
			row.PrevEventTime = &t
			row.PrevDirection = prev.SurpriseDirection
			row.PrevSurprisePct = prev.SurprisePct
			row.PrevReturnPost60 = prev.ReturnPost60
		}

		switch dir {
		case StateMissing:
			row.StreakState = StateMissing
			row.StreakDirection = ""
			row.StreakLength = 0
			lastDirection = ""
			lastLength = 0
		case StateNeutral:
			row.StreakState = StateNeutral
			row.StreakDirection = ""
			row.StreakLength = 0
			lastDirection = StateNeutral
			lastLength = 0
		default:
			switch lastDirection {
			case "", StateNeutral:
				row.StreakState = StateBaseline
				row.StreakLength = 1
			case dir:
				row.StreakState = StateMomentum
				row.StreakLength = lastLength + 1
			default:
				row.StreakState = StateFatigue
				row.StreakLength = 1
			}
			row.StreakDirection = dir
			lastDirection = dir
			lastLength = row.StreakLength
		}
		row.StreakBucket = bucket(row.StreakLength)

		rows = append(rows, row)
		prev = &rows[len(rows)-1]
	}
	return rows
}

func bucket(length int) string {
	switch {
	case length <= 0:
		return "0"
	case length == 1:
		return "1"
	case length == 2:
		return "2"
	default:
		return "3+"
	}
}

type summaryKey struct {
	currency, indicator, frequency, core string
	state, direction, bucket             string
}

func (a *Analyzer) summarize(rows []Row) []SummaryRow {
	groups := make(map[summaryKey][]*Row)
	for i := range rows {
		r := &rows[i]
		switch r.StreakState {
		case StateBaseline, StateMomentum, StateFatigue:
		default:
			continue
		}
		k := summaryKey{
			currency: r.Currency, indicator: r.BaseIndicator,
			frequency: r.FrequencyTag, core: r.CoreCategory,
			state: r.StreakState, direction: r.StreakDirection, bucket: r.StreakBucket,
		}
		groups[k] = append(groups[k], r)
	}

	var out []SummaryRow
	for k, members := range groups {
		if len(members) < a.cfg.MinEvents {
			continue
		}
		var surprise, at, p60, p240 []float64
		for _, r := range members {
			if r.SurprisePct != nil {
				surprise = append(surprise, *r.SurprisePct)
			}
			if r.ReturnAt != nil {
				at = append(at, *r.ReturnAt)
			}
			if r.ReturnPost60 != nil {
				p60 = append(p60, *r.ReturnPost60)
			}
			if r.ReturnPost240 != nil {
				p240 = append(p240, *r.ReturnPost240)
			}
		}
		out = append(out, SummaryRow{
			Currency: k.currency, BaseIndicator: k.indicator,
			FrequencyTag: k.frequency, CoreCategory: k.core,
			StreakState: k.state, StreakDirection: k.direction, StreakBucket: k.bucket,
			EventCount:           len(members),
			SurpriseMean:         stats.Round(stats.Mean(surprise), 6),
			ReturnAtMean:         stats.Round(stats.Mean(at), 6),
			ReturnPost60Mean:     stats.Round(stats.Mean(p60), 6),
			ReturnPost240Mean:    stats.Round(stats.Mean(p240), 6),
			Post60PositiveShare:  stats.Round(stats.PositiveShare(p60), 4),
			Post240PositiveShare: stats.Round(stats.PositiveShare(p240), 4),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Currency != b.Currency {
			return a.Currency < b.Currency
		}
		if a.BaseIndicator != b.BaseIndicator {
			return a.BaseIndicator < b.BaseIndicator
		}
		if a.StreakState != b.StreakState {
			return a.StreakState < b.StreakState
		}
		if a.StreakDirection != b.StreakDirection {
			return a.StreakDirection < b.StreakDirection
		}
		return a.StreakBucket < b.StreakBucket
	})
	return out
}

// Classify resolves the decomposition of one event.
func Classify(e *alignment.Event) decompose.Classification {
	return decompose.Classify(e.EventName)
}
