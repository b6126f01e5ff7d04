// Package uncertainty builds empirical return intervals per event
// population and checks how well the implied probabilities calibrate
// against realized outcomes.
package uncertainty

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"calpulse/internal/alignment"
	"calpulse/internal/errors"
	"calpulse/internal/stats"
)

// Directions for the interval populations.
const (
	DirectionAll = "all"
)

// Scope types.
const (
	ScopeEventName  = "event_name"
	ScopeCurrency   = "currency"
	ScopeImportance = "importance"
)

// Config holds the uncertainty stage parameters.
type Config struct {
	Windows        []int
	Quantiles      []float64
	MinSamples     int
	MinCalibration int
}

// IntervalRow is one empirical interval summary.
type IntervalRow struct {
	Direction  string
	ScopeType  string
	ScopeValue string
	Window     int
	Samples    int

	Mean             float64
	Std              float64
	PositiveSharePct float64
	NegativeSharePct float64
	ZeroSharePct     float64
	AbsMean          float64

	Quantiles map[float64]float64
	// Intervals maps the central-interval level in percent to its
	// lower and upper bound.
	Intervals map[int][2]float64
}

// EventRow is one per-event, per-window prediction.
type EventRow struct {
	EventID   string
	EventTime time.Time
	EventName string
	Currency  string
	Window    int

	Direction      string
	PredictedShare *float64
	PredictedFrom  string
	Return         *float64
	ActualPositive *bool
}

// CalibrationRow compares predicted and realized positive rates for one
// probability bin.
type CalibrationRow struct {
	Window             int
	Bin                string
	Samples            int
	MeanPredicted      float64
	ActualPositiveRate float64
	MeanReturn         float64
}

// Result bundles the stage outputs.
type Result struct {
	Intervals   []IntervalRow
	Events      []EventRow
	Calibration []CalibrationRow
}

// Estimator runs the uncertainty analysis.
type Estimator struct {
	cfg    Config
	logger *slog.Logger
}

// NewEstimator creates an Estimator.
func NewEstimator(cfg Config, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{cfg: cfg, logger: logger}
}

type populationKey struct {
	Direction  string
	ScopeType  string
	ScopeValue string
	Window     int
}

// Estimate builds the interval summaries, event predictions and the
// calibration table.
func (e *Estimator) Estimate(ctx context.Context, events []alignment.Event) (*Result, error) {
	if len(events) == 0 {
		return nil, errors.NewEmpty("uncertainty", "no aligned events")
	}

	samples := map[populationKey][]float64{}
	for i := range events {
		ev := &events[i]
		directions := []string{DirectionAll}
		if ev.SurpriseCategory != "" && ev.SurpriseCategory != alignment.CategoryMissing {
			directions = append(directions, ev.SurpriseCategory)
		}
		scopes := [][2]string{
			{ScopeEventName, ev.EventName},
			{ScopeCurrency, ev.Currency},
			{ScopeImportance, ev.Importance},
		}
		for _, w := range e.cfg.Windows {
			v := ev.ReturnPostAt(w)
			if v == nil {
				continue
			}
			for _, direction := range directions {
				for _, scope := range scopes {
					key := populationKey{direction, scope[0], scope[1], w}
					samples[key] = append(samples[key], *v)
				}
			}
		}
	}

	keys := make([]populationKey, 0, len(samples))
	for key := range samples {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

	result := &Result{}
	summaries := map[populationKey]*IntervalRow{}
	for _, key := range keys {
		values := samples[key]
		if len(values) < e.cfg.MinSamples {
			continue
		}
		row := e.summarize(key, values)
		result.Intervals = append(result.Intervals, row)
		summaries[key] = &result.Intervals[len(result.Intervals)-1]
	}

	result.Events = e.predict(events, summaries)
	result.Calibration = e.calibrate(result.Events)

	e.logger.InfoContext(ctx, "uncertainty estimation complete",
		"interval_rows", len(result.Intervals),
		"event_rows", len(result.Events),
		"calibration_rows", len(result.Calibration))
	return result, nil
}

func (e *Estimator) summarize(key populationKey, values []float64) IntervalRow {
	positive, negative, zero := 0, 0, 0
	absSum := 0.0
	for _, v := range values {
		switch {
		case v > 0:
			positive++
		case v < 0:
			negative++
		default:
			zero++
		}
		absSum += math.Abs(v)
	}
	n := float64(len(values))

	row := IntervalRow{
		Direction:        key.Direction,
		ScopeType:        key.ScopeType,
		ScopeValue:       key.ScopeValue,
		Window:           key.Window,
		Samples:          len(values),
		Mean:             stats.Round(stats.Mean(values), 6),
		Std:              stats.Round(stats.PopulationStd(values), 6),
		PositiveSharePct: stats.Round(float64(positive)/n*100, 4),
		NegativeSharePct: stats.Round(float64(negative)/n*100, 4),
		ZeroSharePct:     stats.Round(float64(zero)/n*100, 4),
		AbsMean:          stats.Round(absSum/n, 6),
		Quantiles:        map[float64]float64{},
		Intervals:        map[int][2]float64{},
	}
	for _, q := range e.cfg.Quantiles {
		row.Quantiles[q] = stats.Round(stats.Quantile(values, q), 6)
	}
	// Central intervals pair each lower-tail quantile with its mirror.
	for _, q := range e.cfg.Quantiles {
		if q >= 0.5 {
			continue
		}
		level := int(math.Round((1 - 2*q) * 100))
		row.Intervals[level] = [2]float64{
			stats.Round(stats.Quantile(values, q), 6),
			stats.Round(stats.Quantile(values, 1-q), 6),
		}
	}
	return row
}

// predict derives the per-event positive-share prediction by walking
// the scopes from most to least specific, preferring the event's own
// surprise direction over the pooled population.
func (e *Estimator) predict(events []alignment.Event, summaries map[populationKey]*IntervalRow) []EventRow {
	var rows []EventRow
	for i := range events {
		ev := &events[i]
		direction := ev.SurpriseCategory
		if direction == "" {
			direction = alignment.CategoryMissing
		}
		for _, w := range e.cfg.Windows {
			v := ev.ReturnPostAt(w)
			row := EventRow{
				EventID:   ev.EventID,
				EventTime: ev.EventTime,
				EventName: ev.EventName,
				Currency:  ev.Currency,
				Window:    w,
				Direction: direction,
				Return:    v,
			}
			if v != nil {
				positive := *v > 0
				row.ActualPositive = &positive
			}
			if summary, from := e.lookup(ev, direction, w, summaries); summary != nil {
				share := summary.PositiveSharePct / 100
				row.PredictedShare = &share
				row.PredictedFrom = from
			}
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].EventTime.Equal(rows[j].EventTime) {
			return rows[i].EventTime.Before(rows[j].EventTime)
		}
		if rows[i].EventID != rows[j].EventID {
			return rows[i].EventID < rows[j].EventID
		}
		return rows[i].Window < rows[j].Window
	})
	return rows
}

func (e *Estimator) lookup(ev *alignment.Event, direction string, window int, summaries map[populationKey]*IntervalRow) (*IntervalRow, string) {
	scopes := [][2]string{
		{ScopeEventName, ev.EventName},
		{ScopeCurrency, ev.Currency},
		{ScopeImportance, ev.Importance},
	}
	for _, scope := range scopes {
		for _, dir := range []string{direction, DirectionAll} {
			key := populationKey{dir, scope[0], scope[1], window}
			if summary, ok := summaries[key]; ok {
				return summary, fmt.Sprintf("%s/%s", dir, scope[0])
			}
		}
	}
	return nil, ""
}

// calibrate groups the predictions into probability bins and compares
// the mean prediction against the realized positive rate.
func (e *Estimator) calibrate(events []EventRow) []CalibrationRow {
	type binKey struct {
		Window int
		Bin    int
	}
	type binAgg struct {
		samples   int
		predicted float64
		positive  int
		returns   float64
	}
	bins := map[binKey]*binAgg{}
	for _, row := range events {
		if row.PredictedShare == nil || row.ActualPositive == nil || row.Return == nil {
			continue
		}
		key := binKey{Window: row.Window, Bin: binIndex(*row.PredictedShare)}
		agg := bins[key]
		if agg == nil {
			agg = &binAgg{}
			bins[key] = agg
		}
		agg.samples++
		agg.predicted += *row.PredictedShare
		agg.returns += *row.Return
		if *row.ActualPositive {
			agg.positive++
		}
	}

	keys := make([]binKey, 0, len(bins))
	for key := range bins {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Window != keys[j].Window {
			return keys[i].Window < keys[j].Window
		}
		return keys[i].Bin < keys[j].Bin
	})

	var rows []CalibrationRow
	for _, key := range keys {
		agg := bins[key]
		if agg.samples < e.cfg.MinCalibration {
			continue
		}
		n := float64(agg.samples)
		rows = append(rows, CalibrationRow{
			Window:             key.Window,
			Bin:                binLabel(key.Bin),
			Samples:            agg.samples,
			MeanPredicted:      stats.Round(agg.predicted/n, 6),
			ActualPositiveRate: stats.Round(float64(agg.positive)/n, 6),
			MeanReturn:         stats.Round(agg.returns/n, 6),
		})
	}
	return rows
}

// binIndex places a probability in one of ten right-open bins, with
// 1.0 folded into the last one.
func binIndex(p float64) int {
	idx := int(math.Floor(p * 10))
	if idx < 0 {
		idx = 0
	}
	if idx > 9 {
		idx = 9
	}
	return idx
}

func binLabel(idx int) string {
	return fmt.Sprintf("[%.1f,%.1f)", float64(idx)/10, float64(idx+1)/10)
}

func lessKey(a, b populationKey) bool {
	if a.Direction != b.Direction {
		return a.Direction < b.Direction
	}
	if a.ScopeType != b.ScopeType {
		return a.ScopeType < b.ScopeType
	}
	if a.ScopeValue != b.ScopeValue {
		return a.ScopeValue < b.ScopeValue
	}
	return a.Window < b.Window
}
