// Package trend canonicalizes indicator names and derives monthly
// trend statistics, seasonality and cross-indicator correlations.
package trend

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"calpulse/internal/alignment"
	"calpulse/internal/errors"
	"calpulse/internal/stats"
)

// Rolling window sizes, in months.
var rollingWindows = []int{3, 6, 12}

const (
	yoyLag              = 12
	minCorrelationPairs = 3
	minSharedPeriods    = 6
	maxCorrelationRows  = 50
)

// Config holds the trend stage parameters.
type Config struct {
	MinMonthlyRows          int
	MinEventsForCorrelation int
}

// MonthlyRow is one indicator-month aggregate.
type MonthlyRow struct {
	Currency  string
	Indicator string
	Year      int
	Month     time.Month
	Events    int

	MeanActual      *float64
	MeanForecast    *float64
	MeanPrevious    *float64
	MeanSurprise    *float64
	MeanSurprisePct *float64
	MeanRevision    *float64
	MeanRevisionPct *float64
	MeanPost60      *float64
	MeanPost240     *float64

	// Rolling statistics of the monthly mean surprise percent.
	RollMean map[int]*float64
	RollStd  map[int]*float64
	YoYDiff  *float64
}

// IndicatorRow summarizes one indicator series.
type IndicatorRow struct {
	Currency  string
	Indicator string
	Months    int
	Events    int

	SeasonalityStrength *float64
	TrendSlopeMean      *float64
	Lag1Autocorr        *float64
	CorrSurprisePost60  *float64
	CorrSurprisePost240 *float64
}

// CorrelationRow is one cross-indicator correlation pair.
type CorrelationRow struct {
	IndicatorA    string
	IndicatorB    string
	SharedPeriods int
	Correlation   float64
}

// Result bundles the stage outputs.
type Result struct {
	Monthly      []MonthlyRow
	Indicators   []IndicatorRow
	Correlations []CorrelationRow
	AutoAliases  []AutoAlias
	Suggestions  []Suggestion
}

// Analyzer runs the trend stage.
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

type seriesKey struct {
	Currency  string
	Indicator string
}

// Analyze canonicalizes names and derives the monthly statistics.
// manualAliases may be nil.
func (a *Analyzer) Analyze(ctx context.Context, events []alignment.Event, manualAliases map[string]string) (*Result, error) {
	if len(events) == 0 {
		return nil, errors.NewEmpty("trend", "no aligned events")
	}

	counts := map[string]int{}
	for i := range events {
		counts[events[i].EventName]++
	}
	canon := NewCanonicalizer(counts, manualAliases)

	groups := map[seriesKey][]*alignment.Event{}
	for i := range events {
		e := &events[i]
		key := seriesKey{Currency: e.Currency, Indicator: canon.Resolve(e.EventName)}
		groups[key] = append(groups[key], e)
	}
	keys := make([]seriesKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Currency != keys[j].Currency {
			return keys[i].Currency < keys[j].Currency
		}
		return keys[i].Indicator < keys[j].Indicator
	})

	result := &Result{
		AutoAliases: canon.AutoAliases,
		Suggestions: canon.Suggestions,
	}
	surpriseSeries := map[seriesKey]map[int]float64{}

	for _, key := range keys {
		members := groups[key]
		monthly := buildMonthly(key, members)
		result.Monthly = append(result.Monthly, monthly...)

		if len(monthly) >= a.cfg.MinMonthlyRows {
			result.Indicators = append(result.Indicators, summarizeIndicator(key, members, monthly))
		}

		if len(members) >= a.cfg.MinEventsForCorrelation {
			series := map[int]float64{}
			for _, row := range monthly {
				if row.MeanSurprisePct != nil {
					series[row.Year*12+int(row.Month)-1] = *row.MeanSurprisePct
				}
			}
			if len(series) > 0 && !zeroStd(series) {
				surpriseSeries[key] = series
			}
		}
	}

	result.Correlations = correlate(surpriseSeries)

	a.logger.InfoContext(ctx, "trend analysis complete",
		"indicators", len(result.Indicators),
		"monthly_rows", len(result.Monthly),
		"correlation_pairs", len(result.Correlations),
		"auto_aliases", len(result.AutoAliases),
		"suggestions", len(result.Suggestions))
	return result, nil
}

func buildMonthly(key seriesKey, members []*alignment.Event) []MonthlyRow {
	type bucket struct {
		events                                  int
		actual, forecast, previous              []float64
		surprise, surprisePct                   []float64
		revision, revisionPct, post60, post240  []float64
	}
	buckets := map[int]*bucket{}
	for _, e := range members {
		period := e.EventTime.Year()*12 + int(e.EventTime.Month()) - 1
		b := buckets[period]
		if b == nil {
			b = &bucket{}
			buckets[period] = b
		}
		b.events++
		appendVal(&b.actual, e.Actual)
		appendVal(&b.forecast, e.Forecast)
		appendVal(&b.previous, e.Previous)
		appendVal(&b.surprise, e.Surprise)
		appendVal(&b.surprisePct, e.SurprisePct)
		appendVal(&b.revision, e.Revision)
		appendVal(&b.revisionPct, e.RevisionPct)
		appendVal(&b.post60, e.ReturnPostAt(60))
		appendVal(&b.post240, e.ReturnPostAt(240))
	}

	periods := make([]int, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Ints(periods)

	rows := make([]MonthlyRow, 0, len(periods))
	for _, p := range periods {
		b := buckets[p]
		rows = append(rows, MonthlyRow{
			Currency:        key.Currency,
			Indicator:       key.Indicator,
			Year:            p / 12,
			Month:           time.Month(p%12 + 1),
			Events:          b.events,
			MeanActual:      meanOf(b.actual),
			MeanForecast:    meanOf(b.forecast),
			MeanPrevious:    meanOf(b.previous),
			MeanSurprise:    meanOf(b.surprise),
			MeanSurprisePct: meanOf(b.surprisePct),
			MeanRevision:    meanOf(b.revision),
			MeanRevisionPct: meanOf(b.revisionPct),
			MeanPost60:      meanOf(b.post60),
			MeanPost240:     meanOf(b.post240),
			RollMean:        map[int]*float64{},
			RollStd:         map[int]*float64{},
		})
	}

	// Rolling statistics run over the consecutive monthly rows. Means
	// need a single period, standard deviations two.
	for i := range rows {
		for _, w := range rollingWindows {
			lo := i - w + 1
			if lo < 0 {
				lo = 0
			}
			var window []float64
			for j := lo; j <= i; j++ {
				if rows[j].MeanSurprisePct != nil {
					window = append(window, *rows[j].MeanSurprisePct)
				}
			}
			if len(window) >= 1 {
				m := stats.Round(stats.Mean(window), 6)
				rows[i].RollMean[w] = &m
			}
			if len(window) >= 2 {
				s := stats.Round(stats.SampleStd(window), 6)
				rows[i].RollStd[w] = &s
			}
		}
		if i >= yoyLag && rows[i].MeanSurprisePct != nil && rows[i-yoyLag].MeanSurprisePct != nil {
			d := stats.Round(*rows[i].MeanSurprisePct-*rows[i-yoyLag].MeanSurprisePct, 6)
			rows[i].YoYDiff = &d
		}
	}
	return rows
}

func summarizeIndicator(key seriesKey, members []*alignment.Event, monthly []MonthlyRow) IndicatorRow {
	row := IndicatorRow{
		Currency:  key.Currency,
		Indicator: key.Indicator,
		Months:    len(monthly),
		Events:    len(members),
	}

	var values []float64
	byMonth := map[time.Month][]float64{}
	byYear := map[int][]float64{}
	for _, m := range monthly {
		if m.MeanSurprisePct == nil {
			continue
		}
		values = append(values, *m.MeanSurprisePct)
		byMonth[m.Month] = append(byMonth[m.Month], *m.MeanSurprisePct)
		byYear[m.Year] = append(byYear[m.Year], *m.MeanSurprisePct)
	}

	if overall := stats.PopulationStd(values); overall > 0 {
		var monthMeans []float64
		for _, vs := range byMonth {
			monthMeans = append(monthMeans, stats.Mean(vs))
		}
		s := stats.Round(stats.PopulationStd(monthMeans)/overall, 6)
		row.SeasonalityStrength = &s
	}

	var slopes []float64
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		if slope, ok := leastSquaresSlope(byYear[y]); ok {
			slopes = append(slopes, slope)
		}
	}
	if len(slopes) > 0 {
		m := stats.Round(stats.Mean(slopes), 6)
		row.TrendSlopeMean = &m
	}

	if len(values) >= 3 {
		if ac := stats.Pearson(values[:len(values)-1], values[1:]); !math.IsNaN(ac) {
			v := stats.Round(ac, 6)
			row.Lag1Autocorr = &v
		}
	}

	row.CorrSurprisePost60 = eventCorrelation(members, 60)
	row.CorrSurprisePost240 = eventCorrelation(members, 240)
	return row
}

// eventCorrelation correlates the event-level surprise against the post
// return for one window.
func eventCorrelation(members []*alignment.Event, window int) *float64 {
	var xs, ys []float64
	for _, e := range members {
		post := e.ReturnPostAt(window)
		if e.SurprisePct == nil || post == nil {
			continue
		}
		xs = append(xs, *e.SurprisePct)
		ys = append(ys, *post)
	}
	if len(xs) < minCorrelationPairs {
		return nil
	}
	c := stats.Pearson(xs, ys)
	if math.IsNaN(c) {
		return nil
	}
	v := stats.Round(c, 6)
	return &v
}

func correlate(series map[seriesKey]map[int]float64) []CorrelationRow {
	keys := make([]seriesKey, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Currency != keys[j].Currency {
			return keys[i].Currency < keys[j].Currency
		}
		return keys[i].Indicator < keys[j].Indicator
	})

	var rows []CorrelationRow
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			a, b := series[keys[i]], series[keys[j]]
			var xs, ys []float64
			periods := make([]int, 0, len(a))
			for p := range a {
				if _, ok := b[p]; ok {
					periods = append(periods, p)
				}
			}
			if len(periods) < minSharedPeriods {
				continue
			}
			sort.Ints(periods)
			for _, p := range periods {
				xs = append(xs, a[p])
				ys = append(ys, b[p])
			}
			c := stats.Pearson(xs, ys)
			if math.IsNaN(c) {
				continue
			}
			rows = append(rows, CorrelationRow{
				IndicatorA:    keys[i].Currency + "|" + keys[i].Indicator,
				IndicatorB:    keys[j].Currency + "|" + keys[j].Indicator,
				SharedPeriods: len(periods),
				Correlation:   stats.Round(c, 6),
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		ai, aj := math.Abs(rows[i].Correlation), math.Abs(rows[j].Correlation)
		if ai != aj {
			return ai > aj
		}
		if rows[i].IndicatorA != rows[j].IndicatorA {
			return rows[i].IndicatorA < rows[j].IndicatorA
		}
		return rows[i].IndicatorB < rows[j].IndicatorB
	})
	if len(rows) > maxCorrelationRows {
		rows = rows[:maxCorrelationRows]
	}
	return rows
}

func leastSquaresSlope(values []float64) (float64, bool) {
	n := len(values)
	if n < 2 {
		return 0, false
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := float64(n)*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (float64(n)*sumXY - sumX*sumY) / denom, true
}

func zeroStd(series map[int]float64) bool {
	values := make([]float64, 0, len(series))
	for _, v := range series {
		values = append(values, v)
	}
	return stats.PopulationStd(values) == 0
}

func appendVal(dst *[]float64, v *float64) {
	if v != nil {
		*dst = append(*dst, *v)
	}
}

func meanOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := stats.Round(stats.Mean(values), 6)
	return &m
}
