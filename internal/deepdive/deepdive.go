// Package deepdive builds per-event-name response heatmaps, quantile
// threshold tables and follow-up flags from the aligned dataset.
package deepdive

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"calpulse/internal/alignment"
	"calpulse/internal/errors"
	"calpulse/internal/stats"
)

// Config holds the deep dive stage parameters.
type Config struct {
	Quantiles     []float64
	FlagQuantile  float64
	PreWindows    []int
	PostWindows   []int
	MediumWindows []int
}

// MetricSummary is one heatmap cell group.
type MetricSummary struct {
	Name          string
	SampleSize    int
	Mean          float64
	Median        float64
	PositiveShare float64
}

// HeatmapRow summarizes one (event_name, currency) pair.
type HeatmapRow struct {
	EventName        string
	Currency         string
	EventCount       int
	ImportanceLevels string
	Metrics          []MetricSummary
}

// ThresholdRow is one (metric, direction, quantile) threshold.
type ThresholdRow struct {
	Metric     string
	Stage      string
	Window     int
	Direction  string
	Quantile   float64
	Upper      float64
	Lower      float64
	Abs        float64
	SampleSize int
	Mean       float64
	Std        float64
	AbsMean    float64
}

// FlagRow carries the follow-up decision for one event.
type FlagRow struct {
	EventID          string
	EventTime        time.Time
	EventName        string
	Currency         string
	Importance       string
	Direction        string
	FlagStageC       bool
	FlagStageD       bool
	FlagNewsReview   bool
	RequiresFollowUp bool
	StageCReasons    []string
	StageDReasons    []string
}

// Result bundles the stage outputs.
type Result struct {
	Heatmap    []HeatmapRow
	Thresholds []ThresholdRow
	Flags      []FlagRow
}

// Aggregator computes the deep dive artifacts.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

// metricRef names one return column and how to read it off an event.
type metricRef struct {
	name   string
	stage  string
	window int
	value  func(*alignment.Event) *float64
}

func (a *Aggregator) metrics() []metricRef {
	var refs []metricRef
	for _, w := range a.cfg.PreWindows {
		w := w
		refs = append(refs, metricRef{
			name:   fmt.Sprintf("return_pre_%d_pct", w),
			stage:  "pre",
			window: w,
			value:  func(e *alignment.Event) *float64 { return e.ReturnPreAt(w) },
		})
	}
	refs = append(refs, metricRef{
		name:  "return_at_pct",
		stage: "at",
		value: func(e *alignment.Event) *float64 { return e.ReturnAt },
	})
	for _, w := range a.cfg.PostWindows {
		w := w
		refs = append(refs, metricRef{
			name:   fmt.Sprintf("return_post_%d_pct", w),
			stage:  "post",
			window: w,
			value:  func(e *alignment.Event) *float64 { return e.ReturnPostAt(w) },
		})
	}
	return refs
}

// Aggregate computes the heatmap, thresholds and flags.
func (a *Aggregator) Aggregate(ctx context.Context, events []alignment.Event) (*Result, error) {
	if len(events) == 0 {
		return nil, errors.NewEmpty("deepdive", "no aligned events")
	}

	refs := a.metrics()
	result := &Result{
		Heatmap:    a.buildHeatmap(events, refs),
		Thresholds: a.buildThresholds(events, refs),
	}
	result.Flags = a.buildFlags(events, refs, result.Thresholds)

	a.logger.InfoContext(ctx, "deep dive complete",
		"heatmap_rows", len(result.Heatmap),
		"threshold_rows", len(result.Thresholds),
		"flagged", countFollowUps(result.Flags))
	return result, nil
}

func countFollowUps(flags []FlagRow) int {
	n := 0
	for _, f := range flags {
		if f.RequiresFollowUp {
			n++
		}
	}
	return n
}

func (a *Aggregator) buildHeatmap(events []alignment.Event, refs []metricRef) []HeatmapRow {
	type key struct{ name, currency string }
	groups := make(map[key][]*alignment.Event)
	for i := range events {
		k := key{events[i].EventName, events[i].Currency}
		groups[k] = append(groups[k], &events[i])
	}

	rows := make([]HeatmapRow, 0, len(groups))
	for k, members := range groups {
		importance := map[string]struct{}{}
		for _, e := range members {
			if e.Importance != "" {
				importance[e.Importance] = struct{}{}
			}
		}
		levels := make([]string, 0, len(importance))
		for imp := range importance {
			levels = append(levels, imp)
		}
		sort.Strings(levels)

		row := HeatmapRow{
			EventName:        k.name,
			Currency:         k.currency,
			EventCount:       len(members),
			ImportanceLevels: strings.Join(levels, ";"),
		}
		for _, ref := range refs {
			values := collect(members, ref.value)
			if len(values) == 0 {
				continue
			}
			row.Metrics = append(row.Metrics, MetricSummary{
				Name:          ref.name,
				SampleSize:    len(values),
				Mean:          stats.Round(stats.Mean(values), 6),
				Median:        stats.Round(stats.Median(values), 6),
				PositiveShare: stats.Round(stats.PositiveShare(values), 6),
			})
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Currency != rows[j].Currency {
			return rows[i].Currency < rows[j].Currency
		}
		if rows[i].EventCount != rows[j].EventCount {
			return rows[i].EventCount > rows[j].EventCount
		}
		return rows[i].EventName < rows[j].EventName
	})
	return rows
}

func (a *Aggregator) buildThresholds(events []alignment.Event, refs []metricRef) []ThresholdRow {
	quantiles := mergeQuantiles(a.cfg.Quantiles, a.cfg.FlagQuantile)
	directions := observedDirections(events)

	var rows []ThresholdRow
	for _, ref := range refs {
		for _, direction := range directions {
			values := collectDirection(events, ref.value, direction)
			if len(values) == 0 {
				continue
			}
			absValues := stats.Abs(values)
			mean := stats.Round(stats.Mean(values), 6)
			std := stats.Round(stats.PopulationStd(values), 6)
			absMean := stats.Round(stats.Mean(absValues), 6)
			for _, q := range quantiles {
				rows = append(rows, ThresholdRow{
					Metric:     ref.name,
					Stage:      ref.stage,
					Window:     ref.window,
					Direction:  direction,
					Quantile:   q,
					Upper:      stats.Round(stats.Quantile(values, q), 6),
					Lower:      stats.Round(stats.Quantile(values, 1-q), 6),
					Abs:        stats.Round(stats.Quantile(absValues, q), 6),
					SampleSize: len(values),
					Mean:       mean,
					Std:        std,
					AbsMean:    absMean,
				})
			}
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Window != b.Window {
			return a.Window < b.Window
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.Quantile < b.Quantile
	})
	return rows
}

// thresholdKey addresses the abs threshold for a flag lookup.
type thresholdKey struct {
	metric    string
	quantile  float64
	direction string
}

func (a *Aggregator) buildFlags(events []alignment.Event, refs []metricRef, thresholds []ThresholdRow) []FlagRow {
	byKey := make(map[thresholdKey]ThresholdRow, len(thresholds))
	for _, t := range thresholds {
		byKey[thresholdKey{t.Metric, t.Quantile, t.Direction}] = t
	}
	lookup := func(metric, direction string) (ThresholdRow, bool) {
		if t, ok := byKey[thresholdKey{metric, a.cfg.FlagQuantile, direction}]; ok {
			return t, true
		}
		t, ok := byKey[thresholdKey{metric, a.cfg.FlagQuantile, "all"}]
		return t, ok
	}

	reviewWindows := a.reviewWindows()

	flags := make([]FlagRow, 0, len(events))
	for i := range events {
		e := &events[i]
		row := FlagRow{
			EventID:    e.EventID,
			EventTime:  e.EventTime,
			EventName:  e.EventName,
			Currency:   e.Currency,
			Importance: e.Importance,
			Direction:  flagDirection(e.SurpriseCategory),
		}

		for _, ref := range refs {
			value := ref.value(e)
			if value == nil {
				continue
			}
			threshold, ok := lookup(ref.name, row.Direction)
			if !ok {
				continue
			}
			// Boundary inclusive on the absolute quantile.
			if math.Abs(*value) < threshold.Abs {
				continue
			}
			reason := flagReason(ref, *value, threshold)
			switch ref.stage {
			case "post":
				row.FlagStageC = true
				row.StageCReasons = append(row.StageCReasons, reason)
			case "pre":
				row.FlagStageD = true
				row.StageDReasons = append(row.StageDReasons, reason)
			}
		}

		if reason, triggered := a.newsReviewFlag(e, reviewWindows, lookup); triggered {
			row.FlagNewsReview = true
			row.FlagStageD = true
			row.StageDReasons = append(row.StageDReasons, reason)
		}

		row.RequiresFollowUp = row.FlagStageC || row.FlagStageD
		flags = append(flags, row)
	}

	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].RequiresFollowUp != flags[j].RequiresFollowUp {
			return flags[i].RequiresFollowUp
		}
		return flags[i].EventTime.Before(flags[j].EventTime)
	})
	return flags
}

// reviewWindows is the post-window set scanned for the "large move with
// a small surprise" check.
func (a *Aggregator) reviewWindows() []int {
	seen := map[int]struct{}{60: {}, 120: {}, 240: {}, 1440: {}}
	for _, w := range a.cfg.MediumWindows {
		seen[w] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

// newsReviewFlag triggers when the surprise is inside the deadband yet
// some post window still moved at least as much as the post_60 abs
// threshold. With no post_60 threshold for the direction the event's own
// max move is the comparison bound, which always triggers; this mirrors
// the historical behavior.
func (a *Aggregator) newsReviewFlag(e *alignment.Event, windows []int, lookup func(metric, direction string) (ThresholdRow, bool)) (string, bool) {
	if e.SurprisePct == nil || math.Abs(*e.SurprisePct) >= alignment.ShockPercentThreshold {
		return "", false
	}

	maxPost := math.Inf(-1)
	found := false
	for _, w := range windows {
		if v := e.ReturnPostAt(w); v != nil {
			if abs := math.Abs(*v); abs > maxPost {
				maxPost = abs
				found = true
			}
		}
	}
	if !found {
		return "", false
	}

	bound := maxPost
	if t, ok := lookup("return_post_60_pct", flagDirection(e.SurpriseCategory)); ok {
		bound = t.Abs
	}
	if maxPost < bound {
		return "", false
	}
	return "large post-event move with limited surprise_pct (requires news review)", true
}

func flagDirection(surpriseCategory string) string {
	switch surpriseCategory {
	case alignment.CategoryPositive, alignment.CategoryNegative, alignment.CategoryNeutral:
		return surpriseCategory
	default:
		return "all"
	}
}

func flagReason(ref metricRef, value float64, threshold ThresholdRow) string {
	direction := "up"
	if value < 0 {
		direction = "down"
	}
	label := ref.name
	switch ref.stage {
	case "pre":
		label = fmt.Sprintf("pre_%d", ref.window)
	case "post":
		label = fmt.Sprintf("post_%d", ref.window)
	case "at":
		label = "at"
	}
	return fmt.Sprintf("%s %s %.4f%% >= abs_q%d[%s](%.4f%%)",
		label, direction, math.Abs(value), int(math.Round(threshold.Quantile*100)), threshold.Direction, threshold.Abs)
}

func mergeQuantiles(quantiles []float64, flagQuantile float64) []float64 {
	seen := map[float64]struct{}{}
	var out []float64
	for _, q := range append(append([]float64{}, quantiles...), flagQuantile) {
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	sort.Float64s(out)
	return out
}

// observedDirections returns "all" plus every surprise category present.
func observedDirections(events []alignment.Event) []string {
	seen := map[string]struct{}{}
	for i := range events {
		d := events[i].SurpriseCategory
		if d == alignment.CategoryPositive || d == alignment.CategoryNegative || d == alignment.CategoryNeutral {
			seen[d] = struct{}{}
		}
	}
	out := []string{"all"}
	for _, d := range []string{alignment.CategoryNegative, alignment.CategoryNeutral, alignment.CategoryPositive} {
		if _, ok := seen[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

func collect(events []*alignment.Event, value func(*alignment.Event) *float64) []float64 {
	var out []float64
	for _, e := range events {
		if v := value(e); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func collectDirection(events []alignment.Event, value func(*alignment.Event) *float64, direction string) []float64 {
	var out []float64
	for i := range events {
		e := &events[i]
		if direction != "all" && e.SurpriseCategory != direction {
			continue
		}
		if v := value(e); v != nil {
			out = append(out, *v)
		}
	}
	return out
}
