// Package preheat flags abnormal pre-event price, volatility and volume
// behavior against historical quantiles, surfacing potential information
// leakage ahead of releases.
package preheat

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

// Metric types.
const (
	TypePrice      = "price"
	TypeVolatility = "volatility"
	TypeVolume     = "volume"
)

// Config holds the preheat stage parameters.
type Config struct {
	PreWindows      []int
	VolumeBaselines []int
	Quantiles       []float64
	FlagQuantile    float64
}

// metricDef names one monitored metric.
type metricDef struct {
	name       string
	metricType string
	window     int
	baseline   int // 0 for non-ratio metrics
}

// ThresholdRow is one (metric, quantile) threshold.
type ThresholdRow struct {
	Metric     string
	MetricType string
	Window     int
	Baseline   int
	Quantile   float64
	Threshold  float64
	SampleSize int
	Mean       float64
	Std        float64
}

// EventRow carries the per-event metrics and flags.
type EventRow struct {
	EventID    string
	EventTime  time.Time
	EventName  string
	Currency   string
	Importance string

	Metrics map[string]*float64
	Flags   map[string]bool

	FlagPrice      bool
	FlagVolatility bool
	FlagVolume     bool
	RequiresReview bool
	Reasons        []string
}

// SummaryRow rolls flags up per event name.
type SummaryRow struct {
	EventName       string
	Total           int
	PriceFlagged    int
	VolatilityFlagged int
	VolumeFlagged   int
	Flagged         int
	FlaggedShare    float64
}

// Result bundles the stage outputs.
type Result struct {
	Events     []EventRow
	Thresholds []ThresholdRow
	Summary    []SummaryRow
}

// Monitor computes the preheat artifacts.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{cfg: cfg, logger: logger}
}

func (m *Monitor) metricDefs() []metricDef {
	var defs []metricDef
	for _, w := range m.cfg.PreWindows {
		defs = append(defs, metricDef{
			name:       fmt.Sprintf("abs_return_pre_%d", w),
			metricType: TypePrice,
			window:     w,
		})
	}
	for _, w := range m.cfg.PreWindows {
		defs = append(defs, metricDef{
			name:       fmt.Sprintf("volatility_pre_%d", w),
			metricType: TypeVolatility,
			window:     w,
		})
	}
	// Pre-window volume against each longer baseline, plus every
	// shorter/longer pre-window pair.
	for _, w := range m.cfg.PreWindows {
		for _, b := range m.cfg.VolumeBaselines {
			if w == b {
				continue
			}
			defs = append(defs, metricDef{
				name:       fmt.Sprintf("volume_ratio_pre_%d_over_%d", w, b),
				metricType: TypeVolume,
				window:     w,
				baseline:   b,
			})
		}
	}
	for i, wi := range m.cfg.PreWindows {
		for _, wj := range m.cfg.PreWindows[i+1:] {
			if containsBaselinePair(m.cfg.VolumeBaselines, wj) {
				continue // already covered by the baseline loop
			}
			defs = append(defs, metricDef{
				name:       fmt.Sprintf("volume_ratio_pre_%d_over_%d", wi, wj),
				metricType: TypeVolume,
				window:     wi,
				baseline:   wj,
			})
		}
	}
	return defs
}

func containsBaselinePair(baselines []int, w int) bool {
	for _, b := range baselines {
		if b == w {
			return true
		}
	}
	return false
}

func metricValue(e *alignment.Event, def metricDef) *float64 {
	switch def.metricType {
	case TypePrice:
		v := e.ReturnPreAt(def.window)
		if v == nil {
			return nil
		}
		abs := math.Abs(*v)
		return &abs
	case TypeVolatility:
		if e.VolatilityPre == nil {
			return nil
		}
		return e.VolatilityPre[def.window]
	case TypeVolume:
		if e.VolumePre == nil {
			return nil
		}
		num := e.VolumePre[def.window]
		den := e.VolumePre[def.baseline]
		if num == nil || den == nil || *den == 0 {
			return nil
		}
		ratio := *num / *den
		if math.IsInf(ratio, 0) || math.IsNaN(ratio) {
			return nil
		}
		return &ratio
	}
	return nil
}

// Monitor computes metrics, thresholds and flags over the aligned events.
func (m *Monitor) Monitor(ctx context.Context, events []alignment.Event) (*Result, error) {
	if len(events) == 0 {
		return nil, errors.NewEmpty("preheat", "no aligned events")
	}

	defs := m.metricDefs()
	quantiles := mergeQuantiles(m.cfg.Quantiles, m.cfg.FlagQuantile)

	// Collect per-metric samples.
	samples := make(map[string][]float64, len(defs))
	for i := range events {
		for _, def := range defs {
			if v := metricValue(&events[i], def); v != nil {
				samples[def.name] = append(samples[def.name], *v)
			}
		}
	}

	var thresholds []ThresholdRow
	flagThreshold := make(map[string]float64, len(defs))
	for _, def := range defs {
		values := samples[def.name]
		if len(values) == 0 {
			continue
		}
		mean := stats.Round(stats.Mean(values), 6)
		std := stats.Round(stats.PopulationStd(values), 6)
		for _, q := range quantiles {
			threshold := stats.Round(stats.Quantile(values, q), 6)
			thresholds = append(thresholds, ThresholdRow{
				Metric:     def.name,
				MetricType: def.metricType,
				Window:     def.window,
				Baseline:   def.baseline,
				Quantile:   q,
				Threshold:  threshold,
				SampleSize: len(values),
				Mean:       mean,
				Std:        std,
			})
			if q == m.cfg.FlagQuantile {
				flagThreshold[def.name] = threshold
			}
		}
	}

	rows := make([]EventRow, 0, len(events))
	for i := range events {
		e := &events[i]
		row := EventRow{
			EventID:    e.EventID,
			EventTime:  e.EventTime,
			EventName:  e.EventName,
			Currency:   e.Currency,
			Importance: e.Importance,
			Metrics:    make(map[string]*float64, len(defs)),
			Flags:      make(map[string]bool, len(defs)),
		}
		for _, def := range defs {
			value := metricValue(e, def)
			row.Metrics[def.name] = value
			if value == nil {
				continue
			}
			threshold, ok := flagThreshold[def.name]
			if !ok || *value < threshold {
				continue
			}
			row.Flags[def.name] = true
			switch def.metricType {
			case TypePrice:
				row.FlagPrice = true
				row.Reasons = append(row.Reasons,
					fmt.Sprintf("abs return pre%d %.4f%% >= q%d %.4f%%",
						def.window, *value, flagPct(m.cfg.FlagQuantile), threshold))
			case TypeVolatility:
				row.FlagVolatility = true
				row.Reasons = append(row.Reasons,
					fmt.Sprintf("volatility pre%d %.4f%% >= q%d %.4f%%",
						def.window, *value, flagPct(m.cfg.FlagQuantile), threshold))
			case TypeVolume:
				row.FlagVolume = true
				row.Reasons = append(row.Reasons,
					fmt.Sprintf("volume ratio pre%d/%d %.4f >= q%d %.4f",
						def.window, def.baseline, *value, flagPct(m.cfg.FlagQuantile), threshold))
			}
		}
		row.RequiresReview = row.FlagPrice || row.FlagVolatility || row.FlagVolume
		rows = append(rows, row)
	}

	result := &Result{
		Events:     rows,
		Thresholds: thresholds,
		Summary:    summarize(rows),
	}

	m.logger.InfoContext(ctx, "preheat monitoring complete",
		"events", len(rows),
		"threshold_rows", len(thresholds),
		"flagged", countFlagged(rows))
	return result, nil
}

func countFlagged(rows []EventRow) int {
	n := 0
	for _, r := range rows {
		if r.RequiresReview {
			n++
		}
	}
	return n
}

func flagPct(q float64) int {
	return int(math.Round(q * 100))
}

func summarize(rows []EventRow) []SummaryRow {
	groups := map[string][]*EventRow{}
	for i := range rows {
		groups[rows[i].EventName] = append(groups[rows[i].EventName], &rows[i])
	}

	out := make([]SummaryRow, 0, len(groups))
	for name, members := range groups {
		s := SummaryRow{EventName: name, Total: len(members)}
		for _, r := range members {
			if r.FlagPrice {
				s.PriceFlagged++
			}
			if r.FlagVolatility {
				s.VolatilityFlagged++
			}
			if r.FlagVolume {
				s.VolumeFlagged++
			}
			if r.RequiresReview {
				s.Flagged++
			}
		}
		s.FlaggedShare = stats.Round(float64(s.Flagged)/float64(s.Total), 2)
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FlaggedShare != out[j].FlaggedShare {
			return out[i].FlaggedShare > out[j].FlaggedShare
		}
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].EventName < out[j].EventName
	})
	return out
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
