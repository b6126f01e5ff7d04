package decompose

import (
	"context"
	"log/slog"
	"sort"

	"calpulse/internal/alignment"
	"calpulse/internal/stats"
)

// Config holds the decomposition stage parameters.
type Config struct {
	// MinEvents drops a bucket when the largest metric sample is
	// smaller than this.
	MinEvents int
}

// MetricStats are the directional statistics of one metric in a bucket.
type MetricStats struct {
	SampleSize    int
	PositiveCount int
	NegativeCount int
	NeutralCount  int
	PositiveShare float64
	NegativeShare float64
	NeutralShare  float64
	Mean          float64
}

// Bucket is one detail row.
type Bucket struct {
	Classification
	EventCount int
	Surprise   MetricStats
	Post60     MetricStats
	Post240    MetricStats
}

// SummaryBucket aggregates across base indicators.
type SummaryBucket struct {
	CoreCategory      string
	ComponentCategory string
	FrequencyTag      string
	EventCount        int
	Surprise          MetricStats
	Post60            MetricStats
	Post240           MetricStats
}

// Result bundles the stage outputs.
type Result struct {
	Detail  []Bucket
	Summary []SummaryBucket
}

// Decomposer aggregates directional statistics per indicator bucket.
type Decomposer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDecomposer creates a Decomposer.
func NewDecomposer(cfg Config, logger *slog.Logger) *Decomposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{cfg: cfg, logger: logger}
}

type metricSamples struct {
	surprise []float64
	post60   []float64
	post240  []float64
	events   int
}

func (s *metricSamples) add(e *alignment.Event) {
	s.events++
	if e.SurprisePct != nil {
		s.surprise = append(s.surprise, *e.SurprisePct)
	}
	if v := e.ReturnPostAt(60); v != nil {
		s.post60 = append(s.post60, *v)
	}
	if v := e.ReturnPostAt(240); v != nil {
		s.post240 = append(s.post240, *v)
	}
}

func (s *metricSamples) maxSample() int {
	m := len(s.surprise)
	if len(s.post60) > m {
		m = len(s.post60)
	}
	if len(s.post240) > m {
		m = len(s.post240)
	}
	return m
}

// Decompose buckets events by classification and computes directional
// statistics. Buckets below the sample guard are absent from the output,
// never zero-filled.
func (d *Decomposer) Decompose(ctx context.Context, events []alignment.Event) (*Result, error) {
	detailSamples := make(map[Classification]*metricSamples)
	summarySamples := make(map[[3]string]*metricSamples)

	for i := range events {
		e := &events[i]
		c := Classify(e.EventName)

		ds, ok := detailSamples[c]
		if !ok {
			ds = &metricSamples{}
			detailSamples[c] = ds
		}
		ds.add(e)

		key := [3]string{c.CoreCategory, c.ComponentCategory, c.FrequencyTag}
		ss, ok := summarySamples[key]
		if !ok {
			ss = &metricSamples{}
			summarySamples[key] = ss
		}
		ss.add(e)
	}

	result := &Result{}
	dropped := 0
	for c, samples := range detailSamples {
		if samples.maxSample() < d.cfg.MinEvents {
			dropped++
			continue
		}
		result.Detail = append(result.Detail, Bucket{
			Classification: c,
			EventCount:     samples.events,
			Surprise:       directionStats(samples.surprise),
			Post60:         directionStats(samples.post60),
			Post240:        directionStats(samples.post240),
		})
	}
	for key, samples := range summarySamples {
		if samples.maxSample() < d.cfg.MinEvents {
			continue
		}
		result.Summary = append(result.Summary, SummaryBucket{
			CoreCategory:      key[0],
			ComponentCategory: key[1],
			FrequencyTag:      key[2],
			EventCount:        samples.events,
			Surprise:          directionStats(samples.surprise),
			Post60:            directionStats(samples.post60),
			Post240:           directionStats(samples.post240),
		})
	}

	sort.Slice(result.Detail, func(i, j int) bool {
		a, b := result.Detail[i], result.Detail[j]
		if a.BaseIndicator != b.BaseIndicator {
			return a.BaseIndicator < b.BaseIndicator
		}
		if a.FrequencyTag != b.FrequencyTag {
			return a.FrequencyTag < b.FrequencyTag
		}
		if a.CoreCategory != b.CoreCategory {
			return a.CoreCategory < b.CoreCategory
		}
		if a.ComponentCategory != b.ComponentCategory {
			return a.ComponentCategory < b.ComponentCategory
		}
		return a.EventCount > b.EventCount
	})
	sort.Slice(result.Summary, func(i, j int) bool {
		a, b := result.Summary[i], result.Summary[j]
		if a.CoreCategory != b.CoreCategory {
			return a.CoreCategory < b.CoreCategory
		}
		if a.ComponentCategory != b.ComponentCategory {
			return a.ComponentCategory < b.ComponentCategory
		}
		if a.FrequencyTag != b.FrequencyTag {
			return a.FrequencyTag < b.FrequencyTag
		}
		return a.EventCount > b.EventCount
	})

	d.logger.InfoContext(ctx, "decomposition complete",
		"buckets", len(result.Detail),
		"summary_buckets", len(result.Summary),
		"dropped_buckets", dropped)
	return result, nil
}

// directionStats counts strict-sign directions and the mean.
func directionStats(values []float64) MetricStats {
	s := MetricStats{SampleSize: len(values)}
	if len(values) == 0 {
		return s
	}
	for _, v := range values {
		switch {
		case v > 0:
			s.PositiveCount++
		case v < 0:
			s.NegativeCount++
		default:
			s.NeutralCount++
		}
	}
	n := float64(len(values))
	s.PositiveShare = stats.Round(float64(s.PositiveCount)/n, 4)
	s.NegativeShare = stats.Round(float64(s.NegativeCount)/n, 4)
	s.NeutralShare = stats.Round(float64(s.NeutralCount)/n, 4)
	s.Mean = stats.Round(stats.Mean(values), 6)
	return s
}
