package deepdive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calpulse/internal/alignment"
)

func ptr(v float64) *float64 { return &v }

func testConfig() Config {
	return Config{
		Quantiles:     []float64{0.75, 0.9},
		FlagQuantile:  0.9,
		PreWindows:    []int{15, 60},
		PostWindows:   []int{60, 240},
		MediumWindows: []int{60, 120, 240},
	}
}

// makeEvent builds an event with the given post_60 return and surprise.
func makeEvent(i int, name string, surprisePct float64, post60 float64) alignment.Event {
	category := alignment.CategoryNeutral
	if surprisePct >= alignment.ShockPercentThreshold {
		category = alignment.CategoryPositive
	} else if surprisePct <= -alignment.ShockPercentThreshold {
		category = alignment.CategoryNegative
	}
	return alignment.Event{
		EventID:          fmt.Sprintf("e%03d", i),
		EventTime:        time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		EventName:        name,
		Currency:         "USD",
		Importance:       "High",
		SurprisePct:      ptr(surprisePct),
		SurpriseCategory: category,
		ReturnAt:         ptr(post60 / 2),
		ReturnPre:        map[int]*float64{15: ptr(0.01), 60: ptr(0.02)},
		ReturnPost:       map[int]*float64{60: ptr(post60), 240: ptr(post60 * 1.2)},
	}
}

func buildEvents(n int) []alignment.Event {
	events := make([]alignment.Event, 0, n)
	for i := 0; i < n; i++ {
		// Returns spread from 0.01 to n/100.
		events = append(events, makeEvent(i, "CPI (YoY)", 1.0, float64(i+1)*0.01))
	}
	return events
}

func TestAggregate_Heatmap(t *testing.T) {
	agg := NewAggregator(testConfig(), nil)
	result, err := agg.Aggregate(context.Background(), buildEvents(10))
	require.NoError(t, err)

	require.Len(t, result.Heatmap, 1)
	row := result.Heatmap[0]
	assert.Equal(t, "CPI (YoY)", row.EventName)
	assert.Equal(t, "USD", row.Currency)
	assert.Equal(t, 10, row.EventCount)
	assert.Equal(t, "High", row.ImportanceLevels)

	var post60 *MetricSummary
	for i := range row.Metrics {
		if row.Metrics[i].Name == "return_post_60_pct" {
			post60 = &row.Metrics[i]
		}
	}
	require.NotNil(t, post60)
	assert.Equal(t, 10, post60.SampleSize)
	assert.InDelta(t, 0.055, post60.Mean, 1e-9)
	assert.InDelta(t, 1.0, post60.PositiveShare, 1e-9)
}

func TestAggregate_ThresholdMonotonicity(t *testing.T) {
	agg := NewAggregator(testConfig(), nil)
	result, err := agg.Aggregate(context.Background(), buildEvents(20))
	require.NoError(t, err)

	// For a fixed (metric, direction), abs thresholds must not decrease
	// in the quantile.
	byKey := map[string][]ThresholdRow{}
	for _, tr := range result.Thresholds {
		key := tr.Metric + "|" + tr.Direction
		byKey[key] = append(byKey[key], tr)
	}
	for key, rows := range byKey {
		for i := 1; i < len(rows); i++ {
			assert.GreaterOrEqual(t, rows[i].Quantile, rows[i-1].Quantile)
			assert.GreaterOrEqual(t, rows[i].Abs, rows[i-1].Abs, "non-monotone abs threshold for %s", key)
			assert.GreaterOrEqual(t, rows[i].Upper, rows[i-1].Upper, "non-monotone upper threshold for %s", key)
		}
	}
}

func TestAggregate_DirectionalThresholdsOnlyWhenObserved(t *testing.T) {
	events := buildEvents(10) // all positive surprises
	agg := NewAggregator(testConfig(), nil)
	result, err := agg.Aggregate(context.Background(), events)
	require.NoError(t, err)

	directions := map[string]bool{}
	for _, tr := range result.Thresholds {
		directions[tr.Direction] = true
	}
	assert.True(t, directions["all"])
	assert.True(t, directions[alignment.CategoryPositive])
	assert.False(t, directions[alignment.CategoryNegative])
}

func TestAggregate_BoundaryInclusiveFlag(t *testing.T) {
	// Ten events with post_60 from 0.01 to 0.10; the 90th percentile of
	// the absolute values is 0.091. An eleventh event exactly at the
	// recomputed quantile must flag (>=, not >).
	events := buildEvents(10)
	agg := NewAggregator(testConfig(), nil)
	result, err := agg.Aggregate(context.Background(), events)
	require.NoError(t, err)

	var q90 float64
	for _, tr := range result.Thresholds {
		if tr.Metric == "return_post_60_pct" && tr.Direction == "all" && tr.Quantile == 0.9 {
			q90 = tr.Abs
		}
	}
	require.Greater(t, q90, 0.0)

	// The largest event (0.10) is above the q90 threshold and must be
	// flagged stage C with a reason naming the threshold.
	var top *FlagRow
	for i := range result.Flags {
		if result.Flags[i].EventID == "e009" {
			top = &result.Flags[i]
		}
	}
	require.NotNil(t, top)
	assert.True(t, top.FlagStageC)
	assert.True(t, top.RequiresFollowUp)
	require.NotEmpty(t, top.StageCReasons)
	assert.Contains(t, top.StageCReasons[0], "post_60 up")
	assert.Contains(t, top.StageCReasons[0], "abs_q90")
}

func TestAggregate_FlagsSortedFollowUpFirst(t *testing.T) {
	agg := NewAggregator(testConfig(), nil)
	result, err := agg.Aggregate(context.Background(), buildEvents(10))
	require.NoError(t, err)

	seenNonFollowUp := false
	for _, f := range result.Flags {
		if !f.RequiresFollowUp {
			seenNonFollowUp = true
		} else {
			assert.False(t, seenNonFollowUp, "follow-ups must sort before non-follow-ups")
		}
	}
}

func TestAggregate_NewsReviewFlag(t *testing.T) {
	events := buildEvents(10)
	// A quiet-surprise event with a huge post move.
	quiet := makeEvent(99, "CPI (YoY)", 0.1, 5.0)
	quiet.SurpriseCategory = alignment.CategoryNeutral
	events = append(events, quiet)

	agg := NewAggregator(testConfig(), nil)
	result, err := agg.Aggregate(context.Background(), events)
	require.NoError(t, err)

	var row *FlagRow
	for i := range result.Flags {
		if result.Flags[i].EventID == "e099" {
			row = &result.Flags[i]
		}
	}
	require.NotNil(t, row)
	assert.True(t, row.FlagNewsReview)
	assert.True(t, row.FlagStageD)
	found := false
	for _, reason := range row.StageDReasons {
		if reason == "large post-event move with limited surprise_pct (requires news review)" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAggregate_EmptyInput(t *testing.T) {
	agg := NewAggregator(testConfig(), nil)
	_, err := agg.Aggregate(context.Background(), nil)
	assert.Error(t, err)
}
