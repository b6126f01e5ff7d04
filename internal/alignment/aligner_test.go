package alignment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "calpulse/internal/errors"
	"calpulse/internal/merge"
)

func ptr(v float64) *float64 { return &v }

// buildDataset creates one event with closes defined by fn over the
// offsets in [-pre, +post].
func buildDataset(t *testing.T, pre, post int, fn func(offset int) (close, volume float64)) *merge.Dataset {
	t.Helper()
	eventTime := time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)
	rel := merge.Row{
		HasEvent:   true,
		EventID:    "202403121230_cpi-yoy",
		EventTime:  eventTime,
		EventName:  "CPI (YoY)",
		Currency:   "USD",
		Importance: "High",
		Actual:     ptr(3.4),
		Forecast:   ptr(3.1),
		Previous:   ptr(3.2),
		IsPercent:  true,
		Joint:      merge.JointMeta{GroupID: "g", Size: 1, Rank: 1, Weight: 1.0},
	}
	ds := &merge.Dataset{}
	for offset := -pre; offset <= post; offset++ {
		row := rel
		row.Timestamp = eventTime.Add(time.Duration(offset) * time.Minute)
		row.MinutesFromEvent = offset
		row.Close, row.Volume = fn(offset)
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

func TestAlign_ReturnDefinitions(t *testing.T) {
	// Flat at 100 before the event, 102 at the event minute, 105 after
	// 15 minutes.
	ds := buildDataset(t, 30, 30, func(offset int) (float64, float64) {
		switch {
		case offset < 0:
			return 100, 1000
		case offset == 0:
			return 102, 5000
		case offset < 15:
			return 103, 3000
		default:
			return 105, 2000
		}
	})

	aligner := NewAligner(Config{Windows: []int{15, 30}, PreWindowMinutes: 30, PostWindowMinutes: 30}, nil)
	events, err := aligner.Align(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]

	// Pre return: close(-15)=100 to close(0)=102.
	require.NotNil(t, e.ReturnPre[15])
	assert.InDelta(t, 2.0, *e.ReturnPre[15], 1e-9)

	// Post return: close(0)=102 to close(+15)=105.
	require.NotNil(t, e.ReturnPost[15])
	assert.InDelta(t, (105.0/102.0-1)*100, *e.ReturnPost[15], 1e-9)

	// At return: close(-1)=100 to close(0)=102.
	require.NotNil(t, e.ReturnAt)
	assert.InDelta(t, 2.0, *e.ReturnAt, 1e-9)
	require.NotNil(t, e.ReturnAtAbs)
	assert.InDelta(t, 2.0, *e.ReturnAtAbs, 1e-9)

	// Equal closes produce a zero return, not nil.
	require.NotNil(t, e.ReturnPre[30])
	assert.InDelta(t, 2.0, *e.ReturnPre[30], 1e-9)

	assert.Equal(t, 15, e.MinutesPre[15])
	assert.Equal(t, 15, e.MinutesPost[15])
	require.NotNil(t, e.VolumePost[15])
	assert.Greater(t, *e.VolumePost[15], 0.0)
}

func TestAlign_MissingMinutesYieldNil(t *testing.T) {
	ds := buildDataset(t, 5, 5, func(offset int) (float64, float64) { return 100, 1000 })

	aligner := NewAligner(Config{Windows: []int{15}, PreWindowMinutes: 5, PostWindowMinutes: 5}, nil)
	events, err := aligner.Align(context.Background(), ds)
	require.NoError(t, err)
	e := events[0]

	// Window 15 has no close at offset +-15.
	assert.Nil(t, e.ReturnPre[15])
	assert.Nil(t, e.ReturnPost[15])
	// Availability still counts what exists inside the span.
	assert.Equal(t, 5, e.MinutesPre[15])
}

func TestAlign_SurpriseMetrics(t *testing.T) {
	ds := buildDataset(t, 2, 2, func(offset int) (float64, float64) { return 100, 1000 })

	aligner := NewAligner(Config{Windows: []int{1}, PreWindowMinutes: 2, PostWindowMinutes: 2}, nil)
	events, err := aligner.Align(context.Background(), ds)
	require.NoError(t, err)
	e := events[0]

	// actual 3.4, forecast 3.1, previous 3.2
	require.NotNil(t, e.Surprise)
	assert.InDelta(t, 0.3, *e.Surprise, 1e-9)
	require.NotNil(t, e.SurprisePct)
	assert.InDelta(t, 0.3/3.1*100, *e.SurprisePct, 1e-9)
	require.NotNil(t, e.Revision)
	assert.InDelta(t, 0.2, *e.Revision, 1e-6)

	assert.Equal(t, CategoryPositive, e.SurpriseCategory)
	// forecast - previous = -0.1, pct = -3.125 which clears the deadband.
	assert.Equal(t, CategoryNegative, e.ForecastVsPreviousCategory)
	assert.Equal(t, "negative->positive", e.Scenario)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		raw      *float64
		pct      *float64
		expected string
	}{
		{"pct positive", ptr(0.3), ptr(9.7), CategoryPositive},
		{"pct inside deadband", ptr(0.3), ptr(0.2), CategoryNeutral},
		{"pct negative", ptr(-0.3), ptr(-0.26), CategoryNegative},
		{"raw fallback positive", ptr(0.5), nil, CategoryPositive},
		{"raw inside deadband", ptr(1e-9), nil, CategoryNeutral},
		{"missing", nil, nil, CategoryMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.raw, tt.pct))
		})
	}
}

func TestRelativePct_SignedBase(t *testing.T) {
	// A negative base keeps its sign: 1.0 relative to -2.0 is -50%.
	got := relativePct(ptr(1.0), ptr(-2.0))
	require.NotNil(t, got)
	assert.InDelta(t, -50.0, *got, 1e-9)

	got = relativePct(ptr(-1.0), ptr(-2.0))
	require.NotNil(t, got)
	assert.InDelta(t, 50.0, *got, 1e-9)
}

func TestAlign_NegativeForecastFlipsCategory(t *testing.T) {
	ds := buildDataset(t, 2, 2, func(offset int) (float64, float64) { return 100, 1000 })
	// actual above a negative forecast: raw surprise positive but the
	// relative surprise is negative, and the pct form wins.
	for i := range ds.Rows {
		ds.Rows[i].Actual = ptr(-1.0)
		ds.Rows[i].Forecast = ptr(-1.5)
	}

	aligner := NewAligner(Config{Windows: []int{1}, PreWindowMinutes: 2, PostWindowMinutes: 2}, nil)
	events, err := aligner.Align(context.Background(), ds)
	require.NoError(t, err)
	e := events[0]

	require.NotNil(t, e.SurprisePct)
	assert.InDelta(t, 0.5/-1.5*100, *e.SurprisePct, 1e-9)
	assert.Equal(t, CategoryNegative, e.SurpriseCategory)
}

func TestAlign_EpsilonGuard(t *testing.T) {
	ds := buildDataset(t, 2, 2, func(offset int) (float64, float64) { return 100, 1000 })
	// Forecast of zero must not produce a surprise percentage.
	for i := range ds.Rows {
		ds.Rows[i].Forecast = ptr(0)
	}

	aligner := NewAligner(Config{Windows: []int{1}, PreWindowMinutes: 2, PostWindowMinutes: 2}, nil)
	events, err := aligner.Align(context.Background(), ds)
	require.NoError(t, err)
	e := events[0]

	assert.Nil(t, e.SurprisePct)
	// Raw surprise 3.4 still categorizes via the absolute threshold.
	assert.Equal(t, CategoryPositive, e.SurpriseCategory)
}

func TestAlign_JointShares(t *testing.T) {
	ds := buildDataset(t, 16, 16, func(offset int) (float64, float64) {
		if offset >= 0 {
			return 102, 1000
		}
		return 100, 1000
	})
	for i := range ds.Rows {
		ds.Rows[i].Joint = merge.JointMeta{GroupID: "g2", Size: 2, Rank: 1, Weight: 0.5}
	}

	aligner := NewAligner(Config{Windows: []int{15}, PreWindowMinutes: 16, PostWindowMinutes: 16}, nil)
	events, err := aligner.Align(context.Background(), ds)
	require.NoError(t, err)
	e := events[0]

	assert.True(t, e.JointShared)
	require.NotNil(t, e.ReturnAtShare)
	require.NotNil(t, e.ReturnAt)
	assert.InDelta(t, *e.ReturnAt*0.5, *e.ReturnAtShare, 1e-9)
}

func TestAlign_EmptyDataset(t *testing.T) {
	aligner := NewAligner(Config{Windows: []int{15}}, nil)
	_, err := aligner.Align(context.Background(), &merge.Dataset{})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsEmpty(err))
}

func TestSaveLoadCSV_RoundTrip(t *testing.T) {
	ds := buildDataset(t, 30, 30, func(offset int) (float64, float64) {
		return 100 + float64(offset)*0.01, 1000
	})
	aligner := NewAligner(Config{Windows: []int{15, 30}, PreWindowMinutes: 30, PostWindowMinutes: 30}, nil)
	events, err := aligner.Align(context.Background(), ds)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "aligned.csv")
	require.NoError(t, SaveCSV(events, path))

	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, loaded, len(events))

	orig, got := events[0], loaded[0]
	assert.Equal(t, orig.EventID, got.EventID)
	assert.True(t, orig.EventTime.Equal(got.EventTime))
	assert.Equal(t, orig.SurpriseCategory, got.SurpriseCategory)
	assert.Equal(t, orig.Scenario, got.Scenario)
	require.NotNil(t, got.ReturnPost[15])
	assert.InDelta(t, *orig.ReturnPost[15], *got.ReturnPost[15], 1e-6)
	assert.Equal(t, orig.MinutesPre[30], got.MinutesPre[30])
	assert.Equal(t, orig.Joint.Size, got.Joint.Size)
}
