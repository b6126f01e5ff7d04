package decompose

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

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Classification
	}{
		{
			name:  "headline yoy",
			input: "CPI (YoY)",
			expected: Classification{
				BaseIndicator: "CPI", FrequencyTag: "YoY",
				CoreCategory: "headline", ComponentCategory: "other",
			},
		},
		{
			name:  "core mom",
			input: "Core CPI (MoM)",
			expected: Classification{
				BaseIndicator: "CPI", FrequencyTag: "MoM",
				CoreCategory: "core", ComponentCategory: "other",
			},
		},
		{
			name:  "ex clause",
			input: "Retail Sales ex Autos (MoM)",
			expected: Classification{
				BaseIndicator: "Retail Sales", FrequencyTag: "MoM",
				CoreCategory: "core", ComponentCategory: "other",
			},
		},
		{
			name:  "month suffix stripped",
			input: "ISM Manufacturing PMI (Nov)",
			expected: Classification{
				BaseIndicator: "ISM Manufacturing PMI", FrequencyTag: "Level",
				CoreCategory: "headline", ComponentCategory: "other",
			},
		},
		{
			name:  "energy component",
			input: "Crude Oil Inventories",
			expected: Classification{
				BaseIndicator: "Crude Oil Inventories", FrequencyTag: "Level",
				CoreCategory: "headline", ComponentCategory: "energy",
			},
		},
		{
			name:  "housing component",
			input: "Housing Starts (MoM)",
			expected: Classification{
				BaseIndicator: "Housing Starts", FrequencyTag: "MoM",
				CoreCategory: "headline", ComponentCategory: "housing",
			},
		},
		{
			name:  "seasonal",
			input: "Jobless Claims (SA)",
			expected: Classification{
				BaseIndicator: "Jobless Claims", FrequencyTag: "Seasonal",
				CoreCategory: "headline", ComponentCategory: "other",
			},
		},
		{
			name:  "ex food and energy",
			input: "CPI ex Food and Energy (YoY)",
			expected: Classification{
				BaseIndicator: "CPI", FrequencyTag: "YoY",
				CoreCategory: "core", ComponentCategory: "energy",
			},
		},
		{
			name:  "core mid-name",
			input: "PCE Core Price Index (MoM)",
			expected: Classification{
				BaseIndicator: "PCE Core Price Index", FrequencyTag: "MoM",
				CoreCategory: "core", ComponentCategory: "other",
			},
		},
		{
			name:  "residential housing",
			input: "New Residential Sales (MoM)",
			expected: Classification{
				BaseIndicator: "New Residential Sales", FrequencyTag: "MoM",
				CoreCategory: "headline", ComponentCategory: "housing",
			},
		},
		{
			name:  "weekly frequency",
			input: "Mortgage Applications (W/W)",
			expected: Classification{
				BaseIndicator: "Mortgage Applications", FrequencyTag: "WoW",
				CoreCategory: "headline", ComponentCategory: "housing",
			},
		},
		{
			name:  "agricultural food",
			input: "Agricultural Prices",
			expected: Classification{
				BaseIndicator: "Agricultural Prices", FrequencyTag: "Level",
				CoreCategory: "headline", ComponentCategory: "food",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.input))
		})
	}
}

func makeEvent(name string, surprisePct, post60 float64) alignment.Event {
	return alignment.Event{
		EventID:     fmt.Sprintf("%s-%d", name, time.Now().UnixNano()),
		EventName:   name,
		Currency:    "USD",
		SurprisePct: ptr(surprisePct),
		ReturnPost:  map[int]*float64{60: ptr(post60), 240: ptr(post60 * 1.5)},
	}
}

func TestDecompose_DirectionStats(t *testing.T) {
	var events []alignment.Event
	// Six CPI YoY events: 4 positive, 2 negative surprises.
	for i := 0; i < 4; i++ {
		events = append(events, makeEvent("CPI (YoY)", 1.0, 0.2))
	}
	for i := 0; i < 2; i++ {
		events = append(events, makeEvent("CPI (YoY)", -1.0, -0.1))
	}

	d := NewDecomposer(Config{MinEvents: 5}, nil)
	result, err := d.Decompose(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, result.Detail, 1)

	b := result.Detail[0]
	assert.Equal(t, "CPI", b.BaseIndicator)
	assert.Equal(t, 6, b.EventCount)
	assert.Equal(t, 6, b.Surprise.SampleSize)
	assert.Equal(t, 4, b.Surprise.PositiveCount)
	assert.InDelta(t, 0.6667, b.Surprise.PositiveShare, 1e-9)
	assert.InDelta(t, 0.3333, b.Surprise.NegativeShare, 1e-9)
	assert.InDelta(t, (4*1.0-2*1.0)/6.0, b.Surprise.Mean, 1e-4)
}

func TestDecompose_MinEventsGuard(t *testing.T) {
	var events []alignment.Event
	for i := 0; i < 4; i++ {
		events = append(events, makeEvent("GDP (QoQ)", 0.5, 0.1))
	}

	d := NewDecomposer(Config{MinEvents: 5}, nil)
	result, err := d.Decompose(context.Background(), events)
	require.NoError(t, err)

	// Four samples with min_events=5: the bucket is entirely absent.
	assert.Empty(t, result.Detail)
	assert.Empty(t, result.Summary)
}

func TestDecompose_SummaryGroupsAcrossIndicators(t *testing.T) {
	var events []alignment.Event
	for i := 0; i < 5; i++ {
		events = append(events, makeEvent("CPI (YoY)", 1.0, 0.2))
	}
	for i := 0; i < 5; i++ {
		events = append(events, makeEvent("PPI (YoY)", -1.0, -0.2))
	}

	d := NewDecomposer(Config{MinEvents: 5}, nil)
	result, err := d.Decompose(context.Background(), events)
	require.NoError(t, err)

	require.Len(t, result.Detail, 2)
	// Both indicators are headline/other/YoY so the summary merges them.
	require.Len(t, result.Summary, 1)
	assert.Equal(t, 10, result.Summary[0].EventCount)
	assert.Equal(t, "headline", result.Summary[0].CoreCategory)
}
