package trend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calpulse/internal/alignment"
)

func f(v float64) *float64 { return &v }

func monthlyEvent(name string, year int, month time.Month, surprisePct float64) alignment.Event {
	ts := time.Date(year, month, 10, 12, 30, 0, 0, time.UTC)
	return alignment.Event{
		EventID:     fmt.Sprintf("%s-%d-%02d", name, year, month),
		EventTime:   ts,
		EventName:   name,
		Currency:    "USD",
		Importance:  "High",
		SurprisePct: f(surprisePct),
		ReturnPost:  map[int]*float64{60: f(surprisePct / 2), 240: f(surprisePct / 4)},
	}
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("retail sales", "retail sales"), 1e-9)
	assert.InDelta(t, 0.0, similarity("abc", "xyz"), 1e-9)
	// One extra character on a 15-character name.
	assert.InDelta(t, 30.0/31.0, similarity("retail sales aa", "retail sales aax"), 1e-9)
	assert.InDelta(t, 1.0, similarity("", ""), 1e-9)
}

func TestCanonicalizerSlugMerge(t *testing.T) {
	counts := map[string]int{
		"Retail Sales (MoM)": 10,
		"Retail sales (MoM)": 2,
	}
	c := NewCanonicalizer(counts, nil)

	// Both spellings resolve to the more frequent one.
	assert.Equal(t, "Retail Sales (MoM)", c.Resolve("Retail sales (MoM)"))
	assert.Equal(t, "Retail Sales (MoM)", c.Resolve("Retail Sales (MoM)"))
}

func TestCanonicalizerManualAlias(t *testing.T) {
	counts := map[string]int{"NFP": 3, "Nonfarm Payrolls": 30}
	manual := map[string]string{"NFP": "Nonfarm Payrolls"}
	c := NewCanonicalizer(counts, manual)

	assert.Equal(t, "Nonfarm Payrolls", c.Resolve("NFP"))
}

func TestCanonicalizerAutoSimilarity(t *testing.T) {
	counts := map[string]int{
		"consumer price index growth":  20,
		"consumer price index growths": 1,
	}
	c := NewCanonicalizer(counts, nil)

	assert.Equal(t, "consumer price index growth", c.Resolve("consumer price index growths"))
	require.Len(t, c.AutoAliases, 1)
	assert.Equal(t, "auto_similarity:0.982", c.AutoAliases[0].Reason)
}

func TestCanonicalizerSuggestions(t *testing.T) {
	counts := map[string]int{
		"retail sales aa":  5,
		"retail sales aax": 3,
	}
	c := NewCanonicalizer(counts, nil)

	// Near misses stay separate but are suggested for review.
	assert.Equal(t, "retail sales aa", c.Resolve("retail sales aa"))
	assert.Equal(t, "retail sales aax", c.Resolve("retail sales aax"))
	require.Len(t, c.Suggestions, 1)
	s := c.Suggestions[0]
	assert.Equal(t, "retail sales aa", s.NameA)
	assert.Equal(t, "retail sales aax", s.NameB)
	assert.InDelta(t, 30.0/31.0, s.Ratio, 1e-9)
	assert.Equal(t, 5, s.CountA)
	assert.Equal(t, 3, s.CountB)
}

func TestMonthlyRollups(t *testing.T) {
	var events []alignment.Event
	for i := 0; i < 14; i++ {
		month := time.Month(i%12 + 1)
		year := 2022 + i/12
		events = append(events, monthlyEvent("CPI (YoY)", year, month, float64(i+1)))
	}

	a := NewAnalyzer(Config{MinMonthlyRows: 12, MinEventsForCorrelation: 24}, nil)
	result, err := a.Analyze(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, result.Monthly, 14)

	first := result.Monthly[0]
	assert.Equal(t, 2022, first.Year)
	assert.Equal(t, time.January, first.Month)
	require.NotNil(t, first.RollMean[3])
	assert.InDelta(t, 1.0, *first.RollMean[3], 1e-9)
	// A single period cannot carry a standard deviation.
	assert.Nil(t, first.RollStd[3])
	assert.Nil(t, first.YoYDiff)

	third := result.Monthly[2]
	require.NotNil(t, third.RollMean[3])
	assert.InDelta(t, 2.0, *third.RollMean[3], 1e-9)
	require.NotNil(t, third.RollStd[3])

	// Month 13 sits exactly one year after month 1.
	thirteenth := result.Monthly[12]
	require.NotNil(t, thirteenth.YoYDiff)
	assert.InDelta(t, 12.0, *thirteenth.YoYDiff, 1e-9)

	require.Len(t, result.Indicators, 1)
	ind := result.Indicators[0]
	assert.Equal(t, 14, ind.Months)
	assert.Equal(t, 14, ind.Events)
	// Surprise and post returns move together by construction.
	require.NotNil(t, ind.CorrSurprisePost60)
	assert.InDelta(t, 1.0, *ind.CorrSurprisePost60, 1e-6)
}

func TestIndicatorMinMonthsGuard(t *testing.T) {
	var events []alignment.Event
	for i := 0; i < 5; i++ {
		events = append(events, monthlyEvent("PPI (MoM)", 2023, time.Month(i+1), float64(i)))
	}

	a := NewAnalyzer(Config{MinMonthlyRows: 12, MinEventsForCorrelation: 24}, nil)
	result, err := a.Analyze(context.Background(), events, nil)
	require.NoError(t, err)

	assert.Len(t, result.Monthly, 5)
	assert.Empty(t, result.Indicators)
}

func TestCrossIndicatorCorrelation(t *testing.T) {
	var events []alignment.Event
	for i := 0; i < 8; i++ {
		month := time.Month(i + 1)
		events = append(events, monthlyEvent("CPI (YoY)", 2023, month, float64(i+1)))
		events = append(events, monthlyEvent("PPI (YoY)", 2023, month, 2*float64(i+1)))
		// Constant series carries no information.
		events = append(events, monthlyEvent("GDP (QoQ)", 2023, month, 1.0))
	}

	a := NewAnalyzer(Config{MinMonthlyRows: 6, MinEventsForCorrelation: 8}, nil)
	result, err := a.Analyze(context.Background(), events, nil)
	require.NoError(t, err)

	require.Len(t, result.Correlations, 1)
	pair := result.Correlations[0]
	assert.Equal(t, "USD|CPI (YoY)", pair.IndicatorA)
	assert.Equal(t, "USD|PPI (YoY)", pair.IndicatorB)
	assert.Equal(t, 8, pair.SharedPeriods)
	assert.InDelta(t, 1.0, pair.Correlation, 1e-9)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	a := NewAnalyzer(Config{MinMonthlyRows: 12, MinEventsForCorrelation: 24}, nil)
	_, err := a.Analyze(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestLoadManualAliasesMissingFile(t *testing.T) {
	aliases, err := LoadManualAliases(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	assert.Nil(t, aliases)
}

func TestLoadManualAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.csv")
	content := "alias,canonical_name\nNFP,Nonfarm Payrolls\n,empty skipped\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	aliases, err := LoadManualAliases(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"NFP": "Nonfarm Payrolls"}, aliases)
}

func TestSuggestionFilesRemovedWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suggestions.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, SaveSuggestionsCSV(nil, path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing a file that never existed is fine too.
	require.NoError(t, SaveAutoAliasCSV(nil, filepath.Join(dir, "absent.csv")))
}

func TestSaveMonthlyCSV(t *testing.T) {
	events := []alignment.Event{
		monthlyEvent("CPI (YoY)", 2023, time.March, 0.5),
	}
	a := NewAnalyzer(Config{MinMonthlyRows: 1, MinEventsForCorrelation: 24}, nil)
	result, err := a.Analyze(context.Background(), events, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "monthly.csv")
	require.NoError(t, SaveMonthlyCSV(result.Monthly, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "surprise_roll_mean_3")
	assert.Contains(t, string(data), "surprise_yoy_diff")
	assert.Contains(t, string(data), "CPI (YoY)")
}
