package calendar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  *float64
		isPercent bool
	}{
		{"plain", "3.4", ptr(3.4), false},
		{"percent", "3.4%", ptr(3.4), true},
		{"negative percent", "-0.2%", ptr(-0.2), true},
		{"thousands", "1,234.5", ptr(1234.5), false},
		{"k suffix", "250k", ptr(250000), false},
		{"m suffix", "1.5M", ptr(1500000), false},
		{"b suffix", "2b", ptr(2e9), false},
		{"dash is missing", "-", nil, false},
		{"na is missing", "N/A", nil, false},
		{"empty is missing", "", nil, false},
		{"garbage", "abc", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isPercent := ParseNumeric(tt.input)
			if tt.expected == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.InDelta(t, *tt.expected, *got, 1e-9)
			}
			assert.Equal(t, tt.isPercent, isPercent)
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"CPI (YoY)", "cpi-yoy"},
		{"Non-Farm Payrolls", "non-farm-payrolls"},
		{"ISM Manufacturing PMI", "ism-manufacturing-pmi"},
		{"  Fed Chair Speech!! ", "fed-chair-speech"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.input))
		})
	}
}

func TestEventID(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	eventTime := time.Date(2024, 3, 12, 20, 30, 0, 0, loc)
	assert.Equal(t, "202403122030_cpi-yoy", EventID(eventTime, "cpi-yoy"))
}

func TestLoadYear_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024_calendar.json")
	content := `[
		{"date": "2024-03-12", "time": "20:30", "currency": "USD", "importance": "high", "event": "CPI (YoY)", "actual": "3.2%", "forecast": "3.1%", "previous": "3.1%"},
		{"date": "2024-03-12", "time": "All Day", "currency": "USD", "importance": "low", "event": "Bank Holiday", "actual": "", "forecast": "", "previous": ""},
		{"date": "2024-03-13", "time": "22:00", "currency": "EUR", "importance": "medium", "event": "Crude Oil Inventories", "actual": "-1.5m", "forecast": "0.4m", "previous": "1.2m"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	loader := NewLoader(loc, nil)

	releases, err := loader.LoadYear(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, releases, 2, "all-day rows must be skipped")

	cpi := releases[0]
	assert.Equal(t, "202403122030_cpi-yoy", cpi.EventID)
	assert.Equal(t, "USD", cpi.Currency)
	assert.Equal(t, "High", cpi.Importance)
	assert.True(t, cpi.IsPercent)
	require.NotNil(t, cpi.Actual)
	assert.InDelta(t, 3.2, *cpi.Actual, 1e-9)

	oil := releases[1]
	require.NotNil(t, oil.Actual)
	assert.InDelta(t, -1.5e6, *oil.Actual, 1e-3)
	assert.False(t, oil.IsPercent)
}

func TestLoadYear_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024_calendar.csv")
	content := "date,time,currency,importance,event,actual,forecast,previous\n" +
		"2024-06-07,20:30,USD,High,Non-Farm Payrolls,272k,185k,165k\n" +
		"bad-date,20:30,USD,High,Broken Row,1,2,3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader := NewLoader(time.UTC, nil)
	releases, err := loader.LoadYear(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, releases, 1, "unparseable rows are skipped, not fatal")

	nfp := releases[0]
	assert.Equal(t, "202406072030_non-farm-payrolls", nfp.EventID)
	require.NotNil(t, nfp.Actual)
	assert.InDelta(t, 272000, *nfp.Actual, 1e-6)
}

func TestFilter(t *testing.T) {
	releases := []Release{
		{Currency: "USD", Importance: "High"},
		{Currency: "USD", Importance: "Low"},
		{Currency: "EUR", Importance: "High"},
	}

	t.Run("currency and importance", func(t *testing.T) {
		got := Filter(releases, []string{"USD"}, []string{"Medium", "High"})
		require.Len(t, got, 1)
		assert.Equal(t, "USD", got[0].Currency)
	})

	t.Run("ALL disables currency filter", func(t *testing.T) {
		got := Filter(releases, []string{"ALL"}, []string{"High"})
		assert.Len(t, got, 2)
	})

	t.Run("importance is title-cased", func(t *testing.T) {
		got := Filter(releases, []string{"USD"}, []string{"high", "LOW"})
		assert.Len(t, got, 2)
	})
}
