package merge

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calpulse/internal/calendar"
	pipeerrors "calpulse/internal/errors"
	"calpulse/internal/prices"
)

type staticYears struct {
	paths map[int]string
}

func (s staticYears) CalendarYearPath(year int) (string, bool) {
	p, ok := s.paths[year]
	return p, ok
}

func writeCalendar(t *testing.T, dir string, year int, content string) string {
	t.Helper()
	path := filepath.Join(dir, strconv.Itoa(year)+"_calendar.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func minuteBars(start time.Time, n int, basePrice float64) []prices.Bar {
	bars := make([]prices.Bar, n)
	for i := range bars {
		bars[i] = prices.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      basePrice,
			High:      basePrice + 0.5,
			Low:       basePrice - 0.5,
			Close:     basePrice + float64(i)*0.01,
			Volume:    1000,
		}
	}
	return bars
}

func newTestMerger(t *testing.T, cfg Config, years YearSource) *Merger {
	t.Helper()
	loader := calendar.NewLoader(time.UTC, nil)
	return NewMerger(cfg, loader, years, time.UTC, nil)
}

func TestMerge_WindowExpansionAndStages(t *testing.T) {
	dir := t.TempDir()
	cal := `[{"date": "2024-03-12", "time": "12:30", "currency": "USD", "importance": "High", "event": "CPI (YoY)", "actual": "3.2%", "forecast": "3.1%", "previous": "3.1%"}]`
	path := writeCalendar(t, dir, 2024, cal)

	cfg := Config{PreWindowMinutes: 2, PostWindowMinutes: 3, Currencies: []string{"USD"}, Importance: []string{"High"}}
	m := newTestMerger(t, cfg, staticYears{paths: map[int]string{2024: path}})

	start := time.Date(2024, 3, 12, 12, 25, 0, 0, time.UTC)
	dataset, err := m.Merge(context.Background(), minuteBars(start, 15, 100))
	require.NoError(t, err)

	var eventRows []Row
	for _, r := range dataset.Rows {
		if r.HasEvent {
			eventRows = append(eventRows, r)
		}
	}
	require.Len(t, eventRows, 6, "window [-2, +3] covers 6 minutes")

	stages := map[int]string{}
	for _, r := range eventRows {
		stages[r.MinutesFromEvent] = r.EventStage
		assert.Equal(t, "202403121230_cpi-yoy", r.EventID)
		assert.Equal(t, 1, r.EventCount)
		assert.Equal(t, 1, r.Joint.Size)
	}
	assert.Equal(t, StagePre, stages[-1])
	assert.Equal(t, StageAt, stages[0])
	assert.Equal(t, StagePost, stages[1])
}

func TestMerge_JointGroups(t *testing.T) {
	dir := t.TempDir()
	cal := `[
		{"date": "2024-03-12", "time": "12:30", "currency": "USD", "importance": "High", "event": "CPI (YoY)", "actual": "3.2%", "forecast": "3.1%", "previous": "3.1%"},
		{"date": "2024-03-12", "time": "12:30", "currency": "USD", "importance": "High", "event": "Core CPI (MoM)", "actual": "0.4%", "forecast": "0.3%", "previous": "0.4%"}
	]`
	path := writeCalendar(t, dir, 2024, cal)

	cfg := Config{PreWindowMinutes: 1, PostWindowMinutes: 1, Currencies: []string{"USD"}, Importance: []string{"High"}}
	m := newTestMerger(t, cfg, staticYears{paths: map[int]string{2024: path}})

	start := time.Date(2024, 3, 12, 12, 28, 0, 0, time.UTC)
	dataset, err := m.Merge(context.Background(), minuteBars(start, 6, 100))
	require.NoError(t, err)

	byID := map[string]Row{}
	for _, r := range dataset.Rows {
		if r.HasEvent && r.MinutesFromEvent == 0 {
			byID[r.EventID] = r
			assert.Equal(t, 2, r.EventCount)
		}
	}
	require.Len(t, byID, 2)

	core := byID["202403121230_core-cpi-mom"]
	cpi := byID["202403121230_cpi-yoy"]
	assert.Equal(t, 2, core.Joint.Size)
	assert.Equal(t, core.Joint.GroupID, cpi.Joint.GroupID)
	// Members are ranked by event name; weights split evenly.
	assert.Equal(t, 1, core.Joint.Rank)
	assert.Equal(t, 2, cpi.Joint.Rank)
	assert.InDelta(t, 0.5, core.Joint.Weight, 1e-9)
	assert.Equal(t, "Core CPI (MoM);CPI (YoY)", core.Joint.EventNames)
}

func TestMerge_MissingYearContinues(t *testing.T) {
	dir := t.TempDir()
	cal := `[{"date": "2025-01-10", "time": "21:30", "currency": "USD", "importance": "High", "event": "Non-Farm Payrolls", "actual": "256k", "forecast": "160k", "previous": "212k"}]`
	path := writeCalendar(t, dir, 2025, cal)

	cfg := Config{PreWindowMinutes: 1, PostWindowMinutes: 1, Currencies: []string{"USD"}, Importance: []string{"High"}}
	m := newTestMerger(t, cfg, staticYears{paths: map[int]string{2025: path}})

	// Bars span 2024 (no calendar) into 2025.
	bars := append(
		minuteBars(time.Date(2024, 12, 31, 23, 55, 0, 0, time.UTC), 5, 99),
		minuteBars(time.Date(2025, 1, 10, 21, 28, 0, 0, time.UTC), 6, 100)...)

	dataset, err := m.Merge(context.Background(), bars)
	require.NoError(t, err)

	count := 0
	for _, r := range dataset.Rows {
		if r.HasEvent {
			count++
		}
	}
	assert.Equal(t, 3, count)
}

func TestMerge_NoEventsAnywhereIsFatal(t *testing.T) {
	cfg := Config{PreWindowMinutes: 1, PostWindowMinutes: 1, Currencies: []string{"USD"}, Importance: []string{"High"}}
	m := newTestMerger(t, cfg, staticYears{})

	_, err := m.Merge(context.Background(), minuteBars(time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC), 5, 100))
	require.Error(t, err)
	assert.True(t, pipeerrors.IsEmpty(err))
}

func TestDataset_SaveCSV(t *testing.T) {
	dir := t.TempDir()
	cal := `[{"date": "2024-03-12", "time": "12:30", "currency": "USD", "importance": "High", "event": "CPI (YoY)", "actual": "3.2%", "forecast": "3.1%", "previous": "3.1%"}]`
	path := writeCalendar(t, dir, 2024, cal)

	cfg := Config{PreWindowMinutes: 1, PostWindowMinutes: 1, Currencies: []string{"USD"}, Importance: []string{"High"}}
	m := newTestMerger(t, cfg, staticYears{paths: map[int]string{2024: path}})

	start := time.Date(2024, 3, 12, 12, 28, 0, 0, time.UTC)
	dataset, err := m.Merge(context.Background(), minuteBars(start, 6, 100))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "merged.csv")
	require.NoError(t, dataset.SaveCSV(out))

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	require.Greater(t, len(records), 1)
	assert.Equal(t, "timestamp", records[0][0])
	assert.Equal(t, "joint_event_names", records[0][len(records[0])-1])
	for _, record := range records[1:] {
		assert.Len(t, record, len(records[0]))
	}
}
