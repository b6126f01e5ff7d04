package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calpulse/internal/config"
	"calpulse/internal/errors"
)

func TestStageStateLifecycle(t *testing.T) {
	st := NewStageState("merge", "Merge prices with calendar")
	assert.Equal(t, StageStatusPending, st.CurrentStatus())
	assert.Equal(t, time.Duration(0), st.Duration())

	st.Start()
	assert.Equal(t, StageStatusActive, st.CurrentStatus())

	st.SetRows(100, 90)
	st.AddArtifact("out/merged_minutes.csv")
	st.Complete()

	assert.Equal(t, StageStatusCompleted, st.CurrentStatus())
	assert.Equal(t, 100, st.RowsIn)
	assert.Equal(t, 90, st.RowsOut)
	assert.GreaterOrEqual(t, st.Duration(), time.Duration(0))
}

func TestStageStateFail(t *testing.T) {
	st := NewStageState("align", "Align events")
	st.Start()
	st.Fail(errors.NewEmpty("align", "no rows"))

	assert.Equal(t, StageStatusFailed, st.CurrentStatus())
	require.Error(t, st.Err)
}

func TestBuildManifest(t *testing.T) {
	cfg := &config.Config{}
	cfg.Paths.OutputDir = "out"
	state := NewState("run-1", cfg, nil, nil)
	state.Start()

	st := state.StageState("merge", "Merge prices with calendar")
	st.Start()
	st.SetRows(10, 8)
	st.AddArtifact("out/merged_minutes.csv")
	st.Complete()

	failed := state.StageState("align", "Align events")
	failed.Start()
	failed.Fail(errors.NewEmpty("align", "no rows"))
	state.Fail()

	manifest := BuildManifest(state)
	assert.Equal(t, "run-1", manifest.RunID)
	assert.Equal(t, RunStatusFailed, manifest.Status)
	require.Len(t, manifest.Stages, 2)

	// Stages sort by id.
	assert.Equal(t, "align", manifest.Stages[0].ID)
	assert.Contains(t, manifest.Stages[0].Error, "no rows")
	assert.Equal(t, "merge", manifest.Stages[1].ID)
	assert.Equal(t, 8, manifest.Stages[1].RowsOut)
}

func TestManifestSave(t *testing.T) {
	cfg := &config.Config{}
	cfg.Paths.OutputDir = t.TempDir()
	state := NewState("run-2", cfg, nil, nil)
	state.Complete()

	path := cfg.Paths.ArtifactPath(config.ManifestFile)
	require.NoError(t, BuildManifest(state).Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded RunManifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-2", decoded.RunID)
	assert.Equal(t, RunStatusCompleted, decoded.Status)
}

func TestRunnerValidationFailure(t *testing.T) {
	cfg := &config.Config{}
	cfg.Paths.OutputDir = t.TempDir()
	state := NewState("run-3", cfg, nil, nil)
	r := NewRunner(cfg, state)

	// No merged dataset, so alignment cannot start.
	err := r.RunStage(context.Background(), NewAlignStage())
	require.Error(t, err)
	assert.Equal(t, errors.TypeEmpty, errors.TypeOf(err))
	assert.Equal(t, StageStatusFailed, state.StageState(StageAlign, "").CurrentStatus())
}

// writeFixtures lays out a small but complete input set: one year of
// calendar data and a band of minute bars around each event.
func writeFixtures(t *testing.T, dir string) (priceFile, calendarDir string) {
	t.Helper()

	calendarDir = filepath.Join(dir, "calendar")
	yearDir := filepath.Join(calendarDir, "2023")
	require.NoError(t, os.MkdirAll(yearDir, 0o755))

	type raw struct {
		Date       string `json:"date"`
		Time       string `json:"time"`
		Currency   string `json:"currency"`
		Importance string `json:"importance"`
		Event      string `json:"event"`
		Actual     string `json:"actual"`
		Forecast   string `json:"forecast"`
		Previous   string `json:"previous"`
	}
	var releases []raw
	for month := 1; month <= 6; month++ {
		releases = append(releases, raw{
			Date:       fmt.Sprintf("2023-%02d-10", month),
			Time:       "12:30",
			Currency:   "USD",
			Importance: "High",
			Event:      "CPI (YoY)",
			Actual:     fmt.Sprintf("%.1f%%", 3.0+float64(month)*0.1),
			Forecast:   "3.0%",
			Previous:   "2.9%",
		})
	}
	data, err := json.Marshal(releases)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(yearDir, "2023_calendar.json"), data, 0o644))

	priceFile = filepath.Join(dir, "prices.csv")
	f, err := os.Create(priceFile)
	require.NoError(t, err)
	defer f.Close()
	fmt.Fprintln(f, "timestamp,open,high,low,close,volume")
	for month := 1; month <= 6; month++ {
		base := time.Date(2023, time.Month(month), 10, 12, 30, 0, 0, time.UTC)
		for offset := -90; offset <= 90; offset++ {
			ts := base.Add(time.Duration(offset) * time.Minute)
			price := 100.0 + float64(month) + float64(offset)*0.01
			fmt.Fprintf(f, "%s,%.4f,%.4f,%.4f,%.4f,%d\n",
				ts.Format("2006-01-02 15:04:05"), price, price+0.05, price-0.05, price, 1000+offset)
		}
	}
	return priceFile, calendarDir
}

func TestRunnerEndToEnd(t *testing.T) {
	dir := t.TempDir()
	priceFile, calendarDir := writeFixtures(t, dir)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Paths.PriceFile = priceFile
	cfg.Paths.CalendarDir = calendarDir
	cfg.Paths.OutputDir = filepath.Join(dir, "out")
	cfg.Metrics.Enabled = false
	cfg.Pipeline.Timezone = "UTC"
	cfg.Pipeline.PreWindowMinutes = 60
	cfg.Pipeline.PostWindowMinutes = 60
	cfg.Pipeline.Alignment.Windows = []int{15, 60}
	cfg.Pipeline.DeepDive.PreWindows = []int{15, 60}
	cfg.Pipeline.DeepDive.PostWindows = []int{15, 60}
	cfg.Pipeline.DeepDive.MediumWindows = []int{60}
	cfg.Pipeline.Preheat.PreWindows = []int{15, 60}
	cfg.Pipeline.Preheat.VolumeBaselines = []int{60}
	cfg.Pipeline.Adaptive.PostWindows = []int{15, 60}
	cfg.Pipeline.Uncertainty.Windows = []int{15, 60}
	cfg.Pipeline.Uncertainty.MinSamples = 3
	cfg.Pipeline.Uncertainty.MinCalibration = 3

	r := NewRunner(cfg, nil)
	require.NoError(t, r.Run(context.Background()))

	state := r.State()
	assert.Equal(t, RunStatusCompleted, state.Status)
	assert.Len(t, state.Aligned(), 6)

	// Every always-on artifact lands in the output directory.
	for _, name := range []string{
		config.MergedFile,
		config.AlignedFile,
		config.HeatmapFile,
		config.ThresholdsFile,
		config.FlagsFile,
		config.DecomposeDetailFile,
		config.PathDetailFile,
		config.PreheatDetailFile,
		config.TrendMonthlyFile,
		config.AdaptiveDetailFile,
		config.AdaptiveRecsFile,
		config.PriorityEventsFile,
		config.PriorityRulesFile,
		config.UncertaintyEventsFile,
		config.UncertaintyMetaFile,
		config.ManifestFile,
	} {
		_, err := os.Stat(cfg.Paths.ArtifactPath(name))
		assert.NoError(t, err, "artifact %s should exist", name)
	}

	// Six events cannot reach the prototype minimum of twelve.
	assert.Equal(t, StageStatusSkipped,
		state.StageState(StagePrototype, "").CurrentStatus())

	var manifest RunManifest
	data, err := os.ReadFile(cfg.Paths.ArtifactPath(config.ManifestFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, state.RunID, manifest.RunID)
	assert.Equal(t, RunStatusCompleted, manifest.Status)
	assert.Len(t, manifest.Stages, 11)
}
