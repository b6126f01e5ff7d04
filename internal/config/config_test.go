package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Asia/Shanghai", cfg.Pipeline.Timezone)
	assert.Equal(t, 1440, cfg.Pipeline.PreWindowMinutes)
	assert.Equal(t, 1440, cfg.Pipeline.PostWindowMinutes)
	assert.Equal(t, []string{"USD"}, cfg.Pipeline.Currencies)
	assert.Equal(t, []string{"Medium", "High"}, cfg.Pipeline.Importance)
	assert.Equal(t, []int{1, 15, 60, 120, 240, 1440}, cfg.Pipeline.Alignment.Windows)
	assert.Equal(t, 0.9, cfg.Pipeline.DeepDive.FlagQuantile)
	assert.Equal(t, int64(42), cfg.Pipeline.Prototype.RandomSeed)
	assert.Equal(t, 0.8, cfg.Pipeline.Adaptive.DominanceRatio)
	assert.Equal(t, 5.0, cfg.Pipeline.Priority.SurpriseCap)
	assert.Equal(t, 1.5, cfg.Pipeline.Priority.ReturnCap)
	assert.Equal(t, 15, cfg.Pipeline.Uncertainty.MinSamples)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "calpulse.yaml")
	content := `
pipeline:
  timezone: "UTC"
  pre_window_minutes: 720
  currencies:
    - EUR
    - USD
  adaptive:
    dominance_ratio: 0.7
paths:
  output_dir: "artifacts"
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Pipeline.Timezone)
	assert.Equal(t, 720, cfg.Pipeline.PreWindowMinutes)
	assert.Equal(t, []string{"EUR", "USD"}, cfg.Pipeline.Currencies)
	assert.Equal(t, 0.7, cfg.Pipeline.Adaptive.DominanceRatio)
	assert.Equal(t, "artifacts", cfg.Paths.OutputDir)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1440, cfg.Pipeline.PostWindowMinutes)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rules(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "dominance ratio above one",
			mutate:  func(c *Config) { c.Pipeline.Adaptive.DominanceRatio = 1.5 },
			wantErr: "dominance_ratio",
		},
		{
			name:    "flag quantile at one",
			mutate:  func(c *Config) { c.Pipeline.DeepDive.FlagQuantile = 1.0 },
			wantErr: "flag_quantile",
		},
		{
			name:    "zero return cap",
			mutate:  func(c *Config) { c.Pipeline.Priority.ReturnCap = 0 },
			wantErr: "caps must be positive",
		},
		{
			name:    "negative min signal",
			mutate:  func(c *Config) { c.Pipeline.Priority.MinSignal = -0.1 },
			wantErr: "min_signal",
		},
		{
			name:    "non-positive alignment window",
			mutate:  func(c *Config) { c.Pipeline.Alignment.Windows = []int{60, 0} },
			wantErr: "window must be positive",
		},
		{
			name:    "no currencies",
			mutate:  func(c *Config) { c.Pipeline.Currencies = nil },
			wantErr: "currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCalendarYearPath(t *testing.T) {
	dir := t.TempDir()
	paths := PathsConfig{CalendarDir: dir}

	_, ok := paths.CalendarYearPath(2024)
	assert.False(t, ok)

	yearDir := filepath.Join(dir, "2024")
	require.NoError(t, os.MkdirAll(yearDir, 0o755))
	csvPath := filepath.Join(yearDir, "2024_calendar.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("date\n"), 0o644))

	got, ok := paths.CalendarYearPath(2024)
	require.True(t, ok)
	assert.Equal(t, csvPath, got)

	// JSON wins when both exist.
	jsonPath := filepath.Join(yearDir, "2024_calendar.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte("[]"), 0o644))

	got, ok = paths.CalendarYearPath(2024)
	require.True(t, ok)
	assert.Equal(t, jsonPath, got)
}
