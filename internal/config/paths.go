package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names within a run output directory.
const (
	MergedFile              = "merged_minutes.csv"
	AlignedFile             = "aligned_events.csv"
	HeatmapFile             = "deepdive_heatmap.csv"
	ThresholdsFile          = "deepdive_thresholds.csv"
	FlagsFile               = "deepdive_flags.csv"
	DecomposeDetailFile     = "component_detail.csv"
	DecomposeSummaryFile    = "component_summary.csv"
	PathDetailFile          = "path_dependency_detail.csv"
	PathSummaryFile         = "path_dependency_summary.csv"
	PreheatDetailFile       = "preheat_detail.csv"
	PreheatThresholdsFile   = "preheat_thresholds.csv"
	PreheatSummaryFile      = "preheat_summary.csv"
	PrototypeDetailFile     = "prototype_detail.csv"
	PrototypeCentroidsFile  = "prototype_centroids.csv"
	PrototypeSummaryFile    = "prototype_summary.csv"
	TrendMonthlyFile        = "trend_monthly.csv"
	TrendIndicatorFile      = "trend_indicators.csv"
	TrendCorrelationFile    = "trend_correlations.csv"
	TrendAutoAliasFile      = "trend_auto_aliases.csv"
	TrendSuggestionsFile    = "trend_alias_suggestions.csv"
	AdaptiveDetailFile      = "adaptive_window_detail.csv"
	AdaptiveSummaryFile     = "adaptive_window_summary.csv"
	AdaptiveRecsFile        = "adaptive_window_recommendations.json"
	PriorityEventsFile      = "priority_events.csv"
	PriorityGroupsFile      = "priority_groups.csv"
	PriorityRulesFile       = "priority_rules.json"
	UncertaintyIntervalFile = "uncertainty_intervals.csv"
	UncertaintyEventsFile   = "uncertainty_event_predictions.csv"
	CalibrationFile         = "uncertainty_calibration.csv"
	UncertaintyMetaFile     = "uncertainty_metadata.json"
	ReportFile              = "calpulse_report.xlsx"
	ManifestFile            = "run_manifest.json"
)

// ArtifactPath joins the configured output directory with an artifact name.
func (p PathsConfig) ArtifactPath(name string) string {
	return filepath.Join(p.OutputDir, name)
}

// CalendarYearPath returns the calendar file path for a year, preferring
// JSON over CSV when both exist. The boolean reports whether either file
// is present.
func (p PathsConfig) CalendarYearPath(year int) (string, bool) {
	base := filepath.Join(p.CalendarDir, fmt.Sprintf("%d", year))
	jsonPath := filepath.Join(base, fmt.Sprintf("%d_calendar.json", year))
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, true
	}
	csvPath := filepath.Join(base, fmt.Sprintf("%d_calendar.csv", year))
	if _, err := os.Stat(csvPath); err == nil {
		return csvPath, true
	}
	return "", false
}

// EnsureOutputDir creates the output directory tree if missing.
func (p PathsConfig) EnsureOutputDir() error {
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", p.OutputDir, err)
	}
	return nil
}
