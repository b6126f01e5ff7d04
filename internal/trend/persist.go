package trend

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"calpulse/internal/errors"
)

// SaveMonthlyCSV writes the indicator-month aggregates.
func SaveMonthlyCSV(rows []MonthlyRow, path string) error {
	header := []string{
		"currency", "indicator", "year", "month", "events",
		"mean_actual", "mean_forecast", "mean_previous",
		"mean_surprise", "mean_surprise_pct",
		"mean_revision", "mean_revision_pct",
		"mean_return_post_60_pct", "mean_return_post_240_pct",
	}
	for _, w := range rollingWindows {
		header = append(header, fmt.Sprintf("surprise_roll_mean_%d", w))
	}
	for _, w := range rollingWindows {
		header = append(header, fmt.Sprintf("surprise_roll_std_%d", w))
	}
	header = append(header, "surprise_yoy_diff")

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := []string{
			row.Currency,
			row.Indicator,
			strconv.Itoa(row.Year),
			strconv.Itoa(int(row.Month)),
			strconv.Itoa(row.Events),
			fmtOpt(row.MeanActual),
			fmtOpt(row.MeanForecast),
			fmtOpt(row.MeanPrevious),
			fmtOpt(row.MeanSurprise),
			fmtOpt(row.MeanSurprisePct),
			fmtOpt(row.MeanRevision),
			fmtOpt(row.MeanRevisionPct),
			fmtOpt(row.MeanPost60),
			fmtOpt(row.MeanPost240),
		}
		for _, w := range rollingWindows {
			rec = append(rec, fmtOpt(row.RollMean[w]))
		}
		for _, w := range rollingWindows {
			rec = append(rec, fmtOpt(row.RollStd[w]))
		}
		rec = append(rec, fmtOpt(row.YoYDiff))
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

// SaveIndicatorCSV writes the per-indicator summaries.
func SaveIndicatorCSV(rows []IndicatorRow, path string) error {
	header := []string{
		"currency", "indicator", "months", "events",
		"seasonality_strength", "trend_slope_mean", "lag1_autocorr",
		"corr_surprise_post_60", "corr_surprise_post_240",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.Currency,
			row.Indicator,
			strconv.Itoa(row.Months),
			strconv.Itoa(row.Events),
			fmtOpt(row.SeasonalityStrength),
			fmtOpt(row.TrendSlopeMean),
			fmtOpt(row.Lag1Autocorr),
			fmtOpt(row.CorrSurprisePost60),
			fmtOpt(row.CorrSurprisePost240),
		})
	}
	return writeCSV(path, header, records)
}

// SaveCorrelationCSV writes the cross-indicator pairs.
func SaveCorrelationCSV(rows []CorrelationRow, path string) error {
	header := []string{"indicator_a", "indicator_b", "shared_periods", "correlation"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.IndicatorA,
			row.IndicatorB,
			strconv.Itoa(row.SharedPeriods),
			fmtF(row.Correlation),
		})
	}
	return writeCSV(path, header, records)
}

// SaveAutoAliasCSV writes the automatic merges, removing a stale file
// when there are none.
func SaveAutoAliasCSV(rows []AutoAlias, path string) error {
	if len(rows) == 0 {
		return removeIfPresent(path)
	}
	header := []string{"alias", "canonical_name", "reason"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{row.Alias, row.Canonical, row.Reason})
	}
	return writeCSV(path, header, records)
}

// SaveSuggestionsCSV writes the review suggestions, removing a stale
// file when there are none.
func SaveSuggestionsCSV(rows []Suggestion, path string) error {
	if len(rows) == 0 {
		return removeIfPresent(path)
	}
	header := []string{"name_a", "name_b", "similarity", "count_a", "count_b"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.NameA,
			row.NameB,
			strconv.FormatFloat(row.Ratio, 'f', 3, 64),
			strconv.Itoa(row.CountA),
			strconv.Itoa(row.CountB),
		})
	}
	return writeCSV(path, header, records)
}

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIO("trend", fmt.Sprintf("remove %s", path), err)
	}
	return nil
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("trend", fmt.Sprintf("create output dir for %s", path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("trend", fmt.Sprintf("create %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.NewIO("trend", "write header", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return errors.NewIO("trend", "write record", err)
		}
	}
	w.Flush()
	return w.Error()
}

func fmtOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtF(*v)
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
