package preheat

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"calpulse/internal/errors"
)

// MetricNames returns the metric columns present in the detail rows,
// in the stable order produced by metricDefs.
func (m *Monitor) MetricNames() []string {
	defs := m.metricDefs()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.name
	}
	return names
}

// SaveDetailCSV writes the per-event metrics and flags.
func (m *Monitor) SaveDetailCSV(result *Result, path string) error {
	metrics := m.MetricNames()
	header := []string{"event_id", "event_time", "event_name", "currency", "importance"}
	header = append(header, metrics...)
	for _, name := range metrics {
		header = append(header, "flag_"+name)
	}
	header = append(header,
		"flag_price", "flag_volatility", "flag_volume", "requires_review", "reasons")

	records := make([][]string, 0, len(result.Events))
	for _, row := range result.Events {
		rec := []string{
			row.EventID,
			row.EventTime.Format(time.RFC3339),
			row.EventName,
			row.Currency,
			row.Importance,
		}
		for _, name := range metrics {
			rec = append(rec, fmtOpt(row.Metrics[name]))
		}
		for _, name := range metrics {
			rec = append(rec, fmtBool(row.Flags[name]))
		}
		rec = append(rec,
			fmtBool(row.FlagPrice),
			fmtBool(row.FlagVolatility),
			fmtBool(row.FlagVolume),
			fmtBool(row.RequiresReview),
			strings.Join(row.Reasons, "; "))
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

// SaveThresholdsCSV writes the per-metric quantile thresholds.
func SaveThresholdsCSV(rows []ThresholdRow, path string) error {
	sorted := append([]ThresholdRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].MetricType != sorted[j].MetricType {
			return sorted[i].MetricType < sorted[j].MetricType
		}
		if sorted[i].Metric != sorted[j].Metric {
			return sorted[i].Metric < sorted[j].Metric
		}
		return sorted[i].Quantile < sorted[j].Quantile
	})

	header := []string{
		"metric", "metric_type", "window_minutes", "baseline_minutes",
		"quantile", "threshold", "sample_size", "mean", "std",
	}
	records := make([][]string, 0, len(sorted))
	for _, row := range sorted {
		baseline := ""
		if row.Baseline > 0 {
			baseline = strconv.Itoa(row.Baseline)
		}
		records = append(records, []string{
			row.Metric,
			row.MetricType,
			strconv.Itoa(row.Window),
			baseline,
			strconv.FormatFloat(row.Quantile, 'f', 2, 64),
			fmtF(row.Threshold),
			strconv.Itoa(row.SampleSize),
			fmtF(row.Mean),
			fmtF(row.Std),
		})
	}
	return writeCSV(path, header, records)
}

// SaveSummaryCSV writes the per-event-name flag rollup.
func SaveSummaryCSV(rows []SummaryRow, path string) error {
	header := []string{
		"event_name", "total_events", "price_flagged", "volatility_flagged",
		"volume_flagged", "flagged", "flagged_share",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.EventName,
			strconv.Itoa(row.Total),
			strconv.Itoa(row.PriceFlagged),
			strconv.Itoa(row.VolatilityFlagged),
			strconv.Itoa(row.VolumeFlagged),
			strconv.Itoa(row.Flagged),
			strconv.FormatFloat(row.FlaggedShare, 'f', 2, 64),
		})
	}
	return writeCSV(path, header, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("preheat", fmt.Sprintf("create output dir for %s", path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("preheat", fmt.Sprintf("create %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.NewIO("preheat", "write header", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return errors.NewIO("preheat", "write record", err)
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

func fmtBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
