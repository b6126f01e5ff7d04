package decompose

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

var metricNames = []string{"surprise_pct", "return_post_60_pct", "return_post_240_pct"}

func metricColumns() []string {
	var cols []string
	for _, m := range metricNames {
		cols = append(cols,
			m+"_sample_size",
			m+"_positive_count",
			m+"_negative_count",
			m+"_neutral_count",
			m+"_positive_share",
			m+"_negative_share",
			m+"_neutral_share",
			m+"_mean",
		)
	}
	return cols
}

func metricRecord(metrics ...MetricStats) []string {
	var record []string
	for _, s := range metrics {
		record = append(record,
			strconv.Itoa(s.SampleSize),
			strconv.Itoa(s.PositiveCount),
			strconv.Itoa(s.NegativeCount),
			strconv.Itoa(s.NeutralCount),
			strconv.FormatFloat(s.PositiveShare, 'f', 4, 64),
			strconv.FormatFloat(s.NegativeShare, 'f', 4, 64),
			strconv.FormatFloat(s.NeutralShare, 'f', 4, 64),
			strconv.FormatFloat(s.Mean, 'f', 6, 64),
		)
	}
	return record
}

// SaveDetailCSV writes the per-bucket detail table.
func (r *Result) SaveDetailCSV(path string) error {
	header := append([]string{
		"base_indicator", "frequency_tag", "core_category", "component_category", "event_count",
	}, metricColumns()...)

	rows := make([][]string, 0, len(r.Detail))
	for _, b := range r.Detail {
		row := []string{
			b.BaseIndicator, b.FrequencyTag, b.CoreCategory, b.ComponentCategory,
			strconv.Itoa(b.EventCount),
		}
		rows = append(rows, append(row, metricRecord(b.Surprise, b.Post60, b.Post240)...))
	}
	return writeCSV(path, header, rows)
}

// SaveSummaryCSV writes the cross-indicator summary table.
func (r *Result) SaveSummaryCSV(path string) error {
	header := append([]string{
		"core_category", "component_category", "frequency_tag", "event_count",
	}, metricColumns()...)

	rows := make([][]string, 0, len(r.Summary))
	for _, b := range r.Summary {
		row := []string{
			b.CoreCategory, b.ComponentCategory, b.FrequencyTag,
			strconv.Itoa(b.EventCount),
		}
		rows = append(rows, append(row, metricRecord(b.Surprise, b.Post60, b.Post240)...))
	}
	return writeCSV(path, header, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
