package deepdive

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SaveHeatmapCSV writes the heatmap table. Metric columns are emitted in
// the deterministic metric order used during aggregation.
func (r *Result) SaveHeatmapCSV(path string) error {
	// Union of metric names across rows, first-seen order.
	var metricNames []string
	seen := map[string]struct{}{}
	for _, row := range r.Heatmap {
		for _, m := range row.Metrics {
			if _, ok := seen[m.Name]; !ok {
				seen[m.Name] = struct{}{}
				metricNames = append(metricNames, m.Name)
			}
		}
	}

	header := []string{"currency", "event_name", "event_count", "importance_levels"}
	for _, name := range metricNames {
		header = append(header,
			name+"_sample_size",
			name+"_mean",
			name+"_median",
			name+"_positive_share",
		)
	}

	rows := make([][]string, 0, len(r.Heatmap))
	for _, h := range r.Heatmap {
		byName := make(map[string]MetricSummary, len(h.Metrics))
		for _, m := range h.Metrics {
			byName[m.Name] = m
		}
		record := []string{h.Currency, h.EventName, strconv.Itoa(h.EventCount), h.ImportanceLevels}
		for _, name := range metricNames {
			m, ok := byName[name]
			if !ok {
				record = append(record, "0", "", "", "")
				continue
			}
			record = append(record,
				strconv.Itoa(m.SampleSize),
				strconv.FormatFloat(m.Mean, 'f', 6, 64),
				strconv.FormatFloat(m.Median, 'f', 6, 64),
				strconv.FormatFloat(m.PositiveShare, 'f', 6, 64),
			)
		}
		rows = append(rows, record)
	}
	return writeCSV(path, header, rows)
}

// SaveThresholdsCSV writes the threshold table.
func (r *Result) SaveThresholdsCSV(path string) error {
	header := []string{
		"metric", "stage", "window", "direction", "quantile",
		"threshold_upper", "threshold_lower", "threshold_abs",
		"sample_size", "mean", "std", "abs_mean",
	}
	rows := make([][]string, 0, len(r.Thresholds))
	for _, t := range r.Thresholds {
		rows = append(rows, []string{
			t.Metric, t.Stage, strconv.Itoa(t.Window), t.Direction,
			strconv.FormatFloat(t.Quantile, 'f', -1, 64),
			strconv.FormatFloat(t.Upper, 'f', 6, 64),
			strconv.FormatFloat(t.Lower, 'f', 6, 64),
			strconv.FormatFloat(t.Abs, 'f', 6, 64),
			strconv.Itoa(t.SampleSize),
			strconv.FormatFloat(t.Mean, 'f', 6, 64),
			strconv.FormatFloat(t.Std, 'f', 6, 64),
			strconv.FormatFloat(t.AbsMean, 'f', 6, 64),
		})
	}
	return writeCSV(path, header, rows)
}

// SaveFlagsCSV writes the follow-up flags, follow-ups first.
func (r *Result) SaveFlagsCSV(path string) error {
	header := []string{
		"event_id", "event_time", "event_name", "currency", "importance",
		"direction", "flag_stage_c", "flag_stage_d", "flag_news_review",
		"requires_follow_up", "stage_c_reasons", "stage_d_reasons",
	}
	rows := make([][]string, 0, len(r.Flags))
	for _, f := range r.Flags {
		rows = append(rows, []string{
			f.EventID,
			f.EventTime.Format(time.RFC3339),
			f.EventName,
			f.Currency,
			f.Importance,
			f.Direction,
			strconv.FormatBool(f.FlagStageC),
			strconv.FormatBool(f.FlagStageD),
			strconv.FormatBool(f.FlagNewsReview),
			strconv.FormatBool(f.RequiresFollowUp),
			strings.Join(f.StageCReasons, "; "),
			strings.Join(f.StageDReasons, "; "),
		})
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
