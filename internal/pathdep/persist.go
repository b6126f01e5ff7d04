package pathdep

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SaveDetailCSV writes the per-event streak rows.
func (r *Result) SaveDetailCSV(path string) error {
	header := []string{
		"event_id", "event_time", "event_name", "currency",
		"base_indicator", "frequency_tag", "core_category",
		"surprise_pct", "surprise_direction",
		"streak_state", "streak_direction", "streak_length", "streak_bucket",
		"return_at_pct", "return_post_60_pct", "return_post_240_pct",
		"prev_event_time", "prev_direction", "prev_surprise_pct", "prev_return_post_60_pct",
	}
	rows := make([][]string, 0, len(r.Detail))
	for _, d := range r.Detail {
		prevTime := ""
		if d.PrevEventTime != nil {
			prevTime = d.PrevEventTime.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			d.EventID,
			d.EventTime.Format(time.RFC3339),
			d.EventName,
			d.Currency,
			d.BaseIndicator,
			d.FrequencyTag,
			d.CoreCategory,
			fmtOpt(d.SurprisePct),
			d.SurpriseDirection,
			d.StreakState,
			d.StreakDirection,
			strconv.Itoa(d.StreakLength),
			d.StreakBucket,
			fmtOpt(d.ReturnAt),
			fmtOpt(d.ReturnPost60),
			fmtOpt(d.ReturnPost240),
			prevTime,
			d.PrevDirection,
			fmtOpt(d.PrevSurprisePct),
			fmtOpt(d.PrevReturnPost60),
		})
	}
	return writeCSV(path, header, rows)
}

// SaveSummaryCSV writes the streak state aggregates.
func (r *Result) SaveSummaryCSV(path string) error {
	header := []string{
		"currency", "base_indicator", "frequency_tag", "core_category",
		"streak_state", "streak_direction", "streak_bucket", "event_count",
		"surprise_pct_mean", "return_at_pct_mean",
		"return_post_60_pct_mean", "return_post_240_pct_mean",
		"return_post_60_positive_share", "return_post_240_positive_share",
	}
	rows := make([][]string, 0, len(r.Summary))
	for _, s := range r.Summary {
		rows = append(rows, []string{
			s.Currency,
			s.BaseIndicator,
			s.FrequencyTag,
			s.CoreCategory,
			s.StreakState,
			s.StreakDirection,
			s.StreakBucket,
			strconv.Itoa(s.EventCount),
			fmtF(s.SurpriseMean),
			fmtF(s.ReturnAtMean),
			fmtF(s.ReturnPost60Mean),
			fmtF(s.ReturnPost240Mean),
			fmtF(s.Post60PositiveShare),
			fmtF(s.Post240PositiveShare),
		})
	}
	return writeCSV(path, header, rows)
}

func fmtOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtF(*v)
}

func fmtF(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
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
