package uncertainty

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"calpulse/internal/errors"
)

// Metadata is the run-description artifact.
type Metadata struct {
	GeneratedAt     time.Time `json:"generated_at"`
	RunID           string    `json:"run_id"`
	Windows         []int     `json:"windows"`
	Quantiles       []float64 `json:"quantiles"`
	MinSamples      int       `json:"min_samples"`
	MinCalibration  int       `json:"min_calibration"`
	IntervalRows    int       `json:"interval_rows"`
	EventRows       int       `json:"event_rows"`
	CalibrationRows int       `json:"calibration_rows"`
}

// BuildMetadata assembles the metadata artifact.
func (e *Estimator) BuildMetadata(result *Result, runID string) Metadata {
	return Metadata{
		GeneratedAt:     time.Now().UTC(),
		RunID:           runID,
		Windows:         e.cfg.Windows,
		Quantiles:       e.cfg.Quantiles,
		MinSamples:      e.cfg.MinSamples,
		MinCalibration:  e.cfg.MinCalibration,
		IntervalRows:    len(result.Intervals),
		EventRows:       len(result.Events),
		CalibrationRows: len(result.Calibration),
	}
}

// SaveIntervalsCSV writes the interval summaries.
func (e *Estimator) SaveIntervalsCSV(rows []IntervalRow, path string) error {
	quantiles := append([]float64(nil), e.cfg.Quantiles...)
	sort.Float64s(quantiles)
	var levels []int
	for _, q := range quantiles {
		if q < 0.5 {
			levels = append(levels, int((1-2*q)*100+0.5))
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	header := []string{
		"direction", "scope_type", "scope_value", "window_minutes",
		"samples", "mean", "std",
		"positive_share_pct", "negative_share_pct", "zero_share_pct",
		"abs_mean",
	}
	for _, q := range quantiles {
		header = append(header, quantileColumn(q))
	}
	for _, level := range levels {
		header = append(header,
			fmt.Sprintf("ci_%d_lower", level),
			fmt.Sprintf("ci_%d_upper", level))
	}

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := []string{
			row.Direction,
			row.ScopeType,
			row.ScopeValue,
			strconv.Itoa(row.Window),
			strconv.Itoa(row.Samples),
			fmtF(row.Mean),
			fmtF(row.Std),
			fmtF(row.PositiveSharePct),
			fmtF(row.NegativeSharePct),
			fmtF(row.ZeroSharePct),
			fmtF(row.AbsMean),
		}
		for _, q := range quantiles {
			rec = append(rec, fmtF(row.Quantiles[q]))
		}
		for _, level := range levels {
			ci := row.Intervals[level]
			rec = append(rec, fmtF(ci[0]), fmtF(ci[1]))
		}
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

// quantileColumn names a quantile field, quantile_05 for 0.05.
func quantileColumn(q float64) string {
	return fmt.Sprintf("quantile_%02d", int(q*100+0.5))
}

// SaveEventsCSV writes the per-event predictions.
func SaveEventsCSV(rows []EventRow, path string) error {
	header := []string{
		"event_id", "event_time", "event_name", "currency",
		"window_minutes", "surprise_direction",
		"predicted_positive_share", "predicted_from",
		"return_post_pct", "actual_positive",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		actual := ""
		if row.ActualPositive != nil {
			actual = strconv.FormatBool(*row.ActualPositive)
		}
		records = append(records, []string{
			row.EventID,
			row.EventTime.Format(time.RFC3339),
			row.EventName,
			row.Currency,
			strconv.Itoa(row.Window),
			row.Direction,
			fmtOpt(row.PredictedShare),
			row.PredictedFrom,
			fmtOpt(row.Return),
			actual,
		})
	}
	return writeCSV(path, header, records)
}

// SaveCalibrationCSV writes the calibration table.
func SaveCalibrationCSV(rows []CalibrationRow, path string) error {
	header := []string{
		"window_minutes", "probability_bin", "samples",
		"mean_predicted", "actual_positive_rate", "mean_return_pct",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			strconv.Itoa(row.Window),
			row.Bin,
			strconv.Itoa(row.Samples),
			fmtF(row.MeanPredicted),
			fmtF(row.ActualPositiveRate),
			fmtF(row.MeanReturn),
		})
	}
	return writeCSV(path, header, records)
}

// SaveMetadataJSON writes the metadata artifact.
func SaveMetadataJSON(meta Metadata, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("uncertainty", fmt.Sprintf("create output dir for %s", path), err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.NewIO("uncertainty", "encode metadata", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewIO("uncertainty", fmt.Sprintf("write %s", path), err)
	}
	return nil
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("uncertainty", fmt.Sprintf("create output dir for %s", path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("uncertainty", fmt.Sprintf("create %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.NewIO("uncertainty", "write header", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return errors.NewIO("uncertainty", "write record", err)
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
