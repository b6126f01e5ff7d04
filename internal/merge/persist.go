package merge

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// SaveCSV writes the merged dataset sorted by timestamp, then event ID.
func (d *Dataset) SaveCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create merged file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{
		"timestamp", "open", "high", "low", "close", "volume",
		"has_event", "event_count",
		"event_id", "event_time", "event_name", "currency", "importance",
		"event_stage", "minutes_from_event",
		"actual", "forecast", "previous", "is_percent",
		"joint_group_id", "joint_group_size", "joint_group_rank",
		"joint_group_weight", "joint_event_ids", "joint_event_names",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	rows := make([]Row, len(d.Rows))
	copy(rows, d.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].EventID < rows[j].EventID
	})

	for _, row := range rows {
		if err := w.Write(formatRow(row)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func formatRow(r Row) []string {
	record := []string{
		r.Timestamp.Format(time.RFC3339),
		formatFloat(r.Open, 6),
		formatFloat(r.High, 6),
		formatFloat(r.Low, 6),
		formatFloat(r.Close, 6),
		formatFloat(r.Volume, 6),
		strconv.FormatBool(r.HasEvent),
		strconv.Itoa(r.EventCount),
	}
	if !r.HasEvent {
		// Event columns stay empty for plain price minutes.
		return append(record, make([]string, 17)...)
	}
	return append(record,
		r.EventID,
		r.EventTime.Format(time.RFC3339),
		r.EventName,
		r.Currency,
		r.Importance,
		r.EventStage,
		strconv.Itoa(r.MinutesFromEvent),
		formatOptional(r.Actual, 6),
		formatOptional(r.Forecast, 6),
		formatOptional(r.Previous, 6),
		strconv.FormatBool(r.IsPercent),
		r.Joint.GroupID,
		strconv.Itoa(r.Joint.Size),
		strconv.Itoa(r.Joint.Rank),
		formatFloat(r.Joint.Weight, 6),
		r.Joint.EventIDs,
		r.Joint.EventNames,
	)
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func formatOptional(v *float64, precision int) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v, precision)
}
