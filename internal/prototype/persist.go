package prototype

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"calpulse/internal/errors"
)

var groupColumns = []string{"currency", "base_indicator", "frequency_tag", "core_category"}

func groupRecord(key GroupKey) []string {
	return []string{key.Currency, key.BaseIndicator, key.FrequencyTag, key.CoreCategory}
}

// SaveDetailCSV writes the per-event cluster assignments.
func SaveDetailCSV(rows []DetailRow, path string) error {
	header := []string{"event_id", "event_time", "event_name", "importance"}
	header = append(header, groupColumns...)
	header = append(header, "cluster", "distance")
	header = append(header, FeatureNames...)

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := []string{
			row.EventID,
			row.EventTime.Format(time.RFC3339),
			row.EventName,
			row.Importance,
		}
		rec = append(rec, groupRecord(row.Group)...)
		rec = append(rec, strconv.Itoa(row.Cluster), fmtF(row.Distance))
		for _, v := range row.Features {
			rec = append(rec, fmtF(v))
		}
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

// SaveCentroidsCSV writes the cluster centers and their spreads.
func SaveCentroidsCSV(rows []CentroidRow, path string) error {
	header := append([]string{}, groupColumns...)
	header = append(header, "cluster", "size")
	for _, name := range FeatureNames {
		header = append(header, "center_"+name)
	}
	for _, name := range FeatureNames {
		header = append(header, "mad_"+name)
	}

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := append([]string{}, groupRecord(row.Group)...)
		rec = append(rec, strconv.Itoa(row.Cluster), strconv.Itoa(row.Size))
		for _, v := range row.Center {
			rec = append(rec, fmtF(v))
		}
		for _, v := range row.MAD {
			rec = append(rec, fmtF(v))
		}
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

// SaveSummaryCSV writes the per-cluster directional summary.
func SaveSummaryCSV(rows []SummaryRow, path string) error {
	header := append([]string{}, groupColumns...)
	header = append(header, "cluster", "size",
		"positive_share_post_60_pct", "positive_share_post_240_pct",
		"avg_return_post_60_pct", "avg_return_post_240_pct",
		"avg_return_post_15_pct", "avg_return_post_120_pct",
		"avg_return_at_pct")

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := append([]string{}, groupRecord(row.Group)...)
		rec = append(rec,
			strconv.Itoa(row.Cluster),
			strconv.Itoa(row.Size),
			fmtOpt(row.PositiveSharePost60),
			fmtOpt(row.PositiveSharePost240),
			fmtOpt(row.AvgReturnPost60),
			fmtOpt(row.AvgReturnPost240),
			fmtOpt(row.AvgReturnPost15),
			fmtOpt(row.AvgReturnPost120),
			fmtOpt(row.AvgReturnAt))
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("prototype", fmt.Sprintf("create output dir for %s", path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("prototype", fmt.Sprintf("create %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.NewIO("prototype", "write header", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return errors.NewIO("prototype", "write record", err)
		}
	}
	w.Flush()
	return w.Error()
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func fmtOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
