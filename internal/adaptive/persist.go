package adaptive

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"calpulse/internal/errors"
)

// Recommendations is the routing artifact consumed downstream.
type Recommendations struct {
	GeneratedAt time.Time        `json:"generated_at"`
	RunID       string           `json:"run_id"`
	Windows     map[string][]int `json:"windows_by_direction"`
	Events      int              `json:"events"`
	SummaryRows int              `json:"summary_rows"`
	Config      RecommendConfig  `json:"config"`
}

// RecommendConfig echoes the parameters the recommendations came from.
type RecommendConfig struct {
	DominanceRatio  float64 `json:"dominance_ratio"`
	MinShare        float64 `json:"min_share"`
	MinEvents       int     `json:"min_events"`
	TopWindows      int     `json:"top_windows"`
	CandidateWindows []int  `json:"candidate_windows"`
	FallbackWindows []int   `json:"fallback_windows"`
}

// BuildRecommendations unions the recommended windows per direction.
// Directions without a summary row fall back to the configured windows.
func (a *Analyzer) BuildRecommendations(result *Result, runID string) Recommendations {
	byDirection := map[string]map[int]struct{}{}
	for _, row := range result.Summary {
		set := byDirection[row.SurpriseDirection]
		if set == nil {
			set = map[int]struct{}{}
			byDirection[row.SurpriseDirection] = set
		}
		for _, w := range row.Recommended {
			set[w] = struct{}{}
		}
	}

	windows := map[string][]int{}
	all := map[int]struct{}{}
	for direction, set := range byDirection {
		ws := make([]int, 0, len(set))
		for w := range set {
			ws = append(ws, w)
			all[w] = struct{}{}
		}
		sort.Ints(ws)
		windows[direction] = ws
	}
	if len(all) == 0 {
		for _, w := range a.cfg.FallbackWindows {
			all[w] = struct{}{}
		}
	}
	union := make([]int, 0, len(all))
	for w := range all {
		union = append(union, w)
	}
	sort.Ints(union)
	windows["all"] = union

	return Recommendations{
		GeneratedAt: time.Now().UTC(),
		RunID:       runID,
		Windows:     windows,
		Events:      len(result.Detail),
		SummaryRows: len(result.Summary),
		Config: RecommendConfig{
			DominanceRatio:   a.cfg.DominanceRatio,
			MinShare:         a.cfg.MinShare,
			MinEvents:        a.cfg.MinEvents,
			TopWindows:       a.cfg.TopWindows,
			CandidateWindows: result.Windows,
			FallbackWindows:  a.cfg.FallbackWindows,
		},
	}
}

// SaveDetailCSV writes the per-event dominant-window rows.
func SaveDetailCSV(rows []DetailRow, path string) error {
	header := []string{
		"event_id", "event_time", "event_name", "currency", "importance",
		"surprise_pct", "surprise_direction", "surprise_bucket",
		"dominant_window", "dominant_return_pct", "max_abs_return_pct",
		"dominant_share", "profile",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.EventID,
			row.EventTime.Format(time.RFC3339),
			row.EventName,
			row.Currency,
			row.Importance,
			fmtOpt(row.SurprisePct),
			row.SurpriseDirection,
			row.SurpriseBucket,
			strconv.Itoa(row.DominantWindow),
			fmtOpt(row.DominantReturn),
			fmtF(row.MaxAbsReturn),
			fmtF(row.DominantShare),
			row.Profile,
		})
	}
	return writeCSV(path, header, records)
}

// SaveSummaryCSV writes the per-population summary.
func SaveSummaryCSV(rows []SummaryRow, windows []int, path string) error {
	header := []string{
		"currency", "importance", "surprise_direction", "surprise_bucket",
		"events", "bucket_lower", "bucket_upper",
		"mean_abs_surprise_pct", "mean_max_abs_return_pct",
		"median_dominant_window",
	}
	for _, w := range windows {
		header = append(header, fmt.Sprintf("share_%d_pct", w))
	}
	header = append(header, "recommended_windows")

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := []string{
			row.Currency,
			row.Importance,
			row.SurpriseDirection,
			row.SurpriseBucket,
			strconv.Itoa(row.Events),
			fmtOpt(row.BucketLower),
			fmtOpt(row.BucketUpper),
			fmtOpt(row.MeanAbsSurprisePct),
			fmtF(row.MeanMaxAbsReturn),
			fmtF(row.MedianDominantWindow),
		}
		for _, w := range windows {
			rec = append(rec, fmtF(row.WindowShares[w]))
		}
		rec = append(rec, joinInts(row.Recommended, ";"))
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

// SaveRecommendationsJSON writes the routing artifact.
func SaveRecommendationsJSON(rec Recommendations, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("adaptive", fmt.Sprintf("create output dir for %s", path), err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.NewIO("adaptive", "encode recommendations", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewIO("adaptive", fmt.Sprintf("write %s", path), err)
	}
	return nil
}

func joinInts(values []int, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("adaptive", fmt.Sprintf("create output dir for %s", path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("adaptive", fmt.Sprintf("create %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.NewIO("adaptive", "write header", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return errors.NewIO("adaptive", "write record", err)
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
