package priority

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"calpulse/internal/errors"
)

// Rules is the routing-rules artifact consumed downstream.
type Rules struct {
	GeneratedAt time.Time   `json:"generated_at"`
	RunID       string      `json:"run_id"`
	Events      int         `json:"events"`
	Groups      int         `json:"groups"`
	Conflicts   int         `json:"conflicts"`
	Config      RulesConfig `json:"config"`
}

// RulesConfig echoes the scoring parameters.
type RulesConfig struct {
	WeightImportance float64 `json:"weight_importance"`
	WeightSurprise   float64 `json:"weight_surprise"`
	WeightReturn     float64 `json:"weight_return"`
	WeightDominance  float64 `json:"weight_dominance"`
	SurpriseCap      float64 `json:"surprise_cap"`
	ReturnCap        float64 `json:"return_cap"`
	MinSignal        float64 `json:"min_signal"`
	MinGroupSize     int     `json:"min_group_size"`
}

// BuildRules assembles the rules artifact.
func (s *Scorer) BuildRules(result *Result, runID string) Rules {
	return Rules{
		GeneratedAt: time.Now().UTC(),
		RunID:       runID,
		Events:      len(result.Events),
		Groups:      len(result.Groups),
		Conflicts:   countConflicts(result.Groups),
		Config: RulesConfig{
			WeightImportance: s.cfg.WeightImportance,
			WeightSurprise:   s.cfg.WeightSurprise,
			WeightReturn:     s.cfg.WeightReturn,
			WeightDominance:  s.cfg.WeightDominance,
			SurpriseCap:      s.cfg.SurpriseCap,
			ReturnCap:        s.cfg.ReturnCap,
			MinSignal:        s.cfg.MinSignal,
			MinGroupSize:     s.cfg.MinGroupSize,
		},
	}
}

// SaveEventsCSV writes the scored and ranked events.
func SaveEventsCSV(rows []EventRow, path string) error {
	header := []string{
		"group_key", "rank", "event_id", "event_time", "event_name",
		"currency", "importance", "importance_weight",
		"surprise_pct", "signal_pct", "signal_used", "direction",
		"dominant_window", "dominant_share", "priority_score",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.GroupKey,
			strconv.Itoa(row.Rank),
			row.EventID,
			row.EventTime.Format(time.RFC3339),
			row.EventName,
			row.Currency,
			row.Importance,
			strconv.FormatFloat(row.ImportanceWeight, 'f', 0, 64),
			fmtOpt(row.SurprisePct),
			fmtOpt(row.Signal),
			row.SignalUsed,
			row.Direction,
			strconv.Itoa(row.DominantWindow),
			fmtF(row.DominantShare),
			fmtF(row.Score),
		})
	}
	return writeCSV(path, header, records)
}

// SaveGroupsCSV writes the group summaries.
func SaveGroupsCSV(rows []GroupRow, path string) error {
	header := []string{
		"group_key", "size", "conflict", "top_event_id", "top_event_name",
		"top_score", "sequence", "directions", "rule_summary",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.GroupKey,
			strconv.Itoa(row.Size),
			strconv.FormatBool(row.Conflict),
			row.TopEventID,
			row.TopEventName,
			fmtF(row.TopScore),
			strings.Join(row.Sequence, ";"),
			strings.Join(row.Directions, ";"),
			row.RuleSummary,
		})
	}
	return writeCSV(path, header, records)
}

// SaveRulesJSON writes the rules artifact.
func SaveRulesJSON(rules Rules, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("priority", fmt.Sprintf("create output dir for %s", path), err)
	}
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return errors.NewIO("priority", "encode rules", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewIO("priority", fmt.Sprintf("write %s", path), err)
	}
	return nil
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("priority", fmt.Sprintf("create output dir for %s", path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("priority", fmt.Sprintf("create %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.NewIO("priority", "write header", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return errors.NewIO("priority", "write record", err)
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
