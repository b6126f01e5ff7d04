package alignment

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"calpulse/internal/errors"
	"calpulse/internal/merge"
)

// Windows returns the sorted set of windows present on the events.
func Windows(events []Event) []int {
	seen := map[int]struct{}{}
	for i := range events {
		for w := range events[i].ReturnPost {
			seen[w] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

func windowColumns(w int) []string {
	ws := strconv.Itoa(w)
	return []string{
		"close_pre_" + ws,
		"close_post_" + ws,
		"return_pre_" + ws + "_pct",
		"return_post_" + ws + "_pct",
		"volatility_pre_" + ws + "_pct",
		"volatility_post_" + ws + "_pct",
		"minutes_pre_" + ws,
		"minutes_post_" + ws,
		"volume_pre_" + ws + "_mean",
		"volume_post_" + ws + "_mean",
		"return_post_" + ws + "_per_surprise",
		"return_post_" + ws + "_pct_share",
	}
}

var fixedColumns = []string{
	"event_id", "event_time", "event_name", "currency", "importance",
	"actual", "forecast", "previous", "is_percent",
	"return_at_pct", "return_at_abs_pct", "volatility_at_pct",
	"surprise", "surprise_pct", "revision", "revision_pct",
	"forecast_minus_previous", "forecast_minus_previous_pct",
	"surprise_category", "revision_category",
	"forecast_vs_previous_category", "scenario",
	"return_at_per_surprise", "return_at_pct_share",
	"joint_group_id", "joint_group_size", "joint_group_rank",
	"joint_group_weight", "joint_event_ids", "joint_event_names",
	"joint_event_is_shared",
}

// SaveCSV writes aligned events with one column group per window.
func SaveCSV(events []Event, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create aligned file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	windows := Windows(events)
	header := append([]string{}, fixedColumns...)
	for _, win := range windows {
		header = append(header, windowColumns(win)...)
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range events {
		if err := w.Write(formatEvent(&events[i], windows)); err != nil {
			return fmt.Errorf("failed to write event %s: %w", events[i].EventID, err)
		}
	}

	w.Flush()
	return w.Error()
}

func formatEvent(e *Event, windows []int) []string {
	record := []string{
		e.EventID,
		e.EventTime.Format(time.RFC3339),
		e.EventName,
		e.Currency,
		e.Importance,
		opt(e.Actual),
		opt(e.Forecast),
		opt(e.Previous),
		strconv.FormatBool(e.IsPercent),
		opt(e.ReturnAt),
		opt(e.ReturnAtAbs),
		opt(e.VolatilityAt),
		opt(e.Surprise),
		opt(e.SurprisePct),
		opt(e.Revision),
		opt(e.RevisionPct),
		opt(e.ForecastMinusPrevious),
		opt(e.ForecastMinusPreviousPct),
		e.SurpriseCategory,
		e.RevisionCategory,
		e.ForecastVsPreviousCategory,
		e.Scenario,
		opt(e.ReturnAtPerSurprise),
		opt(e.ReturnAtShare),
		e.Joint.GroupID,
		strconv.Itoa(e.Joint.Size),
		strconv.Itoa(e.Joint.Rank),
		strconv.FormatFloat(e.Joint.Weight, 'f', 6, 64),
		e.Joint.EventIDs,
		e.Joint.EventNames,
		strconv.FormatBool(e.JointShared),
	}
	for _, w := range windows {
		record = append(record,
			opt(e.ClosePre[w]),
			opt(e.ClosePost[w]),
			opt(e.ReturnPre[w]),
			opt(e.ReturnPost[w]),
			opt(e.VolatilityPre[w]),
			opt(e.VolatilityPost[w]),
			strconv.Itoa(e.MinutesPre[w]),
			strconv.Itoa(e.MinutesPost[w]),
			opt(e.VolumePre[w]),
			opt(e.VolumePost[w]),
			opt(e.ReturnPostPerSurprise[w]),
			opt(e.ReturnPostShare[w]),
		)
	}
	return record
}

func opt(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

var postReturnCol = regexp.MustCompile(`^return_post_(\d+)_pct$`)

// LoadCSV reads a previously written aligned dataset, detecting the
// window set from the header.
func LoadCSV(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewInput("alignment", fmt.Sprintf("cannot open aligned file %s", path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewSchema("alignment", "cannot read aligned header", err)
	}

	idx := make(map[string]int, len(header))
	var windows []int
	for i, col := range header {
		idx[col] = i
		if m := postReturnCol.FindStringSubmatch(col); m != nil {
			w, _ := strconv.Atoi(m[1])
			windows = append(windows, w)
		}
	}
	sort.Ints(windows)

	var events []Event
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewSchema("alignment", "malformed aligned row", err)
		}
		event, err := parseEvent(record, idx, windows)
		if err != nil {
			return nil, errors.NewSchema("alignment", "malformed aligned row", err)
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil, errors.NewEmpty("alignment", fmt.Sprintf("aligned file %s has no rows", path))
	}
	return events, nil
}

func parseEvent(record []string, idx map[string]int, windows []int) (Event, error) {
	str := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}
	fl := func(col string) *float64 {
		s := str(col)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &v
	}
	num := func(col string) int {
		v, _ := strconv.Atoi(str(col))
		return v
	}

	eventTime, err := time.Parse(time.RFC3339, str("event_time"))
	if err != nil {
		return Event{}, fmt.Errorf("bad event_time %q: %w", str("event_time"), err)
	}

	e := Event{
		EventID:    str("event_id"),
		EventTime:  eventTime,
		EventName:  str("event_name"),
		Currency:   str("currency"),
		Importance: str("importance"),
		Actual:     fl("actual"),
		Forecast:   fl("forecast"),
		Previous:   fl("previous"),
		IsPercent:  str("is_percent") == "true",

		ReturnAt:     fl("return_at_pct"),
		ReturnAtAbs:  fl("return_at_abs_pct"),
		VolatilityAt: fl("volatility_at_pct"),

		Surprise:                 fl("surprise"),
		SurprisePct:              fl("surprise_pct"),
		Revision:                 fl("revision"),
		RevisionPct:              fl("revision_pct"),
		ForecastMinusPrevious:    fl("forecast_minus_previous"),
		ForecastMinusPreviousPct: fl("forecast_minus_previous_pct"),

		SurpriseCategory:           str("surprise_category"),
		RevisionCategory:           str("revision_category"),
		ForecastVsPreviousCategory: str("forecast_vs_previous_category"),
		Scenario:                   str("scenario"),

		ReturnAtPerSurprise: fl("return_at_per_surprise"),
		ReturnAtShare:       fl("return_at_pct_share"),

		Joint: merge.JointMeta{
			GroupID:    str("joint_group_id"),
			Size:       num("joint_group_size"),
			Rank:       num("joint_group_rank"),
			EventIDs:   str("joint_event_ids"),
			EventNames: str("joint_event_names"),
		},
		JointShared: str("joint_event_is_shared") == "true",

		ClosePre:              make(map[int]*float64, len(windows)),
		ClosePost:             make(map[int]*float64, len(windows)),
		ReturnPre:             make(map[int]*float64, len(windows)),
		ReturnPost:            make(map[int]*float64, len(windows)),
		VolatilityPre:         make(map[int]*float64, len(windows)),
		VolatilityPost:        make(map[int]*float64, len(windows)),
		MinutesPre:            make(map[int]int, len(windows)),
		MinutesPost:           make(map[int]int, len(windows)),
		VolumePre:             make(map[int]*float64, len(windows)),
		VolumePost:            make(map[int]*float64, len(windows)),
		ReturnPostPerSurprise: make(map[int]*float64, len(windows)),
		ReturnPostShare:       make(map[int]*float64, len(windows)),
	}
	if weight := fl("joint_group_weight"); weight != nil {
		e.Joint.Weight = *weight
	}

	for _, w := range windows {
		ws := strconv.Itoa(w)
		e.ClosePre[w] = fl("close_pre_" + ws)
		e.ClosePost[w] = fl("close_post_" + ws)
		e.ReturnPre[w] = fl("return_pre_" + ws + "_pct")
		e.ReturnPost[w] = fl("return_post_" + ws + "_pct")
		e.VolatilityPre[w] = fl("volatility_pre_" + ws + "_pct")
		e.VolatilityPost[w] = fl("volatility_post_" + ws + "_pct")
		e.MinutesPre[w] = num("minutes_pre_" + ws)
		e.MinutesPost[w] = num("minutes_post_" + ws)
		e.VolumePre[w] = fl("volume_pre_" + ws + "_mean")
		e.VolumePost[w] = fl("volume_post_" + ws + "_mean")
		e.ReturnPostPerSurprise[w] = fl("return_post_" + ws + "_per_surprise")
		e.ReturnPostShare[w] = fl("return_post_" + ws + "_pct_share")
	}
	return e, nil
}
