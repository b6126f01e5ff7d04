// Package priority scores simultaneous releases so that conflicting
// events competing for the same reaction window can be ranked.
package priority

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"calpulse/internal/adaptive"
	"calpulse/internal/alignment"
	"calpulse/internal/errors"
	"calpulse/internal/stats"
)

// Signal directions.
const (
	DirectionUp      = "up"
	DirectionDown    = "down"
	DirectionFlat    = "flat"
	DirectionUnknown = "unknown"
)

// Config holds the priority stage parameters.
type Config struct {
	WeightImportance float64
	WeightSurprise   float64
	WeightReturn     float64
	WeightDominance  float64
	SurpriseCap      float64
	ReturnCap        float64
	MinSignal        float64
	MinGroupSize     int
	IncludeSingletons bool
}

// Validate rejects degenerate scoring parameters.
func (c Config) Validate() error {
	if c.SurpriseCap <= 0 || c.ReturnCap <= 0 {
		return errors.NewConfig("priority", "caps must be positive")
	}
	if c.MinSignal < 0 {
		return errors.NewConfig("priority", "min_signal must be non-negative")
	}
	return nil
}

// EventRow is one scored event.
type EventRow struct {
	EventID    string
	EventTime  time.Time
	EventName  string
	Currency   string
	Importance string

	GroupKey string

	SurprisePct    *float64
	Signal         *float64
	SignalUsed     string
	Direction      string
	DominantWindow int
	DominantShare  float64

	ImportanceWeight float64
	Score            float64
	Rank             int
}

// GroupRow summarizes one group of simultaneous events.
type GroupRow struct {
	GroupKey string
	Size     int
	Conflict bool

	TopEventID   string
	TopEventName string
	TopScore     float64

	Sequence    []string
	Directions  []string
	RuleSummary string
}

// Result bundles the stage outputs.
type Result struct {
	Events []EventRow
	Groups []GroupRow
}

// Scorer ranks events within their groups.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
}

// NewScorer creates a Scorer.
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, logger: logger}
}

func importanceWeight(importance string) float64 {
	switch strings.ToLower(importance) {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 1
	}
}

// scaled clips a magnitude at the cap and normalizes it to [0, 1].
func scaled(v *float64, cap float64) float64 {
	if v == nil {
		return 0
	}
	abs := math.Abs(*v)
	if abs > cap {
		abs = cap
	}
	return abs / cap
}

// Score joins the aligned events with the adaptive detail and ranks
// each group.
func (s *Scorer) Score(ctx context.Context, events []alignment.Event, detail []adaptive.DetailRow) (*Result, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.NewEmpty("priority", "no aligned events")
	}

	byID := make(map[string]*adaptive.DetailRow, len(detail))
	for i := range detail {
		byID[detail[i].EventID] = &detail[i]
	}

	timeCounts := map[time.Time]int{}
	for i := range events {
		timeCounts[events[i].EventTime]++
	}

	var rows []EventRow
	for i := range events {
		e := &events[i]
		d, ok := byID[e.EventID]
		if !ok {
			continue // inner join
		}

		signal := d.DominantReturn
		signalUsed := "dominant"
		if signal == nil {
			signal = e.ReturnPostAt(60)
			signalUsed = "post_60"
		}

		row := EventRow{
			EventID:          e.EventID,
			EventTime:        e.EventTime,
			EventName:        e.EventName,
			Currency:         e.Currency,
			Importance:       e.Importance,
			GroupKey:         s.groupKey(e, timeCounts),
			SurprisePct:      e.SurprisePct,
			Signal:           signal,
			SignalUsed:       signalUsed,
			Direction:        s.direction(signal),
			DominantWindow:   d.DominantWindow,
			DominantShare:    d.DominantShare,
			ImportanceWeight: importanceWeight(e.Importance),
		}
		row.Score = stats.Round(
			s.cfg.WeightImportance*row.ImportanceWeight+
				s.cfg.WeightSurprise*scaled(e.SurprisePct, s.cfg.SurpriseCap)+
				s.cfg.WeightReturn*scaled(signal, s.cfg.ReturnCap)+
				s.cfg.WeightDominance*d.DominantShare, 6)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.NewEmpty("priority", "no events joined the adaptive detail")
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].GroupKey != rows[j].GroupKey {
			return rows[i].GroupKey < rows[j].GroupKey
		}
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].ImportanceWeight != rows[j].ImportanceWeight {
			return rows[i].ImportanceWeight > rows[j].ImportanceWeight
		}
		return rows[i].EventID < rows[j].EventID
	})

	rank := 0
	for i := range rows {
		if i == 0 || rows[i].GroupKey != rows[i-1].GroupKey {
			rank = 0
		}
		rank++
		rows[i].Rank = rank
	}

	result := &Result{Events: rows, Groups: s.buildGroups(rows)}

	s.logger.InfoContext(ctx, "priority scoring complete",
		"events", len(result.Events),
		"groups", len(result.Groups),
		"conflicts", countConflicts(result.Groups))
	return result, nil
}

func (s *Scorer) direction(signal *float64) string {
	if signal == nil {
		return DirectionUnknown
	}
	switch {
	case *signal >= s.cfg.MinSignal:
		return DirectionUp
	case *signal <= -s.cfg.MinSignal:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

func (s *Scorer) groupKey(e *alignment.Event, timeCounts map[time.Time]int) string {
	if e.JointShared && e.Joint.GroupID != "" {
		return "joint::" + e.Joint.GroupID
	}
	if timeCounts[e.EventTime] > 1 {
		return "time::" + e.EventTime.Format(time.RFC3339)
	}
	return "event::" + e.EventID
}

func (s *Scorer) buildGroups(rows []EventRow) []GroupRow {
	grouped := map[string][]*EventRow{}
	var order []string
	for i := range rows {
		key := rows[i].GroupKey
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], &rows[i])
	}

	var out []GroupRow
	for _, key := range order {
		members := grouped[key]
		if len(members) < s.cfg.MinGroupSize && !s.cfg.IncludeSingletons {
			continue
		}

		up, down := false, false
		directions := make([]string, 0, len(members))
		sequence := make([]string, 0, len(members))
		for _, m := range members {
			directions = append(directions, m.Direction)
			sequence = append(sequence, m.EventID)
			switch m.Direction {
			case DirectionUp:
				up = true
			case DirectionDown:
				down = true
			}
		}

		top := members[0]
		group := GroupRow{
			GroupKey:     key,
			Size:         len(members),
			Conflict:     up && down,
			TopEventID:   top.EventID,
			TopEventName: top.EventName,
			TopScore:     top.Score,
			Sequence:     sequence,
			Directions:   directions,
		}
		group.RuleSummary = ruleSummary(group, top)
		out = append(out, group)
	}
	return out
}

func ruleSummary(g GroupRow, top *EventRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d simultaneous events at %s: prioritize %q (score %.2f)",
		g.Size, top.EventTime.Format(time.RFC3339), g.TopEventName, g.TopScore)
	if g.Conflict {
		b.WriteString("; directions conflict, trade the top-ranked signal only")
	}
	return b.String()
}

func countConflicts(groups []GroupRow) int {
	n := 0
	for _, g := range groups {
		if g.Conflict {
			n++
		}
	}
	return n
}
