package alignment

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"calpulse/internal/errors"
	"calpulse/internal/merge"
)

// Aligner summarizes merged minutes into per-event rows.
type Aligner struct {
	cfg    Config
	logger *slog.Logger
}

// NewAligner creates an Aligner.
func NewAligner(cfg Config, logger *slog.Logger) *Aligner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aligner{cfg: cfg, logger: logger}
}

// minuteBar is the per-offset view of one event's joined minutes.
type minuteBar struct {
	close  float64
	volume float64
}

// Align produces exactly one Event per event ID, sorted by event time
// then event ID.
func (a *Aligner) Align(ctx context.Context, dataset *merge.Dataset) ([]Event, error) {
	if dataset == nil || len(dataset.Rows) == 0 {
		return nil, errors.NewEmpty("alignment", "merged dataset is empty")
	}

	windows := a.windows()

	// Partition rows by event.
	byEvent := make(map[string]map[int]minuteBar)
	meta := make(map[string]merge.Row)
	for _, row := range dataset.Rows {
		if !row.HasEvent {
			continue
		}
		series, ok := byEvent[row.EventID]
		if !ok {
			series = make(map[int]minuteBar)
			byEvent[row.EventID] = series
			meta[row.EventID] = row
		}
		series[row.MinutesFromEvent] = minuteBar{close: row.Close, volume: row.Volume}
	}
	if len(byEvent) == 0 {
		return nil, errors.NewEmpty("alignment", "merged dataset has no event rows")
	}

	events := make([]Event, 0, len(byEvent))
	for eventID, series := range byEvent {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("alignment", ctx.Err())
		default:
		}
		events = append(events, a.summarize(meta[eventID], series, windows))
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].EventTime.Equal(events[j].EventTime) {
			return events[i].EventTime.Before(events[j].EventTime)
		}
		return events[i].EventID < events[j].EventID
	})

	a.logger.InfoContext(ctx, "alignment complete",
		"events", len(events),
		"windows", windows)
	return events, nil
}

// windows returns the configured offsets merged with the pre/post spans,
// deduplicated and sorted ascending.
func (a *Aligner) windows() []int {
	seen := map[int]struct{}{}
	var out []int
	add := func(w int) {
		if w <= 0 {
			return
		}
		if _, ok := seen[w]; !ok {
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	for _, w := range a.cfg.Windows {
		add(w)
	}
	add(a.cfg.PreWindowMinutes)
	add(a.cfg.PostWindowMinutes)
	sort.Ints(out)
	return out
}

func (a *Aligner) summarize(row merge.Row, series map[int]minuteBar, windows []int) Event {
	e := Event{
		EventID:    row.EventID,
		EventTime:  row.EventTime,
		EventName:  row.EventName,
		Currency:   row.Currency,
		Importance: row.Importance,
		Actual:     row.Actual,
		Forecast:   row.Forecast,
		Previous:   row.Previous,
		IsPercent:  row.IsPercent,

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

		Joint:       row.Joint,
		JointShared: row.Joint.Size > 1,
	}

	closeAt := closeAtOffset(series, 0)

	for _, w := range windows {
		closePre := closeAtOffset(series, -w)
		closePost := closeAtOffset(series, w)
		e.ClosePre[w] = closePre
		e.ClosePost[w] = closePost

		e.ReturnPre[w] = pctReturn(closePre, closeAt)
		e.ReturnPost[w] = pctReturn(closeAt, closePost)

		e.VolatilityPre[w] = windowVolatility(series, -w, -1)
		e.VolatilityPost[w] = windowVolatility(series, 1, w)

		e.MinutesPre[w] = countMinutes(series, -w, -1)
		e.MinutesPost[w] = countMinutes(series, 1, w)

		e.VolumePre[w] = meanVolume(series, -w, -1)
		e.VolumePost[w] = meanVolume(series, 1, w)
	}

	closePrev := closeAtOffset(series, -1)
	e.ReturnAt = pctReturn(closePrev, closeAt)
	if e.ReturnAt != nil {
		abs := math.Abs(*e.ReturnAt)
		e.ReturnAtAbs = &abs
		vol := abs
		e.VolatilityAt = &vol
	}

	e.Surprise = diff(row.Actual, row.Forecast)
	e.Revision = diff(row.Actual, row.Previous)
	e.ForecastMinusPrevious = diff(row.Forecast, row.Previous)
	e.SurprisePct = relativePct(e.Surprise, row.Forecast)
	e.RevisionPct = relativePct(e.Revision, row.Previous)
	e.ForecastMinusPreviousPct = relativePct(e.ForecastMinusPrevious, row.Previous)

	e.SurpriseCategory = Categorize(e.Surprise, e.SurprisePct)
	e.RevisionCategory = Categorize(e.Revision, e.RevisionPct)
	e.ForecastVsPreviousCategory = Categorize(e.ForecastMinusPrevious, e.ForecastMinusPreviousPct)
	e.Scenario = e.ForecastVsPreviousCategory + "->" + e.SurpriseCategory

	e.ReturnAtPerSurprise = normalizeBySurprise(e.ReturnAt, e.SurprisePct, e.Surprise)
	for _, w := range windows {
		e.ReturnPostPerSurprise[w] = normalizeBySurprise(e.ReturnPost[w], e.SurprisePct, e.Surprise)
	}

	if e.ReturnAt != nil {
		share := *e.ReturnAt * row.Joint.Weight
		e.ReturnAtShare = &share
	}
	for _, w := range windows {
		if v := e.ReturnPost[w]; v != nil {
			share := *v * row.Joint.Weight
			e.ReturnPostShare[w] = &share
		}
	}
	return e
}

func closeAtOffset(series map[int]minuteBar, offset int) *float64 {
	bar, ok := series[offset]
	if !ok {
		return nil
	}
	c := bar.close
	return &c
}

// pctReturn is (target/base - 1) * 100, nil when either side is missing
// or the base is zero.
func pctReturn(base, target *float64) *float64 {
	if base == nil || target == nil || *base == 0 {
		return nil
	}
	v := (*target / *base - 1) * 100.0
	return &v
}

// windowVolatility is the population standard deviation of one-minute
// percentage changes between consecutive available minutes in
// [from, to], times 100. Needs at least two minutes.
func windowVolatility(series map[int]minuteBar, from, to int) *float64 {
	offsets := offsetsIn(series, from, to)
	if len(offsets) < 2 {
		return nil
	}
	changes := make([]float64, 0, len(offsets)-1)
	for i := 1; i < len(offsets); i++ {
		prev := series[offsets[i-1]].close
		cur := series[offsets[i]].close
		if prev == 0 {
			continue
		}
		changes = append(changes, cur/prev-1)
	}
	if len(changes) == 0 {
		return nil
	}
	v := populationStd(changes) * 100.0
	return &v
}

func countMinutes(series map[int]minuteBar, from, to int) int {
	return len(offsetsIn(series, from, to))
}

func meanVolume(series map[int]minuteBar, from, to int) *float64 {
	offsets := offsetsIn(series, from, to)
	if len(offsets) == 0 {
		return nil
	}
	sum := 0.0
	for _, o := range offsets {
		sum += series[o].volume
	}
	mean := sum / float64(len(offsets))
	return &mean
}

func offsetsIn(series map[int]minuteBar, from, to int) []int {
	var offsets []int
	for o := range series {
		if o >= from && o <= to {
			offsets = append(offsets, o)
		}
	}
	sort.Ints(offsets)
	return offsets
}

func populationStd(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

func diff(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a - *b
	return &v
}

// relativePct is metric/base*100, nil when the base magnitude is below
// Epsilon. The base keeps its sign so a negative forecast flips the
// relative surprise.
func relativePct(metric, base *float64) *float64 {
	if metric == nil || base == nil || math.Abs(*base) < Epsilon {
		return nil
	}
	v := *metric / *base * 100.0
	return &v
}

// normalizeBySurprise divides a return by the surprise magnitude,
// preferring the percentage form of the surprise.
func normalizeBySurprise(value, surprisePct, surprise *float64) *float64 {
	if value == nil {
		return nil
	}
	denom := surprisePct
	if denom == nil {
		denom = surprise
	}
	if denom == nil || math.Abs(*denom) < Epsilon {
		return nil
	}
	v := *value / math.Abs(*denom)
	return &v
}
