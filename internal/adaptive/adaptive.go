// Package adaptive finds, per event population, the post-event windows
// where the reaction concentrates, and recommends windows per surprise
// direction.
package adaptive

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"calpulse/internal/alignment"
	"calpulse/internal/errors"
	"calpulse/internal/stats"
)

// eps guards the bucket and dominance boundary comparisons.
const eps = 1e-9

// Config holds the adaptive stage parameters.
type Config struct {
	Windows         []int
	DominanceRatio  float64
	BucketQuantiles []float64
	MinEvents       int
	MinShare        float64
	TopWindows      int
	FallbackWindows []int
}

// DetailRow is the per-event dominant-window analysis.
type DetailRow struct {
	EventID    string
	EventTime  time.Time
	EventName  string
	Currency   string
	Importance string

	SurprisePct       *float64
	SurpriseDirection string
	SurpriseBucket    string

	DominantWindow int
	DominantReturn *float64
	MaxAbsReturn   float64
	DominantShare  float64
	Profile        string
}

// SummaryRow aggregates dominant windows for one population.
type SummaryRow struct {
	Currency          string
	Importance        string
	SurpriseDirection string
	SurpriseBucket    string
	Events            int

	// WindowShares maps window to its dominance share in percent.
	WindowShares map[int]float64
	Recommended  []int

	BucketLower *float64
	BucketUpper *float64

	MeanAbsSurprisePct   *float64
	MeanMaxAbsReturn     float64
	MedianDominantWindow float64
}

// Result bundles the stage outputs.
type Result struct {
	Detail  []DetailRow
	Summary []SummaryRow
	Windows []int
	Buckets bucketizer
}

// Analyzer runs the adaptive window analysis.
type Analyzer struct {
	cfg    Config
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// bucketizer assigns absolute surprises to quantile buckets.
type bucketizer struct {
	Edges  []float64
	Labels []string
}

func newBucketizer(values []float64, quantiles []float64) bucketizer {
	if len(values) == 0 {
		return bucketizer{}
	}
	var edges []float64
	for _, q := range quantiles {
		edge := stats.Quantile(values, q)
		// Collapse duplicate edges so every bucket has width.
		if len(edges) == 0 || edge-edges[len(edges)-1] > eps {
			edges = append(edges, edge)
		}
	}
	labels := labelsFor(len(edges) + 1)
	return bucketizer{Edges: edges, Labels: labels}
}

func labelsFor(n int) []string {
	switch n {
	case 1:
		return []string{"all"}
	case 2:
		return []string{"low", "high"}
	default:
		return []string{"low", "mid", "high"}
	}
}

// Assign places an absolute surprise in its bucket. Edges are treated
// as right-open with a small tolerance.
func (b bucketizer) Assign(v *float64) string {
	if v == nil {
		return "unknown"
	}
	if len(b.Labels) == 0 {
		return "unknown"
	}
	abs := math.Abs(*v)
	for i, edge := range b.Edges {
		if abs < edge-eps {
			return b.Labels[i]
		}
	}
	return b.Labels[len(b.Labels)-1]
}

// Bounds returns the lower and upper edge of one bucket, nil for the
// open ends.
func (b bucketizer) Bounds(label string) (*float64, *float64) {
	for i, l := range b.Labels {
		if l != label {
			continue
		}
		var lower, upper *float64
		if i > 0 {
			lower = &b.Edges[i-1]
		}
		if i < len(b.Edges) {
			upper = &b.Edges[i]
		}
		return lower, upper
	}
	return nil, nil
}

// Analyze derives dominant windows and the per-population summary.
func (a *Analyzer) Analyze(ctx context.Context, events []alignment.Event) (*Result, error) {
	if len(events) == 0 {
		return nil, errors.NewEmpty("adaptive", "no aligned events")
	}

	windows := a.windows(events)
	if len(windows) == 0 {
		return nil, errors.NewEmpty("adaptive", "no post windows available")
	}

	var absSurprises []float64
	for i := range events {
		if events[i].SurprisePct != nil {
			absSurprises = append(absSurprises, math.Abs(*events[i].SurprisePct))
		}
	}
	buckets := newBucketizer(absSurprises, a.cfg.BucketQuantiles)

	result := &Result{Windows: windows, Buckets: buckets}
	for i := range events {
		e := &events[i]
		row := DetailRow{
			EventID:           e.EventID,
			EventTime:         e.EventTime,
			EventName:         e.EventName,
			Currency:          e.Currency,
			Importance:        e.Importance,
			SurprisePct:       e.SurprisePct,
			SurpriseDirection: e.SurpriseCategory,
			SurpriseBucket:    buckets.Assign(e.SurprisePct),
		}
		a.dominantWindow(e, windows, &row)
		result.Detail = append(result.Detail, row)
	}

	sort.Slice(result.Detail, func(i, j int) bool {
		if !result.Detail[i].EventTime.Equal(result.Detail[j].EventTime) {
			return result.Detail[i].EventTime.Before(result.Detail[j].EventTime)
		}
		return result.Detail[i].EventID < result.Detail[j].EventID
	})

	result.Summary = a.summarize(result.Detail, windows, buckets)

	a.logger.InfoContext(ctx, "adaptive analysis complete",
		"events", len(result.Detail),
		"summary_rows", len(result.Summary),
		"windows", windows)
	return result, nil
}

// windows returns the configured post windows, or the ones observed on
// the events when the config leaves them empty.
func (a *Analyzer) windows(events []alignment.Event) []int {
	if len(a.cfg.Windows) > 0 {
		out := append([]int(nil), a.cfg.Windows...)
		sort.Ints(out)
		return out
	}
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

// dominantWindow fills the dominance fields: the maximum absolute post
// return, and the smallest window whose reaction already reaches the
// dominance ratio of that maximum.
func (a *Analyzer) dominantWindow(e *alignment.Event, windows []int, row *DetailRow) {
	maxAbs := -1.0
	maxWindow := 0
	available := make([]int, 0, len(windows))
	for _, w := range windows {
		v := e.ReturnPostAt(w)
		if v == nil {
			continue
		}
		available = append(available, w)
		// Strict > keeps the smallest window on ties.
		if abs := math.Abs(*v); abs > maxAbs {
			maxAbs = abs
			maxWindow = w
		}
	}
	if len(available) == 0 {
		row.DominantWindow = 0
		row.Profile = ""
		return
	}

	row.MaxAbsReturn = stats.Round(maxAbs, 6)

	if maxAbs <= eps {
		// Flat reaction, attributed to the smallest window.
		row.DominantWindow = maxWindow
		row.DominantShare = 1.0
		row.DominantReturn = e.ReturnPostAt(maxWindow)
		row.Profile = profileString(e, available, maxAbs)
		return
	}

	threshold := maxAbs*a.cfg.DominanceRatio - eps
	for _, w := range available {
		v := e.ReturnPostAt(w)
		if math.Abs(*v) >= threshold {
			row.DominantWindow = w
			row.DominantReturn = v
			row.DominantShare = stats.Round(math.Abs(*v)/maxAbs, 6)
			break
		}
	}
	row.Profile = profileString(e, available, maxAbs)
}

func profileString(e *alignment.Event, windows []int, maxAbs float64) string {
	parts := make([]string, 0, len(windows))
	for _, w := range windows {
		v := e.ReturnPostAt(w)
		ratio := 0.0
		if maxAbs > eps {
			ratio = math.Abs(*v) / maxAbs
		}
		parts = append(parts, fmt.Sprintf("%d:%.4f", w, ratio))
	}
	return strings.Join(parts, ";")
}

type summaryKey struct {
	Currency   string
	Importance string
	Direction  string
	Bucket     string
}

func (a *Analyzer) summarize(detail []DetailRow, windows []int, buckets bucketizer) []SummaryRow {
	groups := map[summaryKey][]*DetailRow{}
	for i := range detail {
		if detail[i].DominantWindow == 0 {
			continue
		}
		key := summaryKey{
			Currency:   detail[i].Currency,
			Importance: detail[i].Importance,
			Direction:  detail[i].SurpriseDirection,
			Bucket:     detail[i].SurpriseBucket,
		}
		groups[key] = append(groups[key], &detail[i])
	}

	keys := make([]summaryKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Currency != keys[j].Currency {
			return keys[i].Currency < keys[j].Currency
		}
		if keys[i].Importance != keys[j].Importance {
			return keys[i].Importance < keys[j].Importance
		}
		if keys[i].Direction != keys[j].Direction {
			return keys[i].Direction < keys[j].Direction
		}
		return keys[i].Bucket < keys[j].Bucket
	})

	var out []SummaryRow
	for _, key := range keys {
		members := groups[key]
		if len(members) < a.cfg.MinEvents {
			continue
		}

		counts := map[int]int{}
		var absSurprises, maxReturns, dominants []float64
		for _, m := range members {
			counts[m.DominantWindow]++
			if m.SurprisePct != nil {
				absSurprises = append(absSurprises, math.Abs(*m.SurprisePct))
			}
			maxReturns = append(maxReturns, m.MaxAbsReturn)
			dominants = append(dominants, float64(m.DominantWindow))
		}

		shares := map[int]float64{}
		for _, w := range windows {
			shares[w] = stats.Round(float64(counts[w])/float64(len(members))*100, 4)
		}

		row := SummaryRow{
			Currency:             key.Currency,
			Importance:           key.Importance,
			SurpriseDirection:    key.Direction,
			SurpriseBucket:       key.Bucket,
			Events:               len(members),
			WindowShares:         shares,
			Recommended:          a.recommend(counts, len(members), windows),
			MeanAbsSurprisePct:   meanPtr(absSurprises),
			MeanMaxAbsReturn:     stats.Round(stats.Mean(maxReturns), 6),
			MedianDominantWindow: stats.Median(dominants),
		}
		row.BucketLower, row.BucketUpper = buckets.Bounds(key.Bucket)
		out = append(out, row)
	}
	return out
}

// recommend picks the windows clearing the share floor, falling back to
// the top windows by share.
func (a *Analyzer) recommend(counts map[int]int, total int, windows []int) []int {
	var recommended []int
	for _, w := range windows {
		share := float64(counts[w]) / float64(total)
		if share >= a.cfg.MinShare-eps {
			recommended = append(recommended, w)
		}
	}
	if len(recommended) > 0 {
		return recommended
	}

	ranked := append([]int(nil), windows...)
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	top := a.cfg.TopWindows
	if top > len(ranked) {
		top = len(ranked)
	}
	recommended = append(recommended, ranked[:top]...)
	sort.Ints(recommended)
	return recommended
}

func meanPtr(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := stats.Round(stats.Mean(values), 6)
	return &m
}
