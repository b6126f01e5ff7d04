// Package prototype clusters event reaction shapes with k-means so that
// recurring releases can be compared against a small set of prototypical
// market responses.
package prototype

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"calpulse/internal/alignment"
	"calpulse/internal/decompose"
	"calpulse/internal/errors"
	"calpulse/internal/stats"
)

// FeatureNames lists the reaction-shape features, in vector order.
var FeatureNames = []string{
	"return_pre_15",
	"return_pre_60",
	"return_pre_120",
	"return_at",
	"return_post_15",
	"return_post_60",
	"return_post_120",
	"return_post_240",
}

const (
	convergenceTol = 1e-6
	maxIterations  = 100
)

// Config holds the prototype stage parameters.
type Config struct {
	MinEvents   int
	MaxClusters int
	Seed        int64
}

// GroupKey identifies one clustering population.
type GroupKey struct {
	Currency      string
	BaseIndicator string
	FrequencyTag  string
	CoreCategory  string
}

// DetailRow assigns one event to its cluster.
type DetailRow struct {
	EventID    string
	EventTime  time.Time
	EventName  string
	Importance string
	Group      GroupKey
	Cluster    int
	Distance   float64
	Features   []float64
}

// CentroidRow describes one cluster center.
type CentroidRow struct {
	Group   GroupKey
	Cluster int
	Size    int
	Center  []float64
	// MAD is the mean absolute deviation from the center, per feature.
	MAD []float64
}

// SummaryRow is the directional playbook for one cluster: how often its
// members moved up after the release, and the average reactions.
type SummaryRow struct {
	Group   GroupKey
	Cluster int
	Size    int

	// Shares are percentages rounded to 4 decimals, nil when every
	// member is missing the window.
	PositiveSharePost60  *float64
	PositiveSharePost240 *float64

	// Averages are rounded to 6 decimals, nil when all missing.
	AvgReturnPost60  *float64
	AvgReturnPost240 *float64
	AvgReturnPost15  *float64
	AvgReturnPost120 *float64
	AvgReturnAt      *float64
}

// Result bundles the stage outputs.
type Result struct {
	Detail    []DetailRow
	Centroids []CentroidRow
	Summary   []SummaryRow
}

// Clusterer runs the grouped k-means.
type Clusterer struct {
	cfg    Config
	logger *slog.Logger
}

// NewClusterer creates a Clusterer.
func NewClusterer(cfg Config, logger *slog.Logger) *Clusterer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clusterer{cfg: cfg, logger: logger}
}

// FeatureVector extracts the reaction shape, with missing values as zero.
func FeatureVector(e *alignment.Event) []float64 {
	raw := []*float64{
		e.ReturnPreAt(15),
		e.ReturnPreAt(60),
		e.ReturnPreAt(120),
		e.ReturnAt,
		e.ReturnPostAt(15),
		e.ReturnPostAt(60),
		e.ReturnPostAt(120),
		e.ReturnPostAt(240),
	}
	vec := make([]float64, len(raw))
	for i, v := range raw {
		if v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
			vec[i] = *v
		}
	}
	return vec
}

type member struct {
	event    *alignment.Event
	features []float64
}

// Cluster groups the aligned events and clusters each eligible group.
// The random source is shared across all groups and groups are visited
// in sorted key order, which makes the whole run reproducible.
func (c *Clusterer) Cluster(ctx context.Context, events []alignment.Event) (*Result, error) {
	if len(events) == 0 {
		return nil, errors.NewEmpty("prototype", "no aligned events")
	}

	groups := map[GroupKey][]member{}
	for i := range events {
		e := &events[i]
		cls := decompose.Classify(e.EventName)
		key := GroupKey{
			Currency:      e.Currency,
			BaseIndicator: cls.BaseIndicator,
			FrequencyTag:  cls.FrequencyTag,
			CoreCategory:  cls.CoreCategory,
		}
		groups[key] = append(groups[key], member{event: e, features: FeatureVector(e)})
	}

	keys := make([]GroupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

	rng := rand.New(rand.NewSource(c.cfg.Seed))
	result := &Result{}
	skipped := 0

	for _, key := range keys {
		members := groups[key]
		if len(members) < c.cfg.MinEvents {
			skipped++
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if !members[i].event.EventTime.Equal(members[j].event.EventTime) {
				return members[i].event.EventTime.Before(members[j].event.EventTime)
			}
			return members[i].event.EventID < members[j].event.EventID
		})

		points := make([][]float64, len(members))
		for i, m := range members {
			points[i] = m.features
		}

		k := c.cfg.MaxClusters
		if distinct := countDistinct(points); distinct < k {
			k = distinct
		}
		if len(points) < k {
			k = len(points)
		}

		assignments, centers := runKMeans(rng, points, k)

		for i, m := range members {
			d := euclidean(points[i], centers[assignments[i]])
			result.Detail = append(result.Detail, DetailRow{
				EventID:    m.event.EventID,
				EventTime:  m.event.EventTime,
				EventName:  m.event.EventName,
				Importance: m.event.Importance,
				Group:      key,
				Cluster:    assignments[i],
				Distance:   stats.Round(d, 6),
				Features:   points[i],
			})
		}

		for cluster := 0; cluster < len(centers); cluster++ {
			size := 0
			mad := make([]float64, len(FeatureNames))
			var clusterMembers []member
			for i := range points {
				if assignments[i] != cluster {
					continue
				}
				size++
				clusterMembers = append(clusterMembers, members[i])
				for f := range mad {
					mad[f] += math.Abs(points[i][f] - centers[cluster][f])
				}
			}
			if size == 0 {
				continue
			}
			for f := range mad {
				mad[f] = stats.Round(mad[f]/float64(size), 6)
			}
			rounded := make([]float64, len(centers[cluster]))
			for f, v := range centers[cluster] {
				rounded[f] = stats.Round(v, 6)
			}
			result.Centroids = append(result.Centroids, CentroidRow{
				Group:   key,
				Cluster: cluster,
				Size:    size,
				Center:  rounded,
				MAD:     mad,
			})
			result.Summary = append(result.Summary, summarizeCluster(key, cluster, clusterMembers))
		}
	}

	if len(result.Summary) == 0 {
		return nil, errors.NewEmpty("prototype",
			"no group reached the minimum event count")
	}

	c.logger.InfoContext(ctx, "prototype clustering complete",
		"clusters", len(result.Summary),
		"skipped_groups", skipped,
		"events", len(result.Detail))
	return result, nil
}

// summarizeCluster aggregates the raw post-release returns of the
// cluster's members, skipping missing values per window.
func summarizeCluster(key GroupKey, cluster int, members []member) SummaryRow {
	post := func(w int) func(*alignment.Event) *float64 {
		return func(e *alignment.Event) *float64 { return e.ReturnPostAt(w) }
	}
	at := func(e *alignment.Event) *float64 { return e.ReturnAt }

	return SummaryRow{
		Group:                key,
		Cluster:              cluster,
		Size:                 len(members),
		PositiveSharePost60:  positiveShare(members, post(60)),
		PositiveSharePost240: positiveShare(members, post(240)),
		AvgReturnPost60:      meanReturn(members, post(60)),
		AvgReturnPost240:     meanReturn(members, post(240)),
		AvgReturnPost15:      meanReturn(members, post(15)),
		AvgReturnPost120:     meanReturn(members, post(120)),
		AvgReturnAt:          meanReturn(members, at),
	}
}

func positiveShare(members []member, pick func(*alignment.Event) *float64) *float64 {
	total, positive := 0, 0
	for _, m := range members {
		v := pick(m.event)
		if v == nil {
			continue
		}
		total++
		if *v > 0 {
			positive++
		}
	}
	if total == 0 {
		return nil
	}
	share := stats.Round(float64(positive)/float64(total)*100.0, 4)
	return &share
}

func meanReturn(members []member, pick func(*alignment.Event) *float64) *float64 {
	sum, count := 0.0, 0
	for _, m := range members {
		v := pick(m.event)
		if v == nil {
			continue
		}
		sum += *v
		count++
	}
	if count == 0 {
		return nil
	}
	mean := stats.Round(sum/float64(count), 6)
	return &mean
}

func lessKey(a, b GroupKey) bool {
	if a.Currency != b.Currency {
		return a.Currency < b.Currency
	}
	if a.BaseIndicator != b.BaseIndicator {
		return a.BaseIndicator < b.BaseIndicator
	}
	if a.FrequencyTag != b.FrequencyTag {
		return a.FrequencyTag < b.FrequencyTag
	}
	return a.CoreCategory < b.CoreCategory
}

func countDistinct(points [][]float64) int {
	seen := map[string]struct{}{}
	for _, p := range points {
		seen[vectorKey(p)] = struct{}{}
	}
	return len(seen)
}

func vectorKey(p []float64) string {
	buf := make([]byte, 0, len(p)*10)
	for _, v := range p {
		bits := math.Float64bits(v)
		for shift := 0; shift < 64; shift += 8 {
			buf = append(buf, byte(bits>>shift))
		}
	}
	return string(buf)
}

// runKMeans clusters points into k groups. With k below two every point
// lands in cluster zero centered at the group mean.
func runKMeans(rng *rand.Rand, points [][]float64, k int) ([]int, [][]float64) {
	n := len(points)
	dims := len(points[0])
	assignments := make([]int, n)

	if k <= 1 {
		center := meanPoint(points)
		return assignments, [][]float64{center}
	}

	// Initial centers are distinct sampled points.
	perm := rng.Perm(n)
	centers := make([][]float64, k)
	for i := 0; i < k; i++ {
		centers[i] = append([]float64(nil), points[perm[i]]...)
	}

	for iter := 0; iter < maxIterations; iter++ {
		for i, p := range points {
			assignments[i] = nearest(p, centers)
		}

		shift := 0.0
		for cluster := 0; cluster < k; cluster++ {
			sum := make([]float64, dims)
			count := 0
			for i, p := range points {
				if assignments[i] != cluster {
					continue
				}
				count++
				for f, v := range p {
					sum[f] += v
				}
			}
			var next []float64
			if count == 0 {
				next = meanPoint(points)
			} else {
				next = sum
				for f := range next {
					next[f] /= float64(count)
				}
			}
			shift = math.Max(shift, euclidean(centers[cluster], next))
			centers[cluster] = next
		}

		if shift < convergenceTol {
			break
		}
	}

	for i, p := range points {
		assignments[i] = nearest(p, centers)
	}
	return assignments, centers
}

func nearest(p []float64, centers [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centers {
		if d := euclidean(p, c); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func meanPoint(points [][]float64) []float64 {
	out := make([]float64, len(points[0]))
	for _, p := range points {
		for f, v := range p {
			out[f] += v
		}
	}
	for f := range out {
		out[f] /= float64(len(points))
	}
	return out
}
