package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"calpulse/internal/calendar"
	"calpulse/internal/errors"
	"calpulse/internal/prices"
)

// YearSource resolves the calendar file for a year. It reports false when
// no file exists for that year.
type YearSource interface {
	CalendarYearPath(year int) (string, bool)
}

// Merger joins price bars with expanded event windows, one calendar year
// at a time.
type Merger struct {
	cfg      Config
	loader   *calendar.Loader
	years    YearSource
	location *time.Location
	logger   *slog.Logger
}

// NewMerger creates a Merger.
func NewMerger(cfg Config, loader *calendar.Loader, years YearSource, location *time.Location, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{cfg: cfg, loader: loader, years: years, location: location, logger: logger}
}

// Merge expands every release into its [-pre, +post] minute window and
// left-joins the windows onto the price series. Years without a calendar
// file are skipped with a warning; a run in which no year yields events
// is an empty-dataset error.
func (m *Merger) Merge(ctx context.Context, bars []prices.Bar) (*Dataset, error) {
	if len(bars) == 0 {
		return nil, errors.NewEmpty("merge", "price series is empty")
	}

	firstYear := bars[0].Timestamp.In(m.location).Year()
	lastYear := bars[len(bars)-1].Timestamp.In(m.location).Year()

	dataset := &Dataset{Releases: make(map[string]calendar.Release)}
	matchedYears := 0

	for year := firstYear; year <= lastYear; year++ {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("merge", ctx.Err())
		default:
		}

		path, ok := m.years.CalendarYearPath(year)
		if !ok {
			m.logger.WarnContext(ctx, "no calendar file for year, skipping", "year", year)
			continue
		}

		releases, err := m.loader.LoadYear(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("loading calendar year %d: %w", year, err)
		}
		releases = calendar.Filter(releases, m.cfg.Currencies, m.cfg.Importance)
		if len(releases) == 0 {
			m.logger.InfoContext(ctx, "no releases after filtering", "year", year)
			continue
		}

		rows := m.mergeYear(year, releases, bars)
		if len(rows) == 0 {
			m.logger.InfoContext(ctx, "no price bars overlap calendar year", "year", year)
			continue
		}

		dataset.Rows = append(dataset.Rows, rows...)
		for _, r := range releases {
			dataset.Releases[r.EventID] = r
		}
		matchedYears++
		m.logger.InfoContext(ctx, "year merged",
			"year", year,
			"releases", len(releases),
			"rows", len(rows))
	}

	if matchedYears == 0 {
		return nil, errors.NewEmpty("merge", "no events matched the price series in any year")
	}
	return dataset, nil
}

// eventAt is one event occurrence attached to a minute.
type eventAt struct {
	release calendar.Release
	offset  int
	joint   JointMeta
}

func (m *Merger) mergeYear(year int, releases []calendar.Release, bars []prices.Bar) []Row {
	joints := buildJointGroups(releases)

	// Expand event windows into a timestamp index.
	byMinute := make(map[time.Time][]eventAt)
	for _, rel := range releases {
		joint := joints[rel.EventID]
		for offset := -m.cfg.PreWindowMinutes; offset <= m.cfg.PostWindowMinutes; offset++ {
			ts := rel.EventTime.Add(time.Duration(offset) * time.Minute)
			byMinute[ts] = append(byMinute[ts], eventAt{release: rel, offset: offset, joint: joint})
		}
	}

	yearStart := time.Date(year, 1, 1, 0, 0, 0, 0, m.location)
	yearEnd := time.Date(year, 12, 31, 23, 59, 0, 0, m.location)
	slice := prices.Slice(bars,
		yearStart.Add(-time.Duration(m.cfg.PreWindowMinutes)*time.Minute),
		yearEnd.Add(time.Duration(m.cfg.PostWindowMinutes)*time.Minute))

	rows := make([]Row, 0, len(slice))
	for _, bar := range slice {
		events := byMinute[bar.Timestamp]
		base := Row{
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		}
		if len(events) == 0 {
			rows = append(rows, base)
			continue
		}

		distinct := make(map[string]struct{}, len(events))
		for _, ev := range events {
			distinct[ev.release.EventID] = struct{}{}
		}
		for _, ev := range events {
			row := base
			row.HasEvent = true
			row.EventCount = len(distinct)
			row.EventID = ev.release.EventID
			row.EventTime = ev.release.EventTime
			row.EventName = ev.release.Name
			row.Currency = ev.release.Currency
			row.Importance = ev.release.Importance
			row.EventStage = stageFor(ev.offset)
			row.MinutesFromEvent = ev.offset
			row.Actual = ev.release.Actual
			row.Forecast = ev.release.Forecast
			row.Previous = ev.release.Previous
			row.IsPercent = ev.release.IsPercent
			row.Joint = ev.joint
			rows = append(rows, row)
		}
	}
	return rows
}

func stageFor(offset int) string {
	switch {
	case offset < 0:
		return StagePre
	case offset == 0:
		return StageAt
	default:
		return StagePost
	}
}

// buildJointGroups groups releases by their event minute and assigns
// group metadata. Members are ordered by event name; weight splits a
// shared minute evenly.
func buildJointGroups(releases []calendar.Release) map[string]JointMeta {
	byTime := make(map[time.Time][]calendar.Release)
	for _, rel := range releases {
		byTime[rel.EventTime] = append(byTime[rel.EventTime], rel)
	}

	joints := make(map[string]JointMeta, len(releases))
	for eventTime, members := range byTime {
		sort.Slice(members, func(i, j int) bool {
			if members[i].Name != members[j].Name {
				return members[i].Name < members[j].Name
			}
			return members[i].EventID < members[j].EventID
		})
		ids := make([]string, len(members))
		names := make([]string, len(members))
		for i, rel := range members {
			ids[i] = rel.EventID
			names[i] = rel.Name
		}
		groupID := fmt.Sprintf("%s__%s", eventTime.Format(time.RFC3339), strings.Join(ids, "|"))
		weight := 1.0 / float64(len(members))
		for i, rel := range members {
			joints[rel.EventID] = JointMeta{
				GroupID:    groupID,
				Size:       len(members),
				Rank:       i + 1,
				Weight:     weight,
				EventIDs:   strings.Join(ids, ";"),
				EventNames: strings.Join(names, ";"),
			}
		}
	}
	return joints
}
