// Package calendar loads per-year economic calendar files and normalizes
// releases into the form the merge stage consumes.
package calendar

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"calpulse/internal/errors"
)

// Release is one economic calendar entry with parsed numeric fields.
// Actual, Forecast and Previous are nil when the source value was missing.
type Release struct {
	EventTime  time.Time `json:"event_time"`
	Currency   string    `json:"currency"`
	Importance string    `json:"importance"`
	Name       string    `json:"event_name"`
	Slug       string    `json:"slug"`
	EventID    string    `json:"event_id"`

	Actual    *float64 `json:"actual,omitempty"`
	Forecast  *float64 `json:"forecast,omitempty"`
	Previous  *float64 `json:"previous,omitempty"`
	IsPercent bool     `json:"is_percent"`
}

// rawRelease mirrors the on-disk JSON schema.
type rawRelease struct {
	Date       string `json:"date"`
	Time       string `json:"time"`
	Currency   string `json:"currency"`
	Importance string `json:"importance"`
	Event      string `json:"event"`
	Actual     string `json:"actual"`
	Forecast   string `json:"forecast"`
	Previous   string `json:"previous"`
}

// ignoredTimes are calendar time values that do not pin an event to a
// minute and therefore cannot be aligned with price bars.
var ignoredTimes = map[string]struct{}{
	"":          {},
	"all day":   {},
	"tentative": {},
}

// Loader reads and filters calendar files.
type Loader struct {
	location *time.Location
	logger   *slog.Logger
}

// NewLoader creates a Loader resolving event times in the given location.
func NewLoader(location *time.Location, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{location: location, logger: logger}
}

// LoadYear reads one calendar file (JSON or CSV by extension) and returns
// the releases that carry a concrete event minute. Rows that cannot be
// parsed are skipped with a warning.
func (l *Loader) LoadYear(ctx context.Context, path string) ([]Release, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewInput("calendar", fmt.Sprintf("cannot open calendar file %s", path), err)
	}
	defer file.Close()

	var raws []rawRelease
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raws, err = decodeJSON(file)
	case ".csv":
		raws, err = decodeCSV(file)
	default:
		return nil, errors.NewSchema("calendar", fmt.Sprintf("unsupported calendar format %s", filepath.Ext(path)), nil)
	}
	if err != nil {
		return nil, errors.NewSchema("calendar", fmt.Sprintf("cannot decode calendar file %s", path), err)
	}

	releases := make([]Release, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		if _, ignore := ignoredTimes[strings.ToLower(strings.TrimSpace(raw.Time))]; ignore {
			continue
		}
		rel, err := l.buildRelease(raw)
		if err != nil {
			skipped++
			l.logger.WarnContext(ctx, "skipping calendar row",
				"path", path,
				"date", raw.Date,
				"event", raw.Event,
				"error", err)
			continue
		}
		releases = append(releases, rel)
	}

	l.logger.InfoContext(ctx, "calendar year loaded",
		"path", path,
		"releases", len(releases),
		"skipped", skipped)
	return releases, nil
}

// Filter keeps releases matching the configured currencies and importance
// levels. The currency sentinel "ALL" disables currency filtering.
func Filter(releases []Release, currencies, importance []string) []Release {
	currencySet := make(map[string]struct{}, len(currencies))
	allCurrencies := false
	for _, c := range currencies {
		if strings.EqualFold(c, "ALL") {
			allCurrencies = true
		}
		currencySet[strings.ToUpper(c)] = struct{}{}
	}
	importanceSet := make(map[string]struct{}, len(importance))
	for _, imp := range importance {
		importanceSet[titleCase(imp)] = struct{}{}
	}

	out := make([]Release, 0, len(releases))
	for _, r := range releases {
		if !allCurrencies {
			if _, ok := currencySet[strings.ToUpper(r.Currency)]; !ok {
				continue
			}
		}
		if len(importanceSet) > 0 {
			if _, ok := importanceSet[titleCase(r.Importance)]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func (l *Loader) buildRelease(raw rawRelease) (Release, error) {
	eventTime, err := parseEventTime(raw.Date, raw.Time, l.location)
	if err != nil {
		return Release{}, err
	}
	name := strings.TrimSpace(raw.Event)
	if name == "" {
		return Release{}, fmt.Errorf("empty event name")
	}

	actual, actualPct := ParseNumeric(raw.Actual)
	forecast, forecastPct := ParseNumeric(raw.Forecast)
	previous, previousPct := ParseNumeric(raw.Previous)

	slug := Slugify(name)
	return Release{
		EventTime:  eventTime,
		Currency:   strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Importance: titleCase(raw.Importance),
		Name:       name,
		Slug:       slug,
		EventID:    EventID(eventTime, slug),
		Actual:     actual,
		Forecast:   forecast,
		Previous:   previous,
		IsPercent:  actualPct || forecastPct || previousPct,
	}, nil
}

func decodeJSON(r io.Reader) ([]rawRelease, error) {
	var raws []rawRelease
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raws); err != nil {
		return nil, err
	}
	return raws, nil
}

func decodeCSV(r io.Reader) ([]rawRelease, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	field := func(record []string, names ...string) string {
		for _, name := range names {
			if i, ok := idx[name]; ok && i < len(record) {
				return record[i]
			}
		}
		return ""
	}

	raws := make([]rawRelease, 0, len(records)-1)
	for _, record := range records[1:] {
		raws = append(raws, rawRelease{
			Date:       field(record, "date"),
			Time:       field(record, "time"),
			Currency:   field(record, "currency", "cur."),
			Importance: field(record, "importance", "imp."),
			Event:      field(record, "event"),
			Actual:     field(record, "actual"),
			Forecast:   field(record, "forecast"),
			Previous:   field(record, "previous"),
		})
	}
	return raws, nil
}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 02, 2006",
}

func parseEventTime(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)

	var day time.Time
	var err error
	for _, format := range dateFormats {
		day, err = time.ParseInLocation(format, date, loc)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q", date)
	}

	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
