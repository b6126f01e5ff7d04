// Package prices loads and prepares the minute price bar series.
package prices

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"calpulse/internal/errors"
)

// Bar is one minute price bar.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Loader reads minute bars from CSV.
type Loader struct {
	location *time.Location
	logger   *slog.Logger
}

// NewLoader creates a Loader interpreting naive timestamps in the given
// location.
func NewLoader(location *time.Location, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{location: location, logger: logger}
}

// Load reads the bar CSV, sorts by timestamp and drops duplicate minutes
// keeping the last occurrence. Rows that fail to parse are skipped with a
// warning; a file with no usable rows is an empty-dataset error.
func (l *Loader) Load(ctx context.Context, path string) ([]Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewInput("prices", fmt.Sprintf("cannot open price file %s", path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewSchema("prices", "cannot read price header", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, errors.NewSchema("prices", err.Error(), nil)
	}

	var bars []Bar
	skipped := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			skipped++
			l.logger.WarnContext(ctx, "skipping malformed price row", "line", line, "error", err)
			continue
		}
		bar, err := l.parseBar(record, idx)
		if err != nil {
			skipped++
			l.logger.WarnContext(ctx, "skipping price row", "line", line, "error", err)
			continue
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, errors.NewEmpty("prices", fmt.Sprintf("no usable price rows in %s", path))
	}

	bars = normalize(bars)
	l.logger.InfoContext(ctx, "price series loaded",
		"path", path,
		"bars", len(bars),
		"skipped", skipped,
		"from", bars[0].Timestamp,
		"to", bars[len(bars)-1].Timestamp)
	return bars, nil
}

// Slice returns the bars with from <= timestamp <= to.
func Slice(bars []Bar, from, to time.Time) []Bar {
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(from) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp.After(to) })
	if lo >= hi {
		return nil
	}
	return bars[lo:hi]
}

type colIndex struct {
	timestamp, open, high, low, close, volume int
}

func columnIndex(header []string) (colIndex, error) {
	pos := make(map[string]int, len(header))
	for i, col := range header {
		pos[strings.ToLower(strings.TrimSpace(col))] = i
	}
	idx := colIndex{timestamp: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	lookup := func(target *int, names ...string) {
		for _, name := range names {
			if i, ok := pos[name]; ok {
				*target = i
				return
			}
		}
	}
	lookup(&idx.timestamp, "timestamp", "datetime", "time")
	lookup(&idx.open, "open")
	lookup(&idx.high, "high")
	lookup(&idx.low, "low")
	lookup(&idx.close, "close")
	lookup(&idx.volume, "volume", "tick_volume", "vol")

	if idx.timestamp < 0 || idx.close < 0 {
		return idx, fmt.Errorf("price header must contain timestamp and close columns, got %v", header)
	}
	return idx, nil
}

func (l *Loader) parseBar(record []string, idx colIndex) (Bar, error) {
	ts, err := l.parseTimestamp(record[idx.timestamp])
	if err != nil {
		return Bar{}, err
	}
	bar := Bar{Timestamp: ts}

	parse := func(i int, target *float64, name string) error {
		if i < 0 || i >= len(record) {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return fmt.Errorf("bad %s value %q", name, record[i])
		}
		*target = v
		return nil
	}
	if err := parse(idx.open, &bar.Open, "open"); err != nil {
		return Bar{}, err
	}
	if err := parse(idx.high, &bar.High, "high"); err != nil {
		return Bar{}, err
	}
	if err := parse(idx.low, &bar.Low, "low"); err != nil {
		return Bar{}, err
	}
	if err := parse(idx.close, &bar.Close, "close"); err != nil {
		return Bar{}, err
	}
	if err := parse(idx.volume, &bar.Volume, "volume"); err != nil {
		return Bar{}, err
	}
	return bar, nil
}

func (l *Loader) parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range timestampFormats {
		if ts, err := time.ParseInLocation(format, s, l.location); err == nil {
			return ts.Truncate(time.Minute), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// normalize sorts ascending and deduplicates timestamps keeping the last
// occurrence, matching how late corrections overwrite earlier bars.
func normalize(bars []Bar) []Bar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	out := bars[:0]
	for i := 0; i < len(bars); i++ {
		if i+1 < len(bars) && bars[i+1].Timestamp.Equal(bars[i].Timestamp) {
			continue
		}
		out = append(out, bars[i])
	}
	return out
}
