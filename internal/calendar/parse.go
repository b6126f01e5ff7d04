package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// missingValues are source strings that mean "no value".
var missingValues = map[string]struct{}{
	"":    {},
	"-":   {},
	"n/a": {},
	"na":  {},
	"tba": {},
}

// ParseNumeric converts a calendar numeric string into a value. It strips
// thousands separators and a percent marker, and scales k/m/b suffixes by
// 1e3/1e6/1e9. The boolean reports whether the value carried a percent
// sign. Missing markers return nil.
func ParseNumeric(s string) (*float64, bool) {
	s = strings.TrimSpace(s)
	if _, missing := missingValues[strings.ToLower(s)]; missing {
		return nil, false
	}

	isPercent := strings.Contains(s, "%")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	multiplier := 1.0
	if len(s) > 0 {
		switch unicode.ToLower(rune(s[len(s)-1])) {
		case 'k':
			multiplier = 1e3
			s = s[:len(s)-1]
		case 'm':
			multiplier = 1e6
			s = s[:len(s)-1]
		case 'b':
			multiplier = 1e9
			s = s[:len(s)-1]
		}
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, false
	}
	value *= multiplier
	return &value, isPercent
}

// Slugify lowercases a name and collapses every run of non-alphanumeric
// characters into a single dash, trimming leading and trailing dashes.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// EventID builds the canonical event identifier from the event minute
// and the name slug.
func EventID(eventTime time.Time, slug string) string {
	return fmt.Sprintf("%s_%s", eventTime.Format("200601021504"), slug)
}
