// Package decompose classifies indicator names into base indicator,
// frequency, core/headline and component buckets, and aggregates
// directional statistics per bucket.
package decompose

import (
	"regexp"
	"strings"
)

// Classification labels.
const (
	CoreCategory     = "core"
	HeadlineCategory = "headline"

	ComponentEnergy  = "energy"
	ComponentHousing = "housing"
	ComponentFood    = "food"
	ComponentOther   = "other"
)

// Classification is the decomposition of one event name.
type Classification struct {
	BaseIndicator     string
	FrequencyTag      string
	CoreCategory      string
	ComponentCategory string
}

var (
	frequencyPatterns = []struct {
		re  *regexp.Regexp
		tag string
	}{
		{regexp.MustCompile(`(?i)\byoy\b`), "YoY"},
		{regexp.MustCompile(`(?i)\bmom\b`), "MoM"},
		{regexp.MustCompile(`(?i)\bqoq\b`), "QoQ"},
		{regexp.MustCompile(`(?i)\bw[/-]?w\b`), "WoW"},
		{regexp.MustCompile(`(?i)\byoy\s*sa\b`), "YoY-SA"},
	}

	// Trailing month, quarter or year qualifier such as "(Nov)", "(Q4)"
	// or "(2024)".
	monthSuffixPattern = regexp.MustCompile(`(?i)\s*\((jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec|january|february|march|april|june|july|august|september|october|november|december|q[1-4]|\d{4})[^)]*\)`)
	qualifierPattern   = regexp.MustCompile(`(?i)\s*\((q[1-4]|\d{4}|yoy|mom|qoq|w[/-]?w|n?sa)\)\s*$`)

	corePrefixPattern = regexp.MustCompile(`(?i)^core\s+`)
	corePatterns      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcore\b`),
		regexp.MustCompile(`(?i)\bex\b[^()]*\b(food|energy|autos|housing)\b`),
		regexp.MustCompile(`(?i)\bexcluding\b[^()]*\b(food|energy|autos|housing)\b`),
	}
	exClausePattern = regexp.MustCompile(`(?i)\s+(ex|excl\.?|excluding)\s+.+$`)

	energyPattern  = regexp.MustCompile(`(?i)\b(energy|oil|gasoline|gas|petroleum|fuel|crude)\b`)
	housingPattern = regexp.MustCompile(`(?i)\b(housing|home|homes|residential|shelter|mortgage)\b`)
	foodPattern    = regexp.MustCompile(`(?i)\b(food|agricultural)\b`)
)

// Classify decomposes an event name.
func Classify(name string) Classification {
	c := Classification{
		FrequencyTag:      frequencyTag(name),
		CoreCategory:      HeadlineCategory,
		ComponentCategory: componentCategory(name),
		BaseIndicator:     baseIndicator(name),
	}
	for _, p := range corePatterns {
		if p.MatchString(name) {
			c.CoreCategory = CoreCategory
			break
		}
	}
	return c
}

func frequencyTag(name string) string {
	for _, p := range frequencyPatterns {
		if p.re.MatchString(name) {
			return p.tag
		}
	}
	if strings.Contains(name, "(SA)") || strings.Contains(name, "(NSA)") {
		return "Seasonal"
	}
	return "Level"
}

func componentCategory(name string) string {
	switch {
	case energyPattern.MatchString(name):
		return ComponentEnergy
	case housingPattern.MatchString(name):
		return ComponentHousing
	case foodPattern.MatchString(name):
		return ComponentFood
	default:
		return ComponentOther
	}
}

// StripMonthSuffix removes month, quarter and year qualifiers such as
// "(Nov)", "(Q4)" or "(2024)" while leaving frequency qualifiers in
// place.
func StripMonthSuffix(name string) string {
	return strings.TrimSpace(monthSuffixPattern.ReplaceAllString(strings.TrimSpace(name), ""))
}

// baseIndicator strips the trailing month qualifier, frequency
// qualifiers, a leading "core" and any ex/excluding clause, collapsing
// the leftover whitespace.
func baseIndicator(name string) string {
	s := strings.TrimSpace(name)
	s = monthSuffixPattern.ReplaceAllString(s, "")
	for {
		next := qualifierPattern.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = corePrefixPattern.ReplaceAllString(s, "")
	s = exClausePattern.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}
