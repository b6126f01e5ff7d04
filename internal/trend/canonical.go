package trend

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"calpulse/internal/calendar"
	"calpulse/internal/decompose"
	"calpulse/internal/errors"
)

// Similarity thresholds for automatic merges and review suggestions.
const (
	autoMergeRatio  = 0.97
	suggestionRatio = 0.90
)

// AutoAlias records one automatic name merge.
type AutoAlias struct {
	Alias     string
	Canonical string
	Reason    string
}

// Suggestion records a near-miss pair for manual review.
type Suggestion struct {
	NameA  string
	NameB  string
	Ratio  float64
	CountA int
	CountB int
}

// unionFind is a union-by-rank disjoint set over names.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}, rank: map[string]int{}}
}

func (u *unionFind) add(name string) {
	if _, ok := u.parent[name]; !ok {
		u.parent[name] = name
	}
}

func (u *unionFind) find(name string) string {
	u.add(name)
	root := name
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[name] != root {
		name, u.parent[name] = u.parent[name], root
	}
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// Canonicalizer resolves raw event names to canonical indicator names.
type Canonicalizer struct {
	canonical   map[string]string
	AutoAliases []AutoAlias
	Suggestions []Suggestion
}

// LoadManualAliases reads alias,canonical_name pairs. A missing file is
// not an error.
func LoadManualAliases(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIO("trend", fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	aliases := map[string]string{}
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewIO("trend", fmt.Sprintf("read %s", path), err)
		}
		if len(rec) < 2 {
			continue
		}
		alias := strings.TrimSpace(rec[0])
		canonical := strings.TrimSpace(rec[1])
		if first {
			first = false
			if strings.EqualFold(alias, "alias") {
				continue
			}
		}
		if alias == "" || canonical == "" {
			continue
		}
		aliases[alias] = canonical
	}
	return aliases, nil
}

// NewCanonicalizer builds the name resolution from observed counts and
// manual alias pairs.
func NewCanonicalizer(counts map[string]int, manual map[string]string) *Canonicalizer {
	uf := newUnionFind()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
		uf.add(name)
	}
	sort.Strings(names)

	for alias, canonical := range manual {
		uf.union(alias, canonical)
	}

	// Names sharing a slug are the same indicator spelled differently.
	bySlug := map[string][]string{}
	for _, name := range names {
		slug := calendar.Slugify(decompose.StripMonthSuffix(name))
		bySlug[slug] = append(bySlug[slug], name)
	}
	slugs := make([]string, 0, len(bySlug))
	for slug := range bySlug {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		group := bySlug[slug]
		for _, name := range group[1:] {
			uf.union(group[0], name)
		}
	}

	c := &Canonicalizer{canonical: map[string]string{}}

	// Candidates sharing their first two tokens are compared with the
	// similarity ratio.
	byPrefix := map[string][]string{}
	for _, name := range names {
		byPrefix[prefixKey(name)] = append(byPrefix[prefixKey(name)], name)
	}
	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	suggested := map[[2]string]float64{}
	for _, prefix := range prefixes {
		group := byPrefix[prefix]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if uf.find(group[i]) == uf.find(group[j]) {
					continue
				}
				ratio := similarity(strings.ToLower(group[i]), strings.ToLower(group[j]))
				switch {
				case ratio >= autoMergeRatio:
					uf.union(group[i], group[j])
					c.AutoAliases = append(c.AutoAliases, AutoAlias{
						Alias:     group[j],
						Canonical: group[i],
						Reason:    fmt.Sprintf("auto_similarity:%.3f", ratio),
					})
				case ratio >= suggestionRatio:
					pair := [2]string{group[i], group[j]}
					if pair[0] > pair[1] {
						pair[0], pair[1] = pair[1], pair[0]
					}
					if ratio > suggested[pair] {
						suggested[pair] = ratio
					}
				}
			}
		}
	}
	for pair, ratio := range suggested {
		c.Suggestions = append(c.Suggestions, Suggestion{
			NameA:  pair[0],
			NameB:  pair[1],
			Ratio:  ratio,
			CountA: counts[pair[0]],
			CountB: counts[pair[1]],
		})
	}
	sort.Slice(c.Suggestions, func(i, j int) bool {
		if c.Suggestions[i].NameA != c.Suggestions[j].NameA {
			return c.Suggestions[i].NameA < c.Suggestions[j].NameA
		}
		return c.Suggestions[i].NameB < c.Suggestions[j].NameB
	})

	// Resolve manual targets against the final components so that later
	// merges cannot detach them from their root.
	manualTarget := map[string]string{}
	manualAliases := make([]string, 0, len(manual))
	for alias := range manual {
		manualAliases = append(manualAliases, alias)
	}
	sort.Strings(manualAliases)
	for _, alias := range manualAliases {
		manualTarget[uf.find(alias)] = manual[alias]
	}

	// Canonical pick per component: manual target wins, otherwise the
	// most frequent name, then the shortest, then lexicographic.
	components := map[string][]string{}
	for _, name := range names {
		root := uf.find(name)
		components[root] = append(components[root], name)
	}
	for alias := range manual {
		root := uf.find(alias)
		if _, ok := components[root]; !ok {
			components[root] = []string{alias}
		}
	}
	for root, members := range components {
		canonical := ""
		if target, ok := manualTarget[uf.find(root)]; ok {
			canonical = target
		} else {
			best := members[0]
			for _, name := range members[1:] {
				if betterCanonical(name, best, counts) {
					best = name
				}
			}
			canonical = best
		}
		for _, name := range members {
			c.canonical[name] = canonical
		}
	}
	return c
}

func betterCanonical(candidate, current string, counts map[string]int) bool {
	if counts[candidate] != counts[current] {
		return counts[candidate] > counts[current]
	}
	if len(candidate) != len(current) {
		return len(candidate) < len(current)
	}
	return strings.ToLower(candidate) < strings.ToLower(current)
}

// Resolve maps a raw event name to its canonical indicator name.
func (c *Canonicalizer) Resolve(name string) string {
	if canonical, ok := c.canonical[name]; ok {
		return canonical
	}
	return name
}

func prefixKey(name string) string {
	fields := strings.Fields(strings.ToLower(decompose.StripMonthSuffix(name)))
	if len(fields) > 2 {
		fields = fields[:2]
	}
	return strings.Join(fields, " ")
}
