package utils

import (
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// MarkerSet finds case-insensitive substring markers in a single pass.
// It is safe for concurrent use.
type MarkerSet struct {
	markers []string
	matcher *ahocorasick.Matcher
}

func NewMarkerSet(markers []string) *MarkerSet {
	seen := make(map[string]struct{}, len(markers))
	normalized := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		normalized = append(normalized, m)
	}
	set := &MarkerSet{markers: normalized}
	if len(normalized) > 0 {
		set.matcher = ahocorasick.NewStringMatcher(normalized)
	}
	return set
}

func (m *MarkerSet) Len() int {
	if m == nil {
		return 0
	}
	return len(m.markers)
}

// Matches returns each distinct marker found in s, sorted.
func (m *MarkerSet) Matches(s string) []string {
	if m == nil || m.matcher == nil || s == "" {
		return nil
	}
	hits := m.matcher.MatchThreadSafe([]byte(strings.ToLower(s)))
	if len(hits) == 0 {
		return nil
	}
	found := make(map[int]struct{}, len(hits))
	out := make([]string, 0, len(hits))
	for _, idx := range hits {
		if idx < 0 || idx >= len(m.markers) {
			continue
		}
		if _, ok := found[idx]; ok {
			continue
		}
		found[idx] = struct{}{}
		out = append(out, m.markers[idx])
	}
	sort.Strings(out)
	return out
}

func (m *MarkerSet) Contains(s string) bool {
	return len(m.Matches(s)) > 0
}
