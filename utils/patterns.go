package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PatternMatcher decides whether a discovered path is handed to the scan.
// Globs match the base name, regexes match the full path, substring excludes
// match the path relative to the scan root and extensions match the suffix.
type PatternMatcher struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
	extensions   map[string]struct{}
	substrings   *MarkerSet
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	return &PatternMatcher{
		includeGlobs: append([]string(nil), includePatterns...),
		includeRegex: compileRegex(includePatterns),
		excludeGlobs: append([]string(nil), excludePatterns...),
		excludeRegex: compileRegex(excludePatterns),
	}
}

// WithExtensions restricts matches to the given extensions ("jpg" or ".jpg").
func (m *PatternMatcher) WithExtensions(exts []string) *PatternMatcher {
	if len(exts) == 0 {
		return m
	}
	m.extensions = make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			m.extensions[ext] = struct{}{}
		}
	}
	return m
}

// WithExcludeSubstrings rejects paths whose root-relative form contains any
// of the given fragments, ignoring case.
func (m *PatternMatcher) WithExcludeSubstrings(fragments []string) *PatternMatcher {
	set := NewMarkerSet(fragments)
	if set.Len() > 0 {
		m.substrings = set
	}
	return m
}

func (m *PatternMatcher) ShouldInclude(path string) bool {
	return m.ShouldIncludeRelative(path, path)
}

// ShouldIncludeRelative is ShouldInclude with the root-relative form of path
// used for substring excludes.
func (m *PatternMatcher) ShouldIncludeRelative(path, rel string) bool {
	if m == nil {
		return true
	}
	if len(m.extensions) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if _, ok := m.extensions[ext]; !ok {
			return false
		}
	}
	if m.substrings != nil && m.substrings.Contains(rel) {
		return false
	}
	if (len(m.includeGlobs) > 0 || len(m.includeRegex) > 0) && !m.matches(path, m.includeGlobs, m.includeRegex) {
		return false
	}
	if (len(m.excludeGlobs) > 0 || len(m.excludeRegex) > 0) && m.matches(path, m.excludeGlobs, m.excludeRegex) {
		return false
	}
	return true
}

func (m *PatternMatcher) matches(path string, globs []string, regexes []*regexp.Regexp) bool {
	base := filepath.Base(path)
	for _, pattern := range globs {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func compileRegex(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}
