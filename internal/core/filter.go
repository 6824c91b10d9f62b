package core

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is one include ('+') or exclude ('-') rule in a Filter.
type Pattern struct {
	Type byte // '+' or '-'
	Glob string
}

// Filter is an ordered list of include/exclude glob patterns. Matching is
// last-match-wins: the last pattern in the list that matches a path
// determines whether that path is included.
type Filter struct {
	Patterns []Pattern
}

// ParseFilter builds a Filter from "<+|-><glob>" pattern strings.
func ParseFilter(patterns []string) (*Filter, error) {
	f := &Filter{Patterns: make([]Pattern, 0, len(patterns))}
	for _, raw := range patterns {
		if len(raw) < 2 || (raw[0] != '+' && raw[0] != '-') {
			return nil, fmt.Errorf("invalid filter pattern %q: must start with '+' or '-'", raw)
		}
		f.Patterns = append(f.Patterns, Pattern{Type: raw[0], Glob: normalizeSlashes(raw[1:])})
	}
	return f, nil
}

func normalizeSlashes(s string) string {
	return strings.ReplaceAll(s, "\\", "/")
}

// Ignores reports whether relpath is excluded: it returns the matching
// exclude Pattern (truthy), or nil if the path is included (either no
// pattern matched, or the last matching pattern was an include). Ordering
// is significant: later patterns override earlier ones.
func (f *Filter) Ignores(relpath string) *Pattern {
	relpath = normalizeSlashes(relpath)

	var last *Pattern
	for i := range f.Patterns {
		p := &f.Patterns[i]
		if globMatches(p.Glob, relpath) {
			last = p
		}
	}
	if last != nil && last.Type == '-' {
		return last
	}
	return nil
}

// globMatches evaluates one glob against a normalized relative path, with
// "**" semantics:
//   - "*" matches any run of non-separator characters
//   - "**" matches any run including separators
//   - "**/x" additionally matches bare "x" at the root
//
// doublestar's "**" already matches zero directories (so "**/x" matches
// bare "x" natively), but the explicit bare-name alternative is kept so the
// root-match case is never dependent on that library-specific behavior.
func globMatches(glob, path string) bool {
	for _, candidate := range globAlternatives(glob) {
		if ok, _ := doublestar.Match(candidate, path); ok {
			return true
		}
	}
	return false
}

func globAlternatives(glob string) []string {
	if strings.HasPrefix(glob, "**/") {
		return []string{glob, strings.TrimPrefix(glob, "**/")}
	}
	return []string{glob}
}
