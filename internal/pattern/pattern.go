// Package pattern matches secret identifiers against wildcard patterns and
// rewrites identifiers from captured wildcard text.
//
// A pattern is literal text with any number of '*' tokens. Each '*' matches any
// run of characters, including '/'. Matching anchors the first literal segment
// at the start, the last at the end, and places middle segments at their
// leftmost occurrence, so it runs in a single bounded pass without backtracking.
package pattern

import "strings"

// Wildcard is the token that matches any run of characters.
const Wildcard = "*"

// HasWildcard reports whether pattern contains a wildcard token
func HasWildcard(pattern string) bool {
	return strings.Contains(pattern, Wildcard)
}

// Match reports whether identifier matches pattern
func Match(identifier, pattern string) bool {
	_, ok := Capture(identifier, pattern)
	return ok
}

// Capture matches identifier against pattern and returns the text captured by
// each wildcard, in order. A pattern without wildcards only matches itself and
// captures nothing.
func Capture(identifier, pattern string) ([]string, bool) {
	segments := strings.Split(pattern, Wildcard)
	if len(segments) == 1 {
		return nil, identifier == pattern
	}

	prefix := segments[0]
	suffix := segments[len(segments)-1]
	if len(identifier) < len(prefix)+len(suffix) {
		return nil, false
	}
	if !strings.HasPrefix(identifier, prefix) || !strings.HasSuffix(identifier, suffix) {
		return nil, false
	}

	captures := make([]string, 0, len(segments)-1)
	cursor := len(prefix)
	end := len(identifier) - len(suffix)

	for _, segment := range segments[1 : len(segments)-1] {
		idx := strings.Index(identifier[cursor:end], segment)
		if idx < 0 {
			return nil, false
		}
		captures = append(captures, identifier[cursor:cursor+idx])
		cursor += idx + len(segment)
	}
	captures = append(captures, identifier[cursor:end])

	return captures, true
}

// Substitute replaces each wildcard in pattern with the corresponding capture.
// Wildcards beyond the number of captures are replaced with nothing.
func Substitute(pattern string, captures []string) string {
	if !HasWildcard(pattern) {
		return pattern
	}

	segments := strings.Split(pattern, Wildcard)
	var b strings.Builder
	b.Grow(len(pattern))
	for i, segment := range segments {
		b.WriteString(segment)
		if i < len(segments)-1 && i < len(captures) {
			b.WriteString(captures[i])
		}
	}
	return b.String()
}

// Entry is one pattern and the value it maps to.
type Entry struct {
	Pattern string
	Value   string
}

// Mapping is an ordered list of entries evaluated with exact-match precedence.
type Mapping []Entry

// Lookup returns the entry for identifier and the text its wildcards captured.
// An entry whose pattern equals identifier wins over any wildcard entry;
// otherwise wildcard entries are tried in declaration order and the first
// match wins.
func (m Mapping) Lookup(identifier string) (Entry, []string, bool) {
	for _, entry := range m {
		if entry.Pattern == identifier {
			return entry, nil, true
		}
	}

	for _, entry := range m {
		if !HasWildcard(entry.Pattern) {
			continue
		}
		if captures, ok := Capture(identifier, entry.Pattern); ok {
			return entry, captures, true
		}
	}

	return Entry{}, nil, false
}

// Rename resolves identifier through the mapping, substituting captured text
// into the matched entry's value.
func (m Mapping) Rename(identifier string) (string, bool) {
	entry, captures, ok := m.Lookup(identifier)
	if !ok {
		return "", false
	}
	return Substitute(entry.Value, captures), true
}
