package rulematcher

import "strings"

// Wildcard works as "*" when it is the first and/or last byte of a pattern.
const Wildcard = '%'

// MaxPatternLen is the size of the buffer a stripped pattern must fit,
// including the terminator slot, so usable patterns are one byte shorter.
const MaxPatternLen = 256

// Match reports whether candidate satisfies pattern.
//
// Pattern shapes, checked in order:
//
//	%        any non-empty candidate
//	%inner%  candidate contains inner, "%%" matches anything non-empty
//	%suffix  candidate ends with suffix
//	prefix%  candidate begins with prefix
//	exact    candidate equals pattern
//
// Comparisons are byte-exact and case-sensitive. An empty candidate or
// pattern never matches. Match never fails, any shape it cannot handle
// is reported as no match.
func Match(pattern, candidate string) bool {
	if candidate == "" || pattern == "" {
		return false
	}
	n := len(pattern)
	if n == 1 && pattern[0] == Wildcard {
		return true
	}

	leading := pattern[0] == Wildcard
	trailing := pattern[n-1] == Wildcard

	switch {
	case leading && trailing:
		inner, ok := bounded(pattern[1 : n-1])
		if !ok {
			return false
		}
		return strings.Contains(candidate, inner)
	case leading:
		suffix, ok := bounded(pattern[1:])
		if !ok {
			return false
		}
		return strings.HasSuffix(candidate, suffix)
	case trailing:
		prefix, ok := bounded(pattern[:n-1])
		if !ok {
			return false
		}
		return strings.HasPrefix(candidate, prefix)
	}
	return candidate == pattern
}

// bounded returns src if it fits a MaxPatternLen buffer, one byte being
// kept for the terminator. Anything longer is reported as not ok, so an
// oversized pattern never matches.
func bounded(src string) (string, bool) {
	if len(src) >= MaxPatternLen {
		return "", false
	}
	return src, true
}
