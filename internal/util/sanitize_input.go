package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeInput trims surrounding whitespace and drops control characters
// other than newlines and tabs from visitor-supplied text.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsFunc(s, isStrippable) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isStrippable(r) {
			return -1
		}
		return r
	}, s)
}

// RuneLength counts characters rather than bytes.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func isStrippable(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return unicode.IsControl(r) || r == utf8.RuneError
}
