// Package textnorm provides the Unicode normalization shared by extraction,
// duplicate resolution and storage title keys.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Clean applies NFKC (full-width digits and letters become ASCII), replaces
// control characters with spaces and collapses whitespace runs.
func Clean(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// TitleKey returns the case-normalized form used for title comparisons.
func TitleKey(s string) string {
	return strings.ToLower(Clean(s))
}

// Prefix returns the first n runes of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Len returns the rune count of s.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}
