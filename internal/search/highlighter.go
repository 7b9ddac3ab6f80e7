package search

import (
	"strings"
	"unicode"
)

// Snippet returns a window of at most maxLen runes of content, centred on the first
// query term it contains. Cut edges are marked with "...". maxLen <= 0 returns content as-is.
func Snippet(content, query string, maxLen int) string {
	runes := []rune(content)
	if maxLen <= 0 || len(runes) <= maxLen {
		return content
	}
	start := 0
	lower := strings.ToLower(content)
	for _, term := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if i := strings.Index(lower, term); i >= 0 {
			pos := len([]rune(lower[:i]))
			start = pos - maxLen/3
			break
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(runes)-maxLen {
		start = len(runes) - maxLen
	}
	out := string(runes[start : start+maxLen])
	if start > 0 {
		out = "..." + out
	}
	if start+maxLen < len(runes) {
		out += "..."
	}
	return out
}
