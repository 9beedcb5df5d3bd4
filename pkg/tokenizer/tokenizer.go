// Package tokenizer estimates token counts without a model vocabulary.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// CharsPerToken is the average used to convert between characters and tokens.
const CharsPerToken = 4

// CountTokens returns a rough token estimate: the larger of the word-based
// and character-based heuristics, so dense text without spaces is not undercounted.
func CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := utf8.RuneCountInString(text) / CharsPerToken
	return max(byWords, byChars, 1)
}

// TruncateToTokens cuts text so that it holds roughly maxTokens tokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * CharsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
