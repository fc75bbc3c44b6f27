package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var whitespace = regexp.MustCompile(`\s+`)

// Ellipsis is appended to text shortened by Truncate.
const Ellipsis = "..."

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// RuneLen counts characters rather than bytes.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }

// Truncate shortens s to at most limit runes. Text over the limit keeps its
// first limit-3 runes followed by "...".
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if RuneLen(s) <= limit {
		return s
	}
	if limit <= len(Ellipsis) {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-len(Ellipsis)]) + Ellipsis
}

// ContainsAnyToken reports whether any whole word of text equals one of words.
func ContainsAnyToken(text string, words []string) bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	for _, tok := range Tokenize(text) {
		if set[tok] {
			return true
		}
	}
	return false
}

// Tokenize splits on spaces and punctuation.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	repl := strings.NewReplacer(
		",", " ", ".", " ", "!", " ", "?", " ", ":", " ", ";", " ",
		"\n", " ", "\t", " ", "\r", " ", "(", " ", ")", " ", "[", " ", "]", " ",
		"#", " ", "/", " ", "\"", " ",
	)
	s = repl.Replace(s)
	parts := strings.Fields(s)
	return parts
}
