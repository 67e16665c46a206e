package playbook

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeText lowercases s and collapses runs of whitespace to a single space.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CountKeyword counts the whole-word occurrences of keyword in text. Both arguments
// must already be normalized with NormalizeText.
func CountKeyword(text, keyword string) int {
	if keyword == "" || len(keyword) > len(text) {
		return 0
	}
	n := 0
	for start := 0; start <= len(text)-len(keyword); {
		i := strings.Index(text[start:], keyword)
		if i < 0 {
			break
		}
		i += start
		end := i + len(keyword)
		if isBoundaryBefore(text, i) && isBoundaryAfter(text, end) {
			n++
			start = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return n
}

// ContainsKeyword reports whether keyword occurs in text as a whole word.
func ContainsKeyword(text, keyword string) bool {
	return CountKeyword(text, keyword) > 0
}

func isBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func isBoundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
