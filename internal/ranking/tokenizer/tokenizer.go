// Package tokenizer turns catalog text and search queries into the
// normalised terms used by the TF-IDF ranker. It lower-cases input, drops
// every rune that is neither a word rune nor whitespace, splits on whitespace
// and discards short tokens.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinTokenLength is the shortest token (in runes) that survives tokenization.
const MinTokenLength = 3

// Tokenize returns the normalised tokens of text in their original order.
// Duplicates are kept; callers count them as term frequency.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.ToLower(text))

	words := strings.Fields(cleaned)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if utf8.RuneCountInString(word) < MinTokenLength {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
