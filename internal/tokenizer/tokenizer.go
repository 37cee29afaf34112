// Package tokenizer splits document text into the terms the source indexer
// files and the line locator matches: normalised prose words (lower-cased,
// stop-words removed, suffix-stemmed) and programming-language identifiers
// with their declaration sites.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is a normalised word and where it starts in the text. Line and
// Column are 1-based; Column counts bytes.
type Token struct {
	Term     string
	Position int
	Line     int
	Column   int
}

// Tokenize returns the normalised words of text in order.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/8)
	pos := 0
	line, col := 1, 1
	start, startLine, startCol := -1, 0, 0

	flush := func(end int) {
		if start < 0 {
			return
		}
		if term, ok := Normalize(text[start:end]); ok {
			tokens = append(tokens, Token{Term: term, Position: pos, Line: startLine, Column: startCol})
			pos++
		}
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start, startLine, startCol = i, line, col
			}
		} else {
			flush(i)
		}
		if r == '\n' {
			line++
			col = 1
		} else {
			col += size
		}
		i += size
	}
	flush(len(text))
	return tokens
}

// Normalize lower-cases and stems one word. It reports false for words too
// short to index and for stop-words.
func Normalize(word string) (string, bool) {
	word = strings.ToLower(word)
	if len(word) < 2 {
		return "", false
	}
	if _, isStop := stopWords[word]; isStop {
		return "", false
	}
	stemmed := stem(word)
	if stemmed == "" {
		return "", false
	}
	return stemmed, true
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem strips the first matching suffix whose remainder is long enough.
func stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
