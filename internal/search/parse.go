package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

// Parse builds a query tree from the textual syntax:
//
//	term     = ["~"] [category {"," category} ":"] key
//	key      = word | "quoted exact" | /regexp/
//	and      = term {["AND"] term}
//	or       = and {"OR" and}
//
// Parentheses group. Adjacent terms are AND-ed. A word containing * or ? is a
// pattern, a word whose only wildcard is a trailing * is a prefix, and "~"
// makes the comparison case-insensitive. Terms without categories use
// defaultCategories. NOT is rejected.
func Parse(input string, defaultCategories ...string) (Query, error) {
	p := &parser{input: input, defaults: defaultCategories}
	p.skipSpace()
	if p.eof() {
		return nil, fmt.Errorf("%w: empty query", apperrors.ErrInvalidQuery)
	}
	q, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q", p.input[p.pos:])
	}
	return q, nil
}

type parser struct {
	input    string
	pos      int
	defaults []string
}

func (p *parser) parseOr() (Query, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	queries := []Query{first}
	for p.keyword("OR") {
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		queries = append(queries, next)
	}
	if len(queries) == 1 {
		return first, nil
	}
	return NewOrQuery(queries...), nil
}

func (p *parser) parseAnd() (Query, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	queries := []Query{first}
	for {
		p.skipSpace()
		if p.eof() || p.peek() == ')' || p.atKeyword("OR") {
			break
		}
		p.keyword("AND")
		next, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		queries = append(queries, next)
	}
	if len(queries) == 1 {
		return first, nil
	}
	return NewAndQuery(queries...), nil
}

func (p *parser) parseTerm() (Query, error) {
	p.skipSpace()
	switch {
	case p.eof():
		return nil, p.errorf("unexpected end of query")
	case p.atKeyword("NOT"):
		return nil, p.errorf("NOT is not supported")
	case p.atKeyword("AND"), p.atKeyword("OR"):
		return nil, p.errorf("operator without operand")
	case p.peek() == ')':
		return nil, p.errorf("unexpected )")
	case p.peek() == '(':
		p.pos++
		q, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.eof() || p.peek() != ')' {
			return nil, p.errorf("missing )")
		}
		p.pos++
		return q, nil
	}
	return p.parseLeaf()
}

func (p *parser) parseLeaf() (Query, error) {
	rule := index.CaseSensitive
	if p.peek() == '~' {
		rule = 0
		p.pos++
	}

	categories := p.defaults
	if c := p.peek(); c != '"' && c != '/' {
		end := p.pos
		for end < len(p.input) && !isDelim(p.input[end]) && !strings.ContainsRune(":\"/", rune(p.input[end])) {
			end++
		}
		if end > p.pos && end < len(p.input) && p.input[end] == ':' {
			categories = strings.Split(p.input[p.pos:end], ",")
			for _, c := range categories {
				if c == "" {
					return nil, p.errorf("empty category")
				}
			}
			p.pos = end + 1
		}
	}

	key, kind, err := p.parseKey()
	if err != nil {
		return nil, err
	}
	q, err := NewKeyQuery(key, kind|rule, categories...)
	if err != nil {
		return nil, fmt.Errorf("term %q: %w", key, err)
	}
	return q, nil
}

func (p *parser) parseKey() (string, index.MatchRule, error) {
	if p.eof() || isDelim(p.peek()) {
		return "", 0, p.errorf("missing key")
	}
	switch p.peek() {
	case '"':
		end := p.pos + 1
		for end < len(p.input) && p.input[end] != '"' {
			if p.input[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(p.input) {
			return "", 0, p.errorf("unterminated quote")
		}
		key, err := strconv.Unquote(p.input[p.pos : end+1])
		if err != nil {
			return "", 0, p.errorf("bad quoted key: %v", err)
		}
		p.pos = end + 1
		return key, index.Exact, nil
	case '/':
		end := p.pos + 1
		for end < len(p.input) && p.input[end] != '/' {
			if p.input[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(p.input) {
			return "", 0, p.errorf("unterminated regexp")
		}
		key := strings.ReplaceAll(p.input[p.pos+1:end], `\/`, "/")
		p.pos = end + 1
		return key, index.Regexp, nil
	}

	start := p.pos
	for !p.eof() && !isDelim(p.peek()) {
		p.pos++
	}
	word := p.input[start:p.pos]
	switch {
	case !index.HasWildcards(word):
		return word, index.Exact, nil
	case len(word) > 1 && strings.HasSuffix(word, "*") && !index.HasWildcards(word[:len(word)-1]):
		return word[:len(word)-1], index.Prefix, nil
	default:
		return word, index.Pattern, nil
	}
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n' || p.peek() == '\r') {
		p.pos++
	}
}

// atKeyword reports whether the input at the cursor is kw as a whole word,
// ignoring case.
func (p *parser) atKeyword(kw string) bool {
	end := p.pos + len(kw)
	if end > len(p.input) || !strings.EqualFold(p.input[p.pos:end], kw) {
		return false
	}
	return end == len(p.input) || isDelim(p.input[end])
}

func (p *parser) keyword(kw string) bool {
	p.skipSpace()
	if !p.atKeyword(kw) {
		return false
	}
	p.pos += len(kw)
	return true
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", apperrors.ErrInvalidQuery, fmt.Sprintf(format, args...), p.pos)
}

func isDelim(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')'
}
