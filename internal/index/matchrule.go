package index

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

// MatchRule selects how a queried key is compared against stored keys: one
// of the kinds Exact, Prefix, Pattern or Regexp, optionally or'ed with
// CaseSensitive.
type MatchRule uint8

const (
	Exact MatchRule = iota
	Prefix
	Pattern
	Regexp

	kindMask MatchRule = 0x0f

	CaseSensitive MatchRule = 0x10
)

// Kind strips the case flag.
func (r MatchRule) Kind() MatchRule {
	return r & kindMask
}

func (r MatchRule) IsCaseSensitive() bool {
	return r&CaseSensitive != 0
}

func (r MatchRule) String() string {
	var kind string
	switch r.Kind() {
	case Exact:
		kind = "exact"
	case Prefix:
		kind = "prefix"
	case Pattern:
		kind = "pattern"
	case Regexp:
		kind = "regexp"
	default:
		kind = fmt.Sprintf("kind(%d)", uint8(r.Kind()))
	}
	if r.IsCaseSensitive() {
		return kind + "+case"
	}
	return kind
}

// Matcher is a compiled key predicate.
type Matcher struct {
	rule    MatchRule
	key     []byte
	pattern *regexp.Regexp
}

// NewMatcher compiles key under rule. Pattern keys use '*' for any run of
// bytes and '?' for exactly one; Regexp keys must match the whole stored key.
func NewMatcher(key []byte, rule MatchRule) (*Matcher, error) {
	m := &Matcher{rule: rule, key: key}
	switch rule.Kind() {
	case Exact:
	case Prefix, Pattern:
		if !rule.IsCaseSensitive() {
			m.key = bytes.ToLower(key)
		}
	case Regexp:
		expr := "^(?:" + string(key) + ")$"
		if !rule.IsCaseSensitive() {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling key %q: %w: %v", key, apperrors.ErrInvalidQuery, err)
		}
		m.pattern = re
	default:
		return nil, fmt.Errorf("match rule %s: %w", rule, apperrors.ErrInvalidQuery)
	}
	return m, nil
}

// Exact reports whether the matcher can be answered with a direct lookup.
func (m *Matcher) Exact() bool {
	return m.rule.Kind() == Exact && m.rule.IsCaseSensitive()
}

// Match reports whether candidate satisfies the rule.
func (m *Matcher) Match(candidate []byte) bool {
	switch m.rule.Kind() {
	case Exact:
		if m.rule.IsCaseSensitive() {
			return bytes.Equal(m.key, candidate)
		}
		return bytes.EqualFold(m.key, candidate)
	case Prefix:
		if m.rule.IsCaseSensitive() {
			return bytes.HasPrefix(candidate, m.key)
		}
		// Folding can change byte length, so both sides are lowered whole.
		return bytes.HasPrefix(bytes.ToLower(candidate), m.key)
	case Pattern:
		if !m.rule.IsCaseSensitive() {
			candidate = bytes.ToLower(candidate)
		}
		return wildcardMatch(m.key, candidate)
	case Regexp:
		return m.pattern.Match(candidate)
	}
	return false
}

// MatchString is Match for string keys.
func (m *Matcher) MatchString(candidate string) bool {
	return m.Match([]byte(candidate))
}

// wildcardMatch matches name against pattern where '*' matches any run of
// bytes and '?' exactly one. It backtracks only to the most recent star.
func wildcardMatch(pattern, name []byte) bool {
	p, n := 0, 0
	star, mark := -1, 0
	for n < len(name) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == name[n]):
			p++
			n++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = n
			p++
		case star >= 0:
			p = star + 1
			mark++
			n = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// HasWildcards reports whether s contains pattern metacharacters.
func HasWildcards(s string) bool {
	return strings.ContainsAny(s, "*?")
}
