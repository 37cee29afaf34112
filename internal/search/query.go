package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
)

// Query is a node of a boolean query tree.
type Query interface {
	// FindIndexMatches reports to req every document path of idx that
	// satisfies the query. It returns ctx.Err() when cancelled.
	FindIndexMatches(ctx context.Context, idx index.Index, scope Scope, req index.MatchRequestor) error
	// IndexCategories and IndexKey return false when the query cannot be
	// answered from an index and must be resolved by a match locator.
	IndexCategories() ([][]byte, bool)
	IndexKey() ([]byte, bool)
	MatchRule() index.MatchRule
	String() string
}

// KeyQuery looks up one key in one or more categories.
type KeyQuery struct {
	Categories []string
	Key        string
	Rule       index.MatchRule
}

// NewKeyQuery validates the key against rule before building the query.
func NewKeyQuery(key string, rule index.MatchRule, categories ...string) (*KeyQuery, error) {
	if _, err := index.NewMatcher([]byte(key), rule); err != nil {
		return nil, err
	}
	return &KeyQuery{Categories: categories, Key: key, Rule: rule}, nil
}

func (q *KeyQuery) FindIndexMatches(ctx context.Context, idx index.Index, _ Scope, req index.MatchRequestor) error {
	return FindLeafMatches(ctx, q, idx, req)
}

func (q *KeyQuery) IndexCategories() ([][]byte, bool) {
	if len(q.Categories) == 0 {
		return nil, false
	}
	out := make([][]byte, len(q.Categories))
	for i, c := range q.Categories {
		out[i] = []byte(c)
	}
	return out, true
}

func (q *KeyQuery) IndexKey() ([]byte, bool) {
	if q.Key == "" {
		return nil, false
	}
	return []byte(q.Key), true
}

func (q *KeyQuery) MatchRule() index.MatchRule {
	return q.Rule
}

// Matcher compiles the key for use outside an index, for example by a match
// locator scanning document text.
func (q *KeyQuery) Matcher() (*index.Matcher, error) {
	return index.NewMatcher([]byte(q.Key), q.Rule)
}

// String renders the query in the syntax accepted by Parse.
func (q *KeyQuery) String() string {
	var b strings.Builder
	if !q.Rule.IsCaseSensitive() {
		b.WriteByte('~')
	}
	if len(q.Categories) > 0 {
		b.WriteString(strings.Join(q.Categories, ","))
		b.WriteByte(':')
	}
	switch q.Rule.Kind() {
	case index.Prefix:
		b.WriteString(q.Key)
		b.WriteByte('*')
	case index.Regexp:
		b.WriteByte('/')
		b.WriteString(strings.ReplaceAll(q.Key, "/", `\/`))
		b.WriteByte('/')
	case index.Pattern:
		b.WriteString(q.Key)
	default:
		if needsQuoting(q.Key) {
			fmt.Fprintf(&b, "%q", q.Key)
		} else {
			b.WriteString(q.Key)
		}
	}
	return b.String()
}

func needsQuoting(key string) bool {
	return key == "" || index.HasWildcards(key) || strings.ContainsAny(key, " \t()\":~/,") ||
		strings.EqualFold(key, "and") || strings.EqualFold(key, "or") || strings.EqualFold(key, "not")
}

// FindLeafMatches answers a primitive query from idx. Queries without an
// index category or key yield no matches.
func FindLeafMatches(ctx context.Context, q Query, idx index.Index, req index.MatchRequestor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	categories, ok := q.IndexCategories()
	if !ok {
		return nil
	}
	key, ok := q.IndexKey()
	if !ok {
		return nil
	}
	return idx.Query(ctx, categories, key, q.MatchRule(), req)
}

// Leaves returns the key queries of a tree in evaluation order.
func Leaves(q Query) []*KeyQuery {
	var out []*KeyQuery
	var walk func(Query)
	walk = func(q Query) {
		switch n := q.(type) {
		case *KeyQuery:
			out = append(out, n)
		case *AndQuery:
			for _, sub := range n.Queries {
				walk(sub)
			}
		case *OrQuery:
			for _, sub := range n.Queries {
				walk(sub)
			}
		}
	}
	walk(q)
	return out
}
