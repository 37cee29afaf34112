package search

import (
	"context"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
)

// AndQuery matches documents matched by every sub-query. Sub-queries run in
// slice order against the same index.
type AndQuery struct {
	Queries []Query
}

func NewAndQuery(queries ...Query) *AndQuery {
	return &AndQuery{Queries: queries}
}

// FindIndexMatches intersects the sub-query results in one pass. Each
// document path carries the position of the last sub-query that matched it;
// a match at position i advances the marker only from i-1, anything else
// evicts the path. Paths whose marker reaches the last position are reported
// once, with nil category and key, after every sub-query has run. Nothing is
// reported when ctx is cancelled part way through.
func (q *AndQuery) FindIndexMatches(ctx context.Context, idx index.Index, scope Scope, req index.MatchRequestor) error {
	if len(q.Queries) == 0 {
		return nil
	}
	c := &andCombiner{markers: make(map[string]int)}
	for i, sub := range q.Queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.position = i
		if err := sub.FindIndexMatches(ctx, idx, scope, c); err != nil {
			return err
		}
		c.prune()
		if len(c.markers) == 0 {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for path := range c.markers {
		req.AcceptIndexMatch(nil, nil, path)
	}
	return nil
}

func (q *AndQuery) IndexCategories() ([][]byte, bool) {
	return nil, false
}

func (q *AndQuery) IndexKey() ([]byte, bool) {
	return nil, false
}

func (q *AndQuery) MatchRule() index.MatchRule {
	return index.Exact
}

func (q *AndQuery) String() string {
	return join(q.Queries, " AND ")
}

// andCombiner holds the marker chain for one AndQuery evaluation.
type andCombiner struct {
	markers  map[string]int
	position int
}

func (c *andCombiner) AcceptIndexMatch(_, _ []byte, path string) {
	if c.position == 0 {
		c.markers[path] = 0
		return
	}
	marker, ok := c.markers[path]
	if !ok {
		return
	}
	switch marker {
	case c.position - 1:
		c.markers[path] = c.position
	case c.position:
		// matched again by the same sub-query, through another key or category
	default:
		delete(c.markers, path)
	}
}

// prune drops paths the current sub-query did not match; their chain is
// broken and they can never be reported.
func (c *andCombiner) prune() {
	for path, marker := range c.markers {
		if marker != c.position {
			delete(c.markers, path)
		}
	}
}

// OrQuery matches documents matched by any sub-query. Matches are forwarded
// unchanged, so a path may be reported more than once.
type OrQuery struct {
	Queries []Query
}

func NewOrQuery(queries ...Query) *OrQuery {
	return &OrQuery{Queries: queries}
}

func (q *OrQuery) FindIndexMatches(ctx context.Context, idx index.Index, scope Scope, req index.MatchRequestor) error {
	for _, sub := range q.Queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.FindIndexMatches(ctx, idx, scope, req); err != nil {
			return err
		}
	}
	return nil
}

func (q *OrQuery) IndexCategories() ([][]byte, bool) {
	return nil, false
}

func (q *OrQuery) IndexKey() ([]byte, bool) {
	return nil, false
}

func (q *OrQuery) MatchRule() index.MatchRule {
	return index.Exact
}

func (q *OrQuery) String() string {
	return join(q.Queries, " OR ")
}

func join(queries []Query, sep string) string {
	parts := make([]string, len(queries))
	for i, sub := range queries {
		parts[i] = sub.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
