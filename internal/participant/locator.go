package participant

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/tokenizer"
)

const maxLineText = 240

// LineLocator rescans candidate documents with the same tokenizers the
// indexer uses and reports every occurrence of a query leaf, in line order.
type LineLocator struct {
	participant string
}

func NewLineLocator(participant string) *LineLocator {
	return &LineLocator{participant: participant}
}

type leafMatcher struct {
	m                *index.Matcher
	decl, ref, words bool
}

func compileLeaves(q search.Query) ([]leafMatcher, error) {
	var out []leafMatcher
	for _, leaf := range search.Leaves(q) {
		m, err := leaf.Matcher()
		if err != nil {
			return nil, err
		}
		lm := leafMatcher{m: m}
		if len(leaf.Categories) == 0 {
			lm.decl, lm.ref, lm.words = true, true, true
		}
		for _, c := range leaf.Categories {
			switch c {
			case CategoryDecl:
				lm.decl = true
			case CategoryRef:
				lm.ref = true
			case CategoryWord:
				lm.words = true
			}
		}
		out = append(out, lm)
	}
	return out, nil
}

func (l *LineLocator) LocateMatches(ctx context.Context, docs []*index.Document, q search.Query, scope search.Scope, req search.Requestor) error {
	leaves, err := compileLeaves(q)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if scope != nil && !scope.Contains(doc.Path) {
			continue
		}
		for _, m := range l.locate(doc, leaves) {
			req.AcceptMatch(m)
		}
	}
	return nil
}

type position struct {
	line, column int
}

func (l *LineLocator) locate(doc *index.Document, leaves []leafMatcher) []search.Match {
	var wantIdents, wantWords bool
	for _, lm := range leaves {
		wantIdents = wantIdents || lm.decl || lm.ref
		wantWords = wantWords || lm.words
	}

	found := make(map[position]string)
	if wantIdents {
		for _, id := range tokenizer.Identifiers(doc.Content) {
			for _, lm := range leaves {
				if (id.Decl && lm.decl || !id.Decl && lm.ref) && lm.m.MatchString(id.Name) {
					found[position{id.Line, id.Column}] = id.Name
					break
				}
			}
		}
	}
	if wantWords {
		for _, tok := range tokenizer.Tokenize(string(doc.Content)) {
			for _, lm := range leaves {
				if lm.words && lm.m.MatchString(tok.Term) {
					pos := position{tok.Line, tok.Column}
					if _, ok := found[pos]; !ok {
						found[pos] = tok.Term
					}
					break
				}
			}
		}
	}
	if len(found) == 0 {
		return nil
	}

	lines := bytes.Split(doc.Content, []byte("\n"))
	out := make([]search.Match, 0, len(found))
	for pos, key := range found {
		out = append(out, search.Match{
			Participant: l.participant,
			Path:        doc.Path,
			Line:        pos.line,
			Column:      pos.column,
			Text:        lineText(lines, pos.line),
			Key:         key,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

func lineText(lines [][]byte, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	text := strings.TrimSpace(string(lines[line-1]))
	if len(text) > maxLineText {
		text = text[:maxLineText]
	}
	return text
}

// RewriteWordTerms normalises exact word-category keys the way the indexer
// does, so "word:Indexing" finds documents filed under "index". A leaf that
// also names other categories becomes an OR of the untouched leaf without
// the word category and the normalised word leaf.
func RewriteWordTerms(q search.Query) search.Query {
	switch n := q.(type) {
	case *search.KeyQuery:
		return rewriteLeaf(n)
	case *search.AndQuery:
		subs := make([]search.Query, len(n.Queries))
		for i, sub := range n.Queries {
			subs[i] = RewriteWordTerms(sub)
		}
		return search.NewAndQuery(subs...)
	case *search.OrQuery:
		subs := make([]search.Query, len(n.Queries))
		for i, sub := range n.Queries {
			subs[i] = RewriteWordTerms(sub)
		}
		return search.NewOrQuery(subs...)
	}
	return q
}

func rewriteLeaf(q *search.KeyQuery) search.Query {
	if q.Rule.Kind() != index.Exact {
		return q
	}
	var others []string
	hasWord := false
	for _, c := range q.Categories {
		if c == CategoryWord {
			hasWord = true
		} else {
			others = append(others, c)
		}
	}
	if !hasWord {
		return q
	}
	term, ok := tokenizer.Normalize(q.Key)
	if !ok {
		term = strings.ToLower(q.Key)
	}
	word := &search.KeyQuery{Categories: []string{CategoryWord}, Key: term, Rule: index.Exact | index.CaseSensitive}
	if len(others) == 0 {
		return word
	}
	return search.NewOrQuery(&search.KeyQuery{Categories: others, Key: q.Key, Rule: q.Rule}, word)
}
