// Package index defines the inverted index contract used by the query engine
// and a file-backed implementation. An index maps (category, key) pairs to
// the set of document paths that contain them.
package index

import (
	"context"
	"time"
)

// Index is one inverted index identified by its location. Implementations do
// no locking of their own: callers hold the registry's monitor for the index,
// exclusively for AddEntry, Remove and Save, shared for Query.
type Index interface {
	Location() string
	AddEntry(category, key []byte, documentPath string) error
	Remove(documentPath string) error
	// Query reports every stored entry whose category is one of categories
	// and whose key matches key under rule. It returns ctx.Err() when the
	// context is cancelled part way through.
	Query(ctx context.Context, categories [][]byte, key []byte, rule MatchRule, req MatchRequestor) error
	HasUnsavedChanges() bool
	Save() error
}

// MatchRequestor receives raw index matches. A nil category and key mean the
// match is the combination of several lookups.
type MatchRequestor interface {
	AcceptIndexMatch(category, key []byte, documentPath string)
}

// MatchRequestorFunc adapts a function to MatchRequestor.
type MatchRequestorFunc func(category, key []byte, documentPath string)

func (f MatchRequestorFunc) AcceptIndexMatch(category, key []byte, documentPath string) {
	f(category, key, documentPath)
}

// Document is the unit handed to an Indexer and to match locators.
type Document struct {
	Path    string
	Content []byte
	ModTime time.Time
}

// Indexer populates an index from a document's content. The caller holds the
// index's write lock.
type Indexer interface {
	Index(ctx context.Context, doc *Document, idx Index) error
}
