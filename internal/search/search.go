// Package search evaluates boolean candidate queries over the registry's
// indexes. A search runs in two phases per participant: a QueryJob collects
// the document paths whose index entries satisfy the query, then the
// participant's MatchLocator turns those candidates into positioned matches.
//
// Compound queries evaluate their sub-queries sequentially in declared order.
// AND intersects in a single pass using a marker per document path and emits
// nothing until its last sub-query has run.
package search

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/lock"
)

// Participant owns a document corpus together with its indexer and match
// locator.
type Participant interface {
	Name() string
	// SelectIndexes lists the index locations that may hold entries relevant
	// to q within scope.
	SelectIndexes(q Query, scope Scope) []string
	IndexLocation(path string) string
	Indexer(path string) index.Indexer
	Document(ctx context.Context, path string) (*index.Document, error)
	MatchLocator() MatchLocator
}

// MatchLocator turns candidate documents into precise matches.
type MatchLocator interface {
	LocateMatches(ctx context.Context, docs []*index.Document, q Query, scope Scope, req Requestor) error
}

// Requestor receives the lifecycle notifications and matches of one search.
type Requestor interface {
	BeginReporting()
	EndReporting()
	EnterParticipant(p Participant)
	ExitParticipant(p Participant)
	AcceptMatch(m Match)
}

// Scope restricts a search to a set of participants and document paths.
type Scope interface {
	Contains(path string) bool
	Participants() []Participant
}

// Match is one located occurrence of a query key.
type Match struct {
	Participant string `json:"participant"`
	Path        string `json:"path"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Text        string `json:"text"`
	Key         string `json:"key"`
}

// Indexes is the part of the registry a search needs.
type Indexes interface {
	GetIndex(location string, reuseExisting, createIfMissing bool) (index.Index, error)
	Lock(idx index.Index) *lock.Monitor
	SaveIndex(idx index.Index) error
	Generation(idx index.Index) (uint64, bool)
}
