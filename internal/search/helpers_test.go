package search

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

type entry struct {
	category, key, path string
}

// newIndex opens a fresh file index holding entries.
func newIndex(t *testing.T, entries ...entry) *index.FileIndex {
	t.Helper()
	idx, err := index.OpenFileIndex(filepath.Join(t.TempDir(), "test.scx"), false, true)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, idx.AddEntry([]byte(e.category), []byte(e.key), e.path))
	}
	return idx
}

// fill adds entries to the registry's index at loc under its write lock.
func fill(t *testing.T, r *registry.Registry, loc string, entries ...entry) index.Index {
	t.Helper()
	idx, err := r.GetIndex(loc, true, true)
	require.NoError(t, err)
	m := r.Lock(idx)
	require.NotNil(t, m)
	m.EnterWrite()
	defer m.ExitWrite()
	for _, e := range entries {
		require.NoError(t, idx.AddEntry([]byte(e.category), []byte(e.key), e.path))
	}
	return idx
}

func leaf(t *testing.T, category, key string) *KeyQuery {
	t.Helper()
	q, err := NewKeyQuery(key, index.Exact|index.CaseSensitive, category)
	require.NoError(t, err)
	return q
}

func sorted(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}

// pathScope contains an explicit set of paths.
type pathScope struct {
	allowed      map[string]bool
	participants []Participant
}

func (s *pathScope) Contains(path string) bool   { return s.allowed == nil || s.allowed[path] }
func (s *pathScope) Participants() []Participant { return s.participants }

type fakeParticipant struct {
	name      string
	locations []string
	docs      map[string]string
	locator   MatchLocator
	indexer   index.Indexer
	docErr    error
}

func (p *fakeParticipant) Name() string                        { return p.name }
func (p *fakeParticipant) SelectIndexes(Query, Scope) []string { return p.locations }
func (p *fakeParticipant) IndexLocation(string) string         { return p.locations[0] }
func (p *fakeParticipant) Indexer(string) index.Indexer        { return p.indexer }
func (p *fakeParticipant) MatchLocator() MatchLocator          { return p.locator }

func (p *fakeParticipant) Document(_ context.Context, path string) (*index.Document, error) {
	if p.docErr != nil {
		return nil, p.docErr
	}
	content, ok := p.docs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, apperrors.ErrDocumentNotFound)
	}
	return &index.Document{Path: path, Content: []byte(content)}, nil
}

// echoLocator reports one match per candidate document.
type echoLocator struct {
	participant string
	before      func(ctx context.Context)
	err         error
}

func (l *echoLocator) LocateMatches(ctx context.Context, docs []*index.Document, _ Query, _ Scope, req Requestor) error {
	if l.before != nil {
		l.before(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.err != nil {
		return l.err
	}
	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	sort.Strings(paths)
	for _, p := range paths {
		req.AcceptMatch(Match{Participant: l.participant, Path: p})
	}
	return nil
}

type recordingRequestor struct {
	mu     sync.Mutex
	events []string
	paths  []string
}

func (r *recordingRequestor) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingRequestor) BeginReporting()                { r.add("begin") }
func (r *recordingRequestor) EndReporting()                  { r.add("end") }
func (r *recordingRequestor) EnterParticipant(p Participant) { r.add("enter:" + p.Name()) }
func (r *recordingRequestor) ExitParticipant(p Participant)  { r.add("exit:" + p.Name()) }

func (r *recordingRequestor) AcceptMatch(m Match) {
	r.add("match:" + m.Participant + ":" + m.Path)
	r.mu.Lock()
	r.paths = append(r.paths, m.Path)
	r.mu.Unlock()
}

// refIndexer files every word of a document under category "ref".
type refIndexer struct{}

func (refIndexer) Index(_ context.Context, doc *index.Document, idx index.Index) error {
	for _, w := range strings.Fields(string(doc.Content)) {
		if err := idx.AddEntry([]byte("ref"), []byte(w), doc.Path); err != nil {
			return err
		}
	}
	return nil
}

func newRegistry() *registry.Registry {
	return registry.New(job.NewScheduler(1))
}
