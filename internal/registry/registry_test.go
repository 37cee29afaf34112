package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

// wordIndexer files every whitespace-separated word under category "word".
type wordIndexer struct{}

func (wordIndexer) Index(_ context.Context, doc *index.Document, idx index.Index) error {
	for _, w := range strings.Fields(string(doc.Content)) {
		if err := idx.AddEntry([]byte("word"), []byte(w), doc.Path); err != nil {
			return err
		}
	}
	return nil
}

// halfIndexer files the first word and then fails.
type halfIndexer struct{ err error }

func (h halfIndexer) Index(_ context.Context, doc *index.Document, idx index.Index) error {
	if words := strings.Fields(string(doc.Content)); len(words) > 0 {
		if err := idx.AddEntry([]byte("word"), []byte(words[0]), doc.Path); err != nil {
			return err
		}
	}
	return h.err
}

type memSource struct {
	mu       sync.Mutex
	location string
	docs     map[string]string
	readErr  error
	indexer  index.Indexer
}

func newMemSource(dir string) *memSource {
	return &memSource{location: filepath.Join(dir, "words.scx"), docs: make(map[string]string)}
}

func (s *memSource) put(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = content
}

func (s *memSource) drop(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
}

func (s *memSource) IndexLocation(string) string { return s.location }
func (s *memSource) Indexer(string) index.Indexer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexer != nil {
		return s.indexer
	}
	return wordIndexer{}
}

func (s *memSource) Document(_ context.Context, path string) (*index.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	content, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, apperrors.ErrDocumentNotFound)
	}
	return &index.Document{Path: path, Content: []byte(content), ModTime: time.Now()}, nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.IndexEvent
}

func (t *recordingTracker) TrackSearch(analytics.SearchEvent) {}
func (t *recordingTracker) TrackIndex(ev analytics.IndexEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

func lookup(t *testing.T, r *Registry, loc, word string) []string {
	t.Helper()
	idx, err := r.GetIndex(loc, true, false)
	if errors.Is(err, apperrors.ErrIndexNotFound) {
		return nil
	}
	require.NoError(t, err)
	m := r.Lock(idx)
	require.NotNil(t, m)
	m.EnterRead()
	defer m.ExitRead()
	var paths []string
	err = idx.Query(context.Background(), [][]byte{[]byte("word")}, []byte(word), index.Exact|index.CaseSensitive,
		index.MatchRequestorFunc(func(_, _ []byte, p string) { paths = append(paths, p) }))
	require.NoError(t, err)
	sort.Strings(paths)
	return paths
}

func TestGetIndex_SingleInstancePerLocation(t *testing.T) {
	dir := t.TempDir()
	r := New(job.NewScheduler(1))

	a, err := r.GetIndex(filepath.Join(dir, "x.scx"), true, true)
	require.NoError(t, err)
	b, err := r.GetIndex(filepath.Join(dir, "sub", "..", "x.scx"), false, false)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.NotNil(t, r.Lock(a))
}

func TestGetIndex_ConcurrentCallersShareInstance(t *testing.T) {
	loc := filepath.Join(t.TempDir(), "x.scx")
	r := New(job.NewScheduler(1))

	var wg sync.WaitGroup
	got := make([]index.Index, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := r.GetIndex(loc, true, true)
			assert.NoError(t, err)
			got[i] = idx
		}()
	}
	wg.Wait()
	for _, idx := range got {
		assert.Same(t, got[0], idx)
	}
}

func TestGetIndex_NotFound(t *testing.T) {
	r := New(job.NewScheduler(1))
	loc := filepath.Join(t.TempDir(), "missing.scx")

	_, err := r.GetIndex(loc, false, false)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
	_, err = r.GetIndex(loc, true, false)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
	assert.Empty(t, r.Locations())
}

func TestRemoveIndex_LockBecomesNil(t *testing.T) {
	r := New(job.NewScheduler(1))
	loc := filepath.Join(t.TempDir(), "x.scx")

	idx, err := r.GetIndex(loc, true, true)
	require.NoError(t, err)
	require.NoError(t, r.SaveAll(context.Background()))

	require.NoError(t, r.RemoveIndex(loc))
	assert.Nil(t, r.Lock(idx))
	_, ok := r.Generation(idx)
	assert.False(t, ok)

	_, err = r.GetIndex(loc, true, false)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound, "the file is gone too")
}

func TestRemoveIndex_WaitsForReaders(t *testing.T) {
	r := New(job.NewScheduler(1))
	loc := filepath.Join(t.TempDir(), "x.scx")
	idx, err := r.GetIndex(loc, true, true)
	require.NoError(t, err)

	m := r.Lock(idx)
	m.EnterRead()
	done := make(chan struct{})
	go func() {
		_ = r.RemoveIndex(loc)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("index removed while a reader held it")
	case <-time.After(30 * time.Millisecond):
	}
	assert.NotNil(t, r.Lock(idx))
	m.ExitRead()
	<-done
	assert.Nil(t, r.Lock(idx))
}

func TestAddition_IndexesAndReindexes(t *testing.T) {
	r := New(job.NewScheduler(1))
	src := newMemSource(t.TempDir())
	ctx := context.Background()

	// Given a document indexed once
	src.put("A.src", "alpha beta")
	require.True(t, NewAddition(r, src, "A.src", "f").Run(ctx))
	assert.Equal(t, []string{"A.src"}, lookup(t, r, src.location, "alpha"))

	// When its content changes and it is indexed again
	src.put("A.src", "beta gamma")
	require.True(t, NewAddition(r, src, "A.src", "f").Run(ctx))

	// Then stale keys are gone
	assert.Empty(t, lookup(t, r, src.location, "alpha"))
	assert.Equal(t, []string{"A.src"}, lookup(t, r, src.location, "gamma"))
}

func TestAddition_FailedReindexKeepsPriorEntries(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"indexer error", fmt.Errorf("parse: %w", apperrors.ErrIndexIO)},
		{"indexer cancelled", context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(job.NewScheduler(1))
			src := newMemSource(t.TempDir())
			ctx := context.Background()

			// Given a document indexed once
			src.put("A.src", "alpha beta")
			require.True(t, NewAddition(r, src, "A.src", "f").Run(ctx))
			idx, err := r.GetIndex(src.location, true, false)
			require.NoError(t, err)
			gen, _ := r.Generation(idx)

			// When re-indexing its new content fails part way
			src.put("A.src", "gamma delta")
			src.mu.Lock()
			src.indexer = halfIndexer{err: tt.err}
			src.mu.Unlock()
			assert.False(t, NewAddition(r, src, "A.src", "f").Run(ctx))

			// Then the prior entries are intact and nothing partial was stored
			assert.Equal(t, []string{"A.src"}, lookup(t, r, src.location, "alpha"))
			assert.Equal(t, []string{"A.src"}, lookup(t, r, src.location, "beta"))
			assert.Empty(t, lookup(t, r, src.location, "gamma"))
			after, _ := r.Generation(idx)
			assert.Equal(t, gen, after)
		})
	}
}

func TestAddition_MissingDocumentRemovesEntries(t *testing.T) {
	r := New(job.NewScheduler(1))
	src := newMemSource(t.TempDir())
	ctx := context.Background()

	src.put("A.src", "alpha")
	require.True(t, NewAddition(r, src, "A.src", "f").Run(ctx))

	src.drop("A.src")
	assert.True(t, NewAddition(r, src, "A.src", "f").Run(ctx))
	assert.Empty(t, lookup(t, r, src.location, "alpha"))
}

func TestAddition_ReadFailure(t *testing.T) {
	tracker := &recordingTracker{}
	r := New(job.NewScheduler(1), WithTracker(tracker))
	src := newMemSource(t.TempDir())
	src.readErr = fmt.Errorf("disk: %w", apperrors.ErrIndexIO)

	assert.False(t, NewAddition(r, src, "A.src", "f").Run(context.Background()))
	require.Len(t, tracker.events, 1)
	assert.False(t, tracker.events[0].OK)
	assert.Equal(t, analytics.EventIndexDocument, tracker.events[0].Type)
}

func TestAddition_CancelledDoesNothing(t *testing.T) {
	r := New(job.NewScheduler(1))
	src := newMemSource(t.TempDir())
	src.put("A.src", "alpha")

	a := NewAddition(r, src, "A.src", "f")
	a.Cancel()
	assert.False(t, a.Run(context.Background()))
	assert.Empty(t, r.Locations(), "a cancelled job must not even open the index")
}

func TestAddition_AfterRemoveIndexStartsFresh(t *testing.T) {
	r := New(job.NewScheduler(1))
	src := newMemSource(t.TempDir())
	ctx := context.Background()

	src.put("A.src", "alpha")
	src.put("B.src", "beta")
	require.True(t, NewAddition(r, src, "A.src", "f").Run(ctx))
	old, err := r.GetIndex(src.location, true, false)
	require.NoError(t, err)
	require.NoError(t, r.RemoveIndex(src.location))

	require.True(t, NewAddition(r, src, "B.src", "f").Run(ctx))
	fresh, err := r.GetIndex(src.location, true, false)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Empty(t, lookup(t, r, src.location, "alpha"))
	assert.Equal(t, []string{"B.src"}, lookup(t, r, src.location, "beta"))
}

func TestRemoval(t *testing.T) {
	r := New(job.NewScheduler(1))
	src := newMemSource(t.TempDir())
	ctx := context.Background()

	// Removing from an index that never existed is moot
	assert.True(t, NewRemoval(r, src, "A.src", "f").Run(ctx))
	assert.Empty(t, r.Locations())

	src.put("A.src", "alpha")
	src.put("B.src", "alpha")
	require.True(t, NewAddition(r, src, "A.src", "f").Run(ctx))
	require.True(t, NewAddition(r, src, "B.src", "f").Run(ctx))

	assert.True(t, NewRemoval(r, src, "A.src", "f").Run(ctx))
	assert.Equal(t, []string{"B.src"}, lookup(t, r, src.location, "alpha"))
}

func TestGeneration_BumpsOnMutation(t *testing.T) {
	r := New(job.NewScheduler(1))
	src := newMemSource(t.TempDir())
	src.put("A.src", "alpha")

	require.True(t, NewAddition(r, src, "A.src", "f").Run(context.Background()))
	idx, err := r.GetIndex(src.location, true, false)
	require.NoError(t, err)
	g1, ok := r.Generation(idx)
	require.True(t, ok)

	require.True(t, NewRemoval(r, src, "A.src", "f").Run(context.Background()))
	g2, _ := r.Generation(idx)
	assert.Greater(t, g2, g1)
}

func TestScheduledJobsAndSaveAll(t *testing.T) {
	sched := job.NewScheduler(2)
	sched.Start(context.Background())
	defer sched.Stop()

	dir := t.TempDir()
	r := New(sched)
	src := newMemSource(dir)
	for i := 0; i < 20; i++ {
		path := fmt.Sprintf("doc-%02d.src", i)
		src.put(path, "common unique"+fmt.Sprint(i))
		r.IndexAddDocument(src, path, "bulk")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.WaitIdle(ctx))
	assert.Len(t, lookup(t, r, src.location, "common"), 20)

	infos := r.Locations()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Dirty)
	assert.Equal(t, 20, infos[0].Documents)

	require.NoError(t, r.Close())
	assert.False(t, r.Locations()[0].Dirty)

	// A fresh registry reloads what was saved.
	fresh := New(job.NewScheduler(1))
	assert.Len(t, lookup(t, fresh, src.location, "common"), 20)
}

func TestStartSaveLoop_FinalSaveOnCancel(t *testing.T) {
	r := New(job.NewScheduler(1))
	src := newMemSource(t.TempDir())
	src.put("A.src", "alpha")
	require.True(t, NewAddition(r, src, "A.src", "f").Run(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	r.StartSaveLoop(ctx, time.Hour)
	cancel()

	assert.Eventually(t, func() bool {
		infos := r.Locations()
		return len(infos) == 1 && !infos[0].Dirty
	}, 2*time.Second, 5*time.Millisecond)
}
