package search

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

func TestQueryJob_PartialResolutionIsNotCached(t *testing.T) {
	r := newRegistry()
	dir := t.TempDir()
	a, b, c := filepath.Join(dir, "a.scx"), filepath.Join(dir, "b.scx"), filepath.Join(dir, "c.scx")
	fill(t, r, a, entry{"ref", "Foo", "A"})
	fill(t, r, b, entry{"ref", "Foo", "B"})

	p := &fakeParticipant{name: "p", locations: []string{a, b, c}}
	qj := NewQueryJob(r, leaf(t, "ref", "Foo"), &pathScope{}, p, NewPathCollector(&pathScope{}), "")

	// Given one of three candidates is unavailable
	selected, complete := qj.SelectedIndexes()
	assert.Len(t, selected, 2)
	assert.False(t, complete)

	// When it becomes available the next call resolves from scratch
	fill(t, r, c, entry{"ref", "Foo", "C"})
	selected, complete = qj.SelectedIndexes()
	assert.Len(t, selected, 3)
	assert.True(t, complete)

	// Then the full selection is kept even if an index goes away
	require.NoError(t, r.RemoveIndex(c))
	selected, _ = qj.SelectedIndexes()
	assert.Len(t, selected, 3)

	// and the vanished index is a moot success
	collector := NewPathCollector(&pathScope{})
	qj = NewQueryJob(r, leaf(t, "ref", "Foo"), &pathScope{}, p, collector, "")
	fill(t, r, c, entry{"ref", "Foo", "C"})
	require.True(t, qj.IsReadyToRun())
	gone, err := r.GetIndex(c, false, false)
	require.NoError(t, err)
	require.NoError(t, r.RemoveIndex(c))
	assert.Nil(t, r.Lock(gone))
	assert.True(t, qj.Run(context.Background()))
	assert.Equal(t, []string{"A", "B"}, sorted(collector.Paths()))
}

func TestQueryJob_SavesDirtyIndexBeforeQuery(t *testing.T) {
	r := newRegistry()
	loc := filepath.Join(t.TempDir(), "a.scx")
	idx := fill(t, r, loc, entry{"decl", "Foo", "A"})
	require.True(t, idx.HasUnsavedChanges())

	collector := NewPathCollector(&pathScope{})
	p := &fakeParticipant{name: "p", locations: []string{loc}}
	qj := NewQueryJob(r, leaf(t, "decl", "Foo"), &pathScope{}, p, collector, "")

	assert.True(t, qj.Run(context.Background()))
	assert.False(t, idx.HasUnsavedChanges())
	assert.Equal(t, []string{"A"}, collector.Paths())
	assert.Equal(t, 0, r.Lock(idx).Readers(), "read lock released")
	assert.Positive(t, qj.Elapsed())

	reloaded, err := index.OpenFileIndex(loc, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.DocCount())
}

// failingQuery fails on one index location and delegates elsewhere.
type failingQuery struct {
	*KeyQuery
	failOn string
}

func (q *failingQuery) FindIndexMatches(ctx context.Context, idx index.Index, scope Scope, req index.MatchRequestor) error {
	if idx.Location() == q.failOn {
		return fmt.Errorf("reading %s: %w", q.failOn, apperrors.ErrIndexIO)
	}
	return q.KeyQuery.FindIndexMatches(ctx, idx, scope, req)
}

func TestQueryJob_FailureIsANDedButOtherIndexesRun(t *testing.T) {
	r := newRegistry()
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.scx"), filepath.Join(dir, "b.scx")
	bad := fill(t, r, a, entry{"ref", "Foo", "A"})
	fill(t, r, b, entry{"ref", "Foo", "B"})

	collector := NewPathCollector(&pathScope{})
	p := &fakeParticipant{name: "p", locations: []string{a, b}}
	q := &failingQuery{KeyQuery: leaf(t, "ref", "Foo"), failOn: bad.Location()}
	qj := NewQueryJob(r, q, &pathScope{}, p, collector, "")

	assert.False(t, qj.Run(context.Background()))
	assert.Equal(t, []string{"B"}, collector.Paths())
	assert.Equal(t, 0, r.Lock(bad).Readers())
}

func TestQueryJob_Cancelled(t *testing.T) {
	r := newRegistry()
	loc := filepath.Join(t.TempDir(), "a.scx")
	fill(t, r, loc, entry{"ref", "Foo", "A"})
	p := &fakeParticipant{name: "p", locations: []string{loc}}

	collector := NewPathCollector(&pathScope{})
	qj := NewQueryJob(r, leaf(t, "ref", "Foo"), &pathScope{}, p, collector, "")
	qj.Cancel()
	assert.False(t, qj.Run(context.Background()))
	assert.Zero(t, collector.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	qj = NewQueryJob(r, leaf(t, "ref", "Foo"), &pathScope{}, p, collector, "")
	assert.False(t, qj.Run(ctx))
	assert.Zero(t, collector.Len())
}

// pairQuery checks that categories a and b hold the same paths for key k.
// A writer always adds both in one critical section, so any difference is a
// torn read.
type pairQuery struct {
	*KeyQuery
	torn *atomic.Int32
}

func (q *pairQuery) FindIndexMatches(ctx context.Context, idx index.Index, _ Scope, _ index.MatchRequestor) error {
	lookup := func(category string) (map[string]bool, error) {
		set := make(map[string]bool)
		err := idx.Query(ctx, [][]byte{[]byte(category)}, []byte("k"), index.Exact|index.CaseSensitive,
			index.MatchRequestorFunc(func(_, _ []byte, p string) { set[p] = true }))
		return set, err
	}
	a, err := lookup("a")
	if err != nil {
		return err
	}
	b, err := lookup("b")
	if err != nil {
		return err
	}
	if len(a) != len(b) {
		q.torn.Add(1)
		return nil
	}
	for p := range a {
		if !b[p] {
			q.torn.Add(1)
			return nil
		}
	}
	return nil
}

func TestQueryJob_NoTornReadsAcrossSaveUpgrade(t *testing.T) {
	r := newRegistry()
	loc := filepath.Join(t.TempDir(), "a.scx")
	idx := fill(t, r, loc)
	m := r.Lock(idx)
	p := &fakeParticipant{name: "p", locations: []string{loc}}
	var torn atomic.Int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m.EnterWrite()
			path := fmt.Sprintf("D%03d", i)
			_ = idx.AddEntry([]byte("a"), []byte("k"), path)
			_ = idx.AddEntry([]byte("b"), []byte("k"), path)
			m.ExitWrite()
		}
	}()
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q := &pairQuery{KeyQuery: leaf(t, "a", "k"), torn: &torn}
				qj := NewQueryJob(r, q, &pathScope{}, p, NewPathCollector(&pathScope{}), "")
				assert.True(t, qj.Run(context.Background()))
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, torn.Load())
	assert.Equal(t, 0, m.Readers())
}
