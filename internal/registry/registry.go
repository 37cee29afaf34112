// Package registry owns every open index and the monitor guarding it. It
// guarantees one in-memory instance per location, hands out the monitor for
// an index, saves dirty indexes periodically and on shutdown, and turns
// document changes into scheduler jobs.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/lock"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/metrics"
)

// Opener opens or creates the index stored at a canonical location.
type Opener func(location string, reuseExisting, createIfMissing bool) (index.Index, error)

// OpenFile is the default Opener, backed by index.FileIndex.
func OpenFile(location string, reuseExisting, createIfMissing bool) (index.Index, error) {
	idx, err := index.OpenFileIndex(location, reuseExisting, createIfMissing)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

type deleter interface {
	Delete() error
}

type docCounter interface {
	DocCount() int
}

type entry struct {
	location string
	idx      index.Index
	monitor  *lock.Monitor
	gen      atomic.Uint64
}

// Info describes one open index.
type Info struct {
	Location   string `json:"location"`
	Dirty      bool   `json:"dirty"`
	Generation uint64 `json:"generation"`
	Documents  int    `json:"documents"`
}

// Registry maps canonical index locations to open indexes.
type Registry struct {
	sched   *job.Scheduler
	open    Opener
	metrics *metrics.Metrics
	tracker analytics.Tracker
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	byIndex map[index.Index]*entry
}

type Option func(*Registry)

func WithOpener(o Opener) Option {
	return func(r *Registry) { r.open = o }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithTracker(t analytics.Tracker) Option {
	return func(r *Registry) { r.tracker = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry that queues document jobs on sched.
func New(sched *job.Scheduler, opts ...Option) *Registry {
	r := &Registry{
		sched:   sched,
		open:    OpenFile,
		entries: make(map[string]*entry),
		byIndex: make(map[index.Index]*entry),
		logger:  slog.Default().With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Canonical cleans location into the absolute form used as registry key.
func Canonical(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("index location: %w: empty", apperrors.ErrInvalidInput)
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("resolving index location %s: %w", location, err)
	}
	return filepath.Clean(abs), nil
}

// GetIndex returns the open index at location, opening it on first use. With
// reuseExisting an existing file is loaded; with createIfMissing a missing
// or unreadable file yields a new empty index. Lookup and open happen in one
// critical section, so concurrent callers always share one instance.
func (r *Registry) GetIndex(location string, reuseExisting, createIfMissing bool) (index.Index, error) {
	loc, err := Canonical(location)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[loc]; ok {
		return e.idx, nil
	}
	if !reuseExisting && !createIfMissing {
		return nil, fmt.Errorf("index %s: %w", loc, apperrors.ErrIndexNotFound)
	}
	idx, err := r.open(loc, reuseExisting, createIfMissing)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", loc, err)
	}
	e := &entry{location: loc, idx: idx, monitor: lock.New()}
	r.entries[loc] = e
	r.byIndex[idx] = e
	r.metrics.SetIndexesOpen(len(r.entries))
	r.logger.Debug("index opened", "index", loc)
	return idx, nil
}

// Lock returns the monitor guarding idx, or nil when idx has been removed
// from the registry since the caller obtained it. Callers treat nil as a
// moot success.
func (r *Registry) Lock(idx index.Index) *lock.Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byIndex[idx]; ok {
		return e.monitor
	}
	return nil
}

// Generation returns a counter that increases every time a job mutates idx.
func (r *Registry) Generation(idx index.Index) (uint64, bool) {
	r.mu.Lock()
	e, ok := r.byIndex[idx]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	return e.gen.Load(), true
}

func (r *Registry) markChanged(idx index.Index) {
	r.mu.Lock()
	e, ok := r.byIndex[idx]
	r.mu.Unlock()
	if ok {
		e.gen.Add(1)
	}
}

// RemoveIndex evicts the index at location and deletes its file. It waits
// for the write lock so no reader or writer is inside the index when it goes.
func (r *Registry) RemoveIndex(location string) error {
	loc, err := Canonical(location)
	if err != nil {
		return err
	}
	r.mu.Lock()
	e := r.entries[loc]
	r.mu.Unlock()

	if e == nil {
		return removeFiles(loc)
	}

	e.monitor.EnterWrite()
	defer e.monitor.ExitWrite()

	r.mu.Lock()
	if r.entries[loc] == e {
		delete(r.entries, loc)
		delete(r.byIndex, e.idx)
	}
	r.metrics.SetIndexesOpen(len(r.entries))
	r.mu.Unlock()

	if d, ok := e.idx.(deleter); ok {
		if err := d.Delete(); err != nil {
			return fmt.Errorf("removing index %s: %w", loc, err)
		}
	}
	r.logger.Info("index removed", "index", loc)
	return nil
}

func removeFiles(loc string) error {
	for _, p := range []string{loc, loc + ".lock"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w: %v", p, apperrors.ErrIndexIO, err)
		}
	}
	return nil
}

// SaveIndex writes idx to disk if it is still registered and has unsaved
// changes. The caller must hold the index's write lock. An index removed in
// the meantime is left unsaved so its file stays deleted.
func (r *Registry) SaveIndex(idx index.Index) error {
	if r.Lock(idx) == nil || !idx.HasUnsavedChanges() {
		return nil
	}
	start := time.Now()
	err := idx.Save()
	r.metrics.IndexSaved(time.Since(start), err)
	if err != nil {
		r.logger.Error("index save failed", "index", idx.Location(), "error", err)
		return fmt.Errorf("saving index %s: %w", idx.Location(), err)
	}
	r.logger.Debug("index saved", "index", idx.Location(), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// Locations describes every open index, sorted by location.
func (r *Registry) Locations() []Info {
	infos := make([]Info, 0)
	for _, e := range r.snapshot() {
		e.monitor.EnterRead()
		info := Info{
			Location:   e.location,
			Dirty:      e.idx.HasUnsavedChanges(),
			Generation: e.gen.Load(),
		}
		if dc, ok := e.idx.(docCounter); ok {
			info.Documents = dc.DocCount()
		}
		e.monitor.ExitRead()
		infos = append(infos, info)
	}
	return infos
}

func (r *Registry) snapshot() []*entry {
	r.mu.Lock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].location < out[j].location })
	return out
}

func (r *Registry) trackIndex(ev analytics.IndexEvent) {
	if r.tracker != nil {
		r.tracker.TrackIndex(ev)
	}
}
