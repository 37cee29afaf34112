package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
)

// DocumentSource is what document jobs need from a participant: where a
// document's entries live, how to extract them and how to read the document.
type DocumentSource interface {
	IndexLocation(path string) string
	Indexer(path string) index.Indexer
	// Document wraps ErrDocumentNotFound when the document no longer exists.
	Document(ctx context.Context, path string) (*index.Document, error)
}

// IndexAddDocument queues a job that (re)indexes path from src.
func (r *Registry) IndexAddDocument(src DocumentSource, path string, family job.Family) *Addition {
	a := NewAddition(r, src, path, family)
	r.sched.Request(a)
	return a
}

// IndexRemoveDocument queues a job that drops every entry of path.
func (r *Registry) IndexRemoveDocument(src DocumentSource, path string, family job.Family) *Removal {
	rm := NewRemoval(r, src, path, family)
	r.sched.Request(rm)
	return rm
}

// Addition indexes one document. Prior entries for the path are removed
// first, so re-indexing a changed document leaves no stale keys behind. A
// document that has disappeared is treated as a removal. When extraction
// fails the prior entries stay.
type Addition struct {
	job.Base
	reg  *Registry
	src  DocumentSource
	path string
}

func NewAddition(reg *Registry, src DocumentSource, path string, family job.Family) *Addition {
	return &Addition{Base: job.Base{Family: family}, reg: reg, src: src, path: path}
}

func (a *Addition) String() string {
	return "index-add " + a.path
}

func (a *Addition) Run(ctx context.Context) bool {
	if a.Cancelled() || ctx.Err() != nil {
		return false
	}
	start := time.Now()
	loc := a.src.IndexLocation(a.path)
	ok, moot := a.run(ctx, loc)
	a.reg.trackIndex(analytics.IndexEvent{
		Type:      analytics.EventIndexDocument,
		Location:  loc,
		Path:      a.path,
		Family:    string(a.Family),
		OK:        ok,
		Moot:      moot,
		LatencyMs: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
	if ok && !moot {
		a.reg.metrics.DocumentIndexed("add")
	}
	return ok
}

func (a *Addition) run(ctx context.Context, loc string) (ok, moot bool) {
	log := logger.WithJob("index-addition", string(a.Family)).With("path", a.path)

	idx, err := a.reg.GetIndex(loc, true, true)
	if err != nil {
		log.Error("opening index failed", "index", loc, "error", err)
		return false, false
	}
	monitor := a.reg.Lock(idx)
	if monitor == nil {
		return true, true
	}
	indexer := a.src.Indexer(a.path)
	if indexer == nil {
		return true, true
	}

	doc, err := a.src.Document(ctx, a.path)
	missing := errors.Is(err, apperrors.ErrDocumentNotFound)
	if err != nil && !missing {
		if apperrors.IsCancellation(err) {
			return false, false
		}
		log.Error("reading document failed", "error", err)
		return false, false
	}

	// Entries are extracted into a stage first so a failed or cancelled
	// run leaves the prior entries of the document in place.
	staged := newStagedEntries(loc)
	if !missing {
		if err := indexer.Index(ctx, doc, staged); err != nil {
			if apperrors.IsCancellation(err) {
				log.Debug("indexing cancelled")
			} else {
				log.Error("indexing document failed", "index", loc, "error", err)
			}
			return false, false
		}
	}

	monitor.EnterWrite()
	defer monitor.ExitWrite()
	if a.reg.Lock(idx) == nil {
		return true, true
	}
	if a.Cancelled() || ctx.Err() != nil {
		return false, false
	}
	if err := idx.Remove(a.path); err != nil {
		log.Error("removing prior entries failed", "index", loc, "error", err)
		return false, false
	}
	a.reg.markChanged(idx)
	if missing {
		log.Debug("document gone, prior entries removed")
		return true, false
	}
	if err := staged.applyTo(idx); err != nil {
		log.Error("storing entries failed", "index", loc, "error", err)
		return false, false
	}
	log.Debug("document indexed", "index", loc, "entries", len(staged.entries))
	return true, false
}

type stagedEntry struct {
	category, key []byte
	path          string
}

// stagedEntries is an index.Index that only records AddEntry calls, for
// replay into the real index once extraction has succeeded.
type stagedEntries struct {
	location string
	entries  []stagedEntry
}

func newStagedEntries(location string) *stagedEntries {
	return &stagedEntries{location: location}
}

func (s *stagedEntries) Location() string { return s.location }

func (s *stagedEntries) AddEntry(category, key []byte, documentPath string) error {
	s.entries = append(s.entries, stagedEntry{
		category: bytes.Clone(category),
		key:      bytes.Clone(key),
		path:     documentPath,
	})
	return nil
}

func (s *stagedEntries) Remove(documentPath string) error {
	s.entries = slices.DeleteFunc(s.entries, func(e stagedEntry) bool { return e.path == documentPath })
	return nil
}

func (s *stagedEntries) Query(ctx context.Context, _ [][]byte, _ []byte, _ index.MatchRule, _ index.MatchRequestor) error {
	return ctx.Err()
}

func (s *stagedEntries) HasUnsavedChanges() bool { return len(s.entries) > 0 }

func (s *stagedEntries) Save() error { return nil }

func (s *stagedEntries) applyTo(idx index.Index) error {
	for _, e := range s.entries {
		if err := idx.AddEntry(e.category, e.key, e.path); err != nil {
			return err
		}
	}
	return nil
}

// Removal drops every entry of one document. An index that does not exist
// has nothing to drop.
type Removal struct {
	job.Base
	reg  *Registry
	src  DocumentSource
	path string
}

func NewRemoval(reg *Registry, src DocumentSource, path string, family job.Family) *Removal {
	return &Removal{Base: job.Base{Family: family}, reg: reg, src: src, path: path}
}

func (rm *Removal) String() string {
	return "index-remove " + rm.path
}

func (rm *Removal) Run(ctx context.Context) bool {
	if rm.Cancelled() || ctx.Err() != nil {
		return false
	}
	start := time.Now()
	loc := rm.src.IndexLocation(rm.path)
	ok, moot, err := rm.run(loc)
	if err != nil {
		logger.WithJob("index-removal", string(rm.Family)).Error("removing document failed",
			"path", rm.path, "index", loc, "error", err)
	}
	rm.reg.trackIndex(analytics.IndexEvent{
		Type:      analytics.EventRemoveDocument,
		Location:  loc,
		Path:      rm.path,
		Family:    string(rm.Family),
		OK:        ok,
		Moot:      moot,
		LatencyMs: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
	if ok && !moot {
		rm.reg.metrics.DocumentIndexed("remove")
	}
	return ok
}

func (rm *Removal) run(loc string) (ok, moot bool, err error) {
	idx, err := rm.reg.GetIndex(loc, true, false)
	if errors.Is(err, apperrors.ErrIndexNotFound) {
		return true, true, nil
	}
	if err != nil {
		return false, false, err
	}
	monitor := rm.reg.Lock(idx)
	if monitor == nil {
		return true, true, nil
	}
	monitor.EnterWrite()
	defer monitor.ExitWrite()
	if rm.reg.Lock(idx) == nil {
		return true, true, nil
	}
	if err := idx.Remove(rm.path); err != nil {
		return false, false, fmt.Errorf("removing entries of %s: %w", rm.path, err)
	}
	rm.reg.markChanged(idx)
	return true, false, nil
}
