// Package participant provides the concrete search participants: a Source
// over a document Corpus (filesystem tree or Postgres table), spread across a
// fixed number of shard indexes, with an identifier-aware indexer and a
// line-based match locator.
package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

const defaultCacheSize = 256

// Options tunes a Source.
type Options struct {
	Shards    int
	CacheSize int
	// Words also files prose words under the word category.
	Words bool
}

// Source is a participant whose documents come from a Corpus. Each document
// is filed in exactly one of Shards indexes, chosen by hashing its path.
type Source struct {
	name      string
	corpus    Corpus
	dir       string
	locations []string
	indexer   *SourceIndexer
	locator   *LineLocator
	docs      *lru.Cache[string, *index.Document]
	logger    *slog.Logger
}

// NewSource creates the participant name whose shard indexes live under
// dataDir/name.
func NewSource(name string, corpus Corpus, dataDir string, opts Options) (*Source, error) {
	if name == "" {
		return nil, fmt.Errorf("participant name: %w: empty", apperrors.ErrInvalidInput)
	}
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	docs, err := lru.New[string, *index.Document](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating document cache: %w", err)
	}
	s := &Source{
		name:    name,
		corpus:  corpus,
		dir:     filepath.Join(dataDir, name),
		indexer: &SourceIndexer{Words: opts.Words},
		locator: NewLineLocator(name),
		docs:    docs,
		logger:  slog.Default().With("component", "participant", "participant", name),
	}
	for i := 0; i < opts.Shards; i++ {
		s.locations = append(s.locations, filepath.Join(s.dir, fmt.Sprintf("shard-%03d.scx", i)))
	}
	return s, nil
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Corpus() Corpus {
	return s.corpus
}

// Family tags the indexing jobs of this participant.
func (s *Source) Family() job.Family {
	return job.Family("participant:" + s.name)
}

// RequestFamily tags the jobs started on behalf of one API request or event,
// so they can be cancelled together.
func RequestFamily(requestID string) job.Family {
	if requestID == "" {
		return ""
	}
	return job.Family("request:" + requestID)
}

// Locations lists the shard index locations in shard order.
func (s *Source) Locations() []string {
	return append([]string(nil), s.locations...)
}

// SelectIndexes returns every shard: a key may be filed in any of them.
func (s *Source) SelectIndexes(search.Query, search.Scope) []string {
	return s.Locations()
}

func (s *Source) IndexLocation(path string) string {
	return s.locations[xxhash.Sum64String(path)%uint64(len(s.locations))]
}

// Indexer returns nil for paths the corpus does not accept, which turns
// their addition into a no-op.
func (s *Source) Indexer(path string) index.Indexer {
	if !s.corpus.Accepts(path) {
		return nil
	}
	return s.indexer
}

func (s *Source) MatchLocator() search.MatchLocator {
	return s.locator
}

// Document reads path through the document cache.
func (s *Source) Document(ctx context.Context, path string) (*index.Document, error) {
	if doc, ok := s.docs.Get(path); ok {
		return doc, nil
	}
	doc, err := s.corpus.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	s.docs.Add(path, doc)
	return doc, nil
}

// Forget drops path from the document cache.
func (s *Source) Forget(path string) {
	s.docs.Remove(path)
}

// Update queues re-indexing of path. An empty family uses the participant's.
func (s *Source) Update(reg *registry.Registry, path string, family job.Family) *registry.Addition {
	if family == "" {
		family = s.Family()
	}
	s.Forget(path)
	return reg.IndexAddDocument(s, path, family)
}

// Delete queues removal of every entry of path.
func (s *Source) Delete(reg *registry.Registry, path string, family job.Family) *registry.Removal {
	if family == "" {
		family = s.Family()
	}
	s.Forget(path)
	return reg.IndexRemoveDocument(s, path, family)
}

// Store writes content into a writable corpus and queues its indexing.
func (s *Source) Store(ctx context.Context, reg *registry.Registry, path string, content []byte, family job.Family) (*registry.Addition, error) {
	w, ok := s.corpus.(WritableCorpus)
	if !ok {
		return nil, fmt.Errorf("participant %s does not accept document content: %w", s.name, apperrors.ErrInvalidInput)
	}
	if err := w.Put(ctx, path, content); err != nil {
		return nil, err
	}
	return s.Update(reg, path, family), nil
}

// Erase deletes path from a writable corpus and queues removal of its
// entries. For read-only corpora only the entries are removed.
func (s *Source) Erase(ctx context.Context, reg *registry.Registry, path string, family job.Family) (*registry.Removal, error) {
	if w, ok := s.corpus.(WritableCorpus); ok {
		if err := w.Delete(ctx, path); err != nil {
			return nil, err
		}
	}
	return s.Delete(reg, path, family), nil
}

// Reindex queues an addition for every document the corpus lists and
// returns how many were queued.
func (s *Source) Reindex(ctx context.Context, reg *registry.Registry, family job.Family) (int, error) {
	paths, err := s.corpus.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing participant %s: %w", s.name, err)
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s.Update(reg, p, family)
	}
	s.logger.Info("reindex queued", "documents", len(paths))
	return len(paths), nil
}

// Drop removes every shard index of the participant. Queued jobs of the
// participant's family are not cancelled.
func (s *Source) Drop(reg *registry.Registry) error {
	var errs []error
	for _, loc := range s.locations {
		if err := reg.RemoveIndex(loc); err != nil {
			errs = append(errs, err)
		}
	}
	s.docs.Purge()
	return errors.Join(errs...)
}
