package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

// cancelCheckInterval is how many keys Query scans between context checks.
const cancelCheckInterval = 256

type entryRef struct {
	category string
	key      string
}

// FileIndex keeps the whole index in memory and persists it as a single
// segment file at its location. The file is guarded by a sibling ".lock"
// file so that several processes sharing a data directory never interleave
// a write with a read of the same file.
type FileIndex struct {
	location string
	entries  map[string]map[string]map[string]struct{}
	byPath   map[string]map[entryRef]struct{}
	dirty    bool
	writer   *segment.Writer
	fileLock *flock.Flock
	logger   *slog.Logger
}

func newFileIndex(location string) *FileIndex {
	return &FileIndex{
		location: location,
		entries:  make(map[string]map[string]map[string]struct{}),
		byPath:   make(map[string]map[entryRef]struct{}),
		writer:   segment.NewWriter(),
		fileLock: flock.New(location + ".lock"),
		logger:   slog.Default().With("component", "file-index", "index", location),
	}
}

// OpenFileIndex opens the index stored at location. With reuseExisting the
// file is loaded if present and valid; otherwise createIfMissing yields a new
// empty index that is marked dirty so the next save writes it out. When
// neither applies the error wraps ErrIndexNotFound or ErrIndexCorrupt.
func OpenFileIndex(location string, reuseExisting, createIfMissing bool) (*FileIndex, error) {
	idx := newFileIndex(location)
	if reuseExisting {
		err := idx.load()
		if err == nil {
			return idx, nil
		}
		if !createIfMissing {
			return nil, err
		}
		if errors.Is(err, apperrors.ErrIndexCorrupt) {
			idx.logger.Warn("index file unreadable, recreating empty index", "error", err)
		} else if !errors.Is(err, apperrors.ErrIndexNotFound) {
			return nil, err
		}
	}
	if !createIfMissing {
		return nil, fmt.Errorf("index %s: %w", location, apperrors.ErrIndexNotFound)
	}
	idx.dirty = true
	return idx, nil
}

func (f *FileIndex) load() error {
	if _, err := os.Stat(f.location); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("index %s: %w", f.location, apperrors.ErrIndexNotFound)
		}
		return fmt.Errorf("stat index file %s: %w: %v", f.location, apperrors.ErrIndexIO, err)
	}
	if err := f.fileLock.RLock(); err != nil {
		return fmt.Errorf("locking index file %s: %w: %v", f.location, apperrors.ErrIndexIO, err)
	}
	defer f.fileLock.Unlock()

	r, err := segment.OpenReader(f.location)
	if err != nil {
		return err
	}
	defer r.Close()
	groups, err := r.Groups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		for _, p := range g.Paths {
			f.add(string(g.Category), string(g.Key), p)
		}
	}
	f.logger.Debug("index loaded", "groups", r.GroupCount(), "docs", r.DocCount())
	return nil
}

func (f *FileIndex) Location() string {
	return f.location
}

func (f *FileIndex) AddEntry(category, key []byte, documentPath string) error {
	if documentPath == "" {
		return fmt.Errorf("adding entry: %w: empty document path", apperrors.ErrInvalidInput)
	}
	f.add(string(category), string(key), documentPath)
	f.dirty = true
	return nil
}

func (f *FileIndex) add(category, key, path string) {
	keys, ok := f.entries[category]
	if !ok {
		keys = make(map[string]map[string]struct{})
		f.entries[category] = keys
	}
	paths, ok := keys[key]
	if !ok {
		paths = make(map[string]struct{})
		keys[key] = paths
	}
	paths[path] = struct{}{}

	refs, ok := f.byPath[path]
	if !ok {
		refs = make(map[entryRef]struct{})
		f.byPath[path] = refs
	}
	refs[entryRef{category: category, key: key}] = struct{}{}
}

func (f *FileIndex) Remove(documentPath string) error {
	refs, ok := f.byPath[documentPath]
	if !ok {
		return nil
	}
	for ref := range refs {
		keys := f.entries[ref.category]
		paths := keys[ref.key]
		delete(paths, documentPath)
		if len(paths) == 0 {
			delete(keys, ref.key)
		}
		if len(keys) == 0 {
			delete(f.entries, ref.category)
		}
	}
	delete(f.byPath, documentPath)
	f.dirty = true
	return nil
}

func (f *FileIndex) Query(ctx context.Context, categories [][]byte, key []byte, rule MatchRule, req MatchRequestor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	matcher, err := NewMatcher(key, rule)
	if err != nil {
		return err
	}
	for _, category := range categories {
		keys := f.entries[string(category)]
		if len(keys) == 0 {
			continue
		}
		if matcher.Exact() {
			if err := report(ctx, req, category, key, keys[string(key)]); err != nil {
				return err
			}
			continue
		}
		scanned := 0
		for k, paths := range keys {
			scanned++
			if scanned%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if !matcher.MatchString(k) {
				continue
			}
			if err := report(ctx, req, category, []byte(k), paths); err != nil {
				return err
			}
		}
	}
	return nil
}

func report(ctx context.Context, req MatchRequestor, category, key []byte, paths map[string]struct{}) error {
	n := 0
	for p := range paths {
		n++
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		req.AcceptIndexMatch(category, key, p)
	}
	return nil
}

func (f *FileIndex) HasUnsavedChanges() bool {
	return f.dirty
}

// Save writes the index to its location under the cross-process file lock.
func (f *FileIndex) Save() error {
	if err := os.MkdirAll(filepath.Dir(f.location), 0755); err != nil {
		return fmt.Errorf("creating index directory: %w: %v", apperrors.ErrIndexIO, err)
	}
	if err := f.fileLock.Lock(); err != nil {
		return fmt.Errorf("locking index file %s: %w: %v", f.location, apperrors.ErrIndexIO, err)
	}
	defer f.fileLock.Unlock()

	groups := f.groups()
	if err := f.writer.Write(f.location, groups); err != nil {
		return fmt.Errorf("saving index %s: %w: %v", f.location, apperrors.ErrIndexIO, err)
	}
	f.dirty = false
	f.logger.Debug("index saved", "groups", len(groups), "docs", len(f.byPath))
	return nil
}

// Delete removes the index file and its lock file from disk.
func (f *FileIndex) Delete() error {
	for _, p := range []string{f.location, f.location + ".lock"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting %s: %w: %v", p, apperrors.ErrIndexIO, err)
		}
	}
	return nil
}

// groups snapshots the index in a deterministic order.
func (f *FileIndex) groups() []segment.Group {
	groups := make([]segment.Group, 0)
	for category, keys := range f.entries {
		for key, paths := range keys {
			g := segment.Group{
				Category: []byte(category),
				Key:      []byte(key),
				Paths:    make([]string, 0, len(paths)),
			}
			for p := range paths {
				g.Paths = append(g.Paths, p)
			}
			sort.Strings(g.Paths)
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if c := bytes.Compare(groups[i].Category, groups[j].Category); c != 0 {
			return c < 0
		}
		return bytes.Compare(groups[i].Key, groups[j].Key) < 0
	})
	return groups
}

// DocCount returns the number of documents with at least one entry.
func (f *FileIndex) DocCount() int {
	return len(f.byPath)
}

// Paths returns every indexed document path in sorted order.
func (f *FileIndex) Paths() []string {
	paths := make([]string, 0, len(f.byPath))
	for p := range f.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
