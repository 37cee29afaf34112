package participant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

// Corpus stores the documents of one participant. Paths are slash separated
// and relative to the corpus.
type Corpus interface {
	// Read wraps ErrDocumentNotFound when path does not exist.
	Read(ctx context.Context, path string) (*index.Document, error)
	List(ctx context.Context) ([]string, error)
	// Accepts reports whether path is a document of this corpus at all.
	Accepts(path string) bool
}

// WritableCorpus is a corpus documents can be pushed into.
type WritableCorpus interface {
	Corpus
	Put(ctx context.Context, path string, content []byte) error
	Delete(ctx context.Context, path string) error
}

// FSCorpus serves the files below Root whose extension is listed in
// Extensions. An empty Extensions accepts every regular file.
type FSCorpus struct {
	Root       string
	Extensions []string
}

func NewFSCorpus(root string, extensions ...string) *FSCorpus {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, strings.ToLower(e))
	}
	return &FSCorpus{Root: root, Extensions: exts}
}

func (c *FSCorpus) Accepts(p string) bool {
	if !validPath(p) {
		return false
	}
	if len(c.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range c.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (c *FSCorpus) Read(ctx context.Context, p string) (*index.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validPath(p) {
		return nil, fmt.Errorf("document path %q: %w", p, apperrors.ErrInvalidInput)
	}
	full := filepath.Join(c.Root, filepath.FromSlash(p))
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("document %s: %w", p, apperrors.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("document %s is a directory: %w", p, apperrors.ErrDocumentNotFound)
	}
	content, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("document %s: %w", p, apperrors.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return &index.Document{Path: p, Content: content, ModTime: info.ModTime()}, nil
}

// List walks Root and returns the accepted files in lexical order. Hidden
// directories are skipped.
func (c *FSCorpus) List(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(c.Root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if full != c.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := c.Rel(full)
		if err != nil {
			return nil
		}
		if c.Accepts(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c.Root, err)
	}
	sort.Strings(out)
	return out, nil
}

// Rel converts a filesystem path below Root into a document path.
func (c *FSCorpus) Rel(full string) (string, error) {
	rel, err := filepath.Rel(c.Root, full)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if !validPath(rel) {
		return "", fmt.Errorf("%s is outside %s: %w", full, c.Root, apperrors.ErrInvalidInput)
	}
	return rel, nil
}

func validPath(p string) bool {
	return p != "" && p != "." && filepath.IsLocal(filepath.FromSlash(p))
}

// MemCorpus is a writable corpus held in memory. Its documents are lost on
// restart while their index entries persist, so it suits pushed content that
// is re-sent by its producer.
type MemCorpus struct {
	mu   sync.RWMutex
	docs map[string]*index.Document
}

func NewMemCorpus() *MemCorpus {
	return &MemCorpus{docs: make(map[string]*index.Document)}
}

func (c *MemCorpus) Accepts(p string) bool {
	return validPath(p)
}

func (c *MemCorpus) Read(ctx context.Context, p string) (*index.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[p]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", p, apperrors.ErrDocumentNotFound)
	}
	return doc, nil
}

func (c *MemCorpus) List(context.Context) ([]string, error) {
	c.mu.RLock()
	out := make([]string, 0, len(c.docs))
	for p := range c.docs {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (c *MemCorpus) Put(_ context.Context, p string, content []byte) error {
	if !validPath(p) {
		return fmt.Errorf("document path %q: %w", p, apperrors.ErrInvalidInput)
	}
	doc := &index.Document{Path: p, Content: append([]byte(nil), content...), ModTime: time.Now()}
	c.mu.Lock()
	c.docs[p] = doc
	c.mu.Unlock()
	return nil
}

func (c *MemCorpus) Delete(_ context.Context, p string) error {
	c.mu.Lock()
	delete(c.docs, p)
	c.mu.Unlock()
	return nil
}
