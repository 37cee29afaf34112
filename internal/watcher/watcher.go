// Package watcher keeps a filesystem participant's indexes current. It
// watches the corpus root recursively with fsnotify, debounces bursts of
// changes and hands each changed document path to a Handler, which normally
// queues an addition or removal job.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
)

const DefaultDebounce = 250 * time.Millisecond

// Handler receives one debounced document change. removed is set when the
// file no longer exists.
type Handler func(path string, removed bool)

// Watcher watches the tree below one FSCorpus root.
type Watcher struct {
	corpus   *participant.FSCorpus
	handle   Handler
	debounce *debouncer
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
}

// New creates a watcher for corpus. A non-positive window uses
// DefaultDebounce.
func New(corpus *participant.FSCorpus, handle Handler, window time.Duration) (*Watcher, error) {
	if window <= 0 {
		window = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &Watcher{
		corpus: corpus,
		handle: handle,
		fsw:    fsw,
		logger: slog.Default().With("component", "watcher", "root", corpus.Root),
	}
	w.debounce = newDebouncer(window, w.dispatch)
	return w, nil
}

// ForSource builds a watcher that queues addition and removal jobs for src
// on reg.
func ForSource(src *participant.Source, corpus *participant.FSCorpus, reg *registry.Registry, window time.Duration) (*Watcher, error) {
	return New(corpus, func(path string, removed bool) {
		if removed {
			src.Delete(reg, path, "")
			return
		}
		src.Update(reg, path, "")
	}, window)
}

// Run adds every directory below the root and processes events until ctx is
// done. It closes the underlying fsnotify watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	defer w.debounce.stop()

	if err := w.addTree(w.corpus.Root); err != nil {
		return fmt.Errorf("watching %s: %w", w.corpus.Root, err)
	}
	w.logger.Info("watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !hidden(info.Name()) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("watching new directory failed", "dir", ev.Name, "error", err)
				}
			}
			return
		}
	}
	rel, err := w.corpus.Rel(ev.Name)
	if err != nil || !w.corpus.Accepts(rel) {
		return
	}
	w.debounce.add(rel)
}

// addTree watches dir and every non-hidden directory below it. Files that
// already exist in a newly created directory are reported as changes.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != dir && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		if dir != w.corpus.Root {
			if rel, err := w.corpus.Rel(path); err == nil && w.corpus.Accepts(rel) {
				w.debounce.add(rel)
			}
		}
		return nil
	})
}

func (w *Watcher) dispatch(paths []string) {
	for _, p := range paths {
		_, err := os.Stat(filepath.Join(w.corpus.Root, filepath.FromSlash(p)))
		removed := errors.Is(err, fs.ErrNotExist)
		w.logger.Debug("document changed", "path", p, "removed", removed)
		w.handle(p, removed)
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
