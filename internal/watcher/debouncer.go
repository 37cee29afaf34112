package watcher

import (
	"sort"
	"sync"
	"time"
)

// debouncer collects changed paths and releases them as one sorted batch
// once no new change has arrived for the window.
type debouncer struct {
	window  time.Duration
	flushFn func(paths []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, flush func(paths []string)) *debouncer {
	return &debouncer{
		window:  window,
		flushFn: flush,
		pending: make(map[string]struct{}),
	}
}

func (d *debouncer) add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	sort.Strings(paths)
	d.flushFn(paths)
}

// stop drops pending paths. Safe to call more than once.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = nil
}
