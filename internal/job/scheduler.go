package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/metrics"
)

// ErrStopped is returned by WaitIdle after Stop.
var ErrStopped = errors.New("scheduler stopped")

const defaultPollInterval = 50 * time.Millisecond

type task struct {
	job    Job
	cancel context.CancelFunc
	start  time.Time
}

// Scheduler owns a FIFO queue of jobs and a pool of workers draining it.
// Queued jobs that are not ready to run are skipped until they are.
type Scheduler struct {
	workers      int
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu      sync.Mutex
	queue   []Job
	running map[*task]struct{}
	changed chan struct{}
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPollInterval sets how often idle workers and WaitUntilReady callers
// re-check deferred jobs whose readiness may change without any scheduler
// activity.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewScheduler(workers int, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		workers:      workers,
		pollInterval: defaultPollInterval,
		running:      make(map[*task]struct{}),
		changed:      make(chan struct{}),
		logger:       slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker pool. Workers stop when ctx is done or Stop is
// called. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			return s.worker(gctx, i)
		})
	}
	s.started = true
	s.cancel = cancel
	s.group = g
	s.logger.Info("scheduler started", "workers", s.workers)
}

// Stop cancels running jobs, drops queued ones and waits for the workers to
// exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, g := s.cancel, s.group
	dropped := s.queue
	s.queue = nil
	s.notifyLocked()
	s.mu.Unlock()

	for _, j := range dropped {
		j.Cancel()
	}
	s.metrics.JobQueued(-float64(len(dropped)))
	if cancel != nil {
		cancel()
	}
	var err error
	if g != nil {
		err = g.Wait()
	}
	s.logger.Info("scheduler stopped", "dropped", len(dropped))
	return err
}

// Request queues j for execution by a worker. After Stop the job is
// cancelled instead.
func (s *Scheduler) Request(j Job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		j.Cancel()
		s.logger.Warn("job requested after stop", "job", j.String())
		return
	}
	s.queue = append(s.queue, j)
	s.notifyLocked()
	s.mu.Unlock()
	s.metrics.JobQueued(1)
}

// PerformConcurrentJob runs j on the calling goroutine, applying policy when
// the job is not ready. The job is tracked as running so CancelFamily reaches
// it. It returns the job's result, or false when the job was abandoned.
func (s *Scheduler) PerformConcurrentJob(ctx context.Context, j Job, policy WaitPolicy) bool {
	switch policy {
	case CancelIfNotReady:
		if !j.IsReadyToRun() {
			j.Cancel()
			s.metrics.JobCancelled()
			return false
		}
	case WaitUntilReady:
		for !j.IsReadyToRun() {
			s.mu.Lock()
			busy := len(s.queue) + len(s.running)
			ch := s.changed
			s.mu.Unlock()
			if busy == 0 {
				break
			}
			select {
			case <-ctx.Done():
				j.Cancel()
				s.metrics.JobCancelled()
				return false
			case <-ch:
			case <-time.After(s.pollInterval):
			}
		}
	}
	return s.execute(ctx, j)
}

// CancelFamily cancels every queued and running job belonging to f and
// returns how many were cancelled. Queued jobs are removed without running.
func (s *Scheduler) CancelFamily(f Family) int {
	s.mu.Lock()
	var cancelled []Job
	kept := s.queue[:0]
	for _, j := range s.queue {
		if j.BelongsTo(f) {
			cancelled = append(cancelled, j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	dequeued := len(cancelled)
	var cancels []context.CancelFunc
	for t := range s.running {
		if t.job.BelongsTo(f) {
			cancelled = append(cancelled, t.job)
			cancels = append(cancels, t.cancel)
		}
	}
	if dequeued > 0 {
		s.notifyLocked()
	}
	s.mu.Unlock()

	for _, j := range cancelled {
		j.Cancel()
		s.metrics.JobCancelled()
	}
	for _, cancel := range cancels {
		cancel()
	}
	s.metrics.JobQueued(-float64(dequeued))
	if len(cancelled) > 0 {
		s.logger.Info("family cancelled", "family", string(f), "jobs", len(cancelled))
	}
	return len(cancelled)
}

// WaitIdle blocks until no job is queued or running.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle := len(s.queue) == 0 && len(s.running) == 0
		stopped := s.stopped
		ch := s.changed
		s.mu.Unlock()
		if idle {
			return nil
		}
		if stopped {
			return ErrStopped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Pending returns the number of queued jobs, ready or not.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running returns the number of jobs currently executing.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) worker(ctx context.Context, id int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		t, jobCtx, ch, deferred := s.next(ctx)
		if t != nil {
			s.finish(t, s.runSafely(jobCtx, t.job))
			continue
		}
		var poll <-chan time.Time
		if deferred {
			poll = time.After(s.pollInterval)
		}
		select {
		case <-ctx.Done():
			s.logger.Debug("worker exiting", "worker", id)
			return nil
		case <-ch:
		case <-poll:
		}
	}
}

// next pops the first ready job and marks it running in the same critical
// section, so WaitIdle never observes a gap. When none is ready it returns
// the change channel to wait on and whether deferred jobs remain queued.
func (s *Scheduler) next(ctx context.Context) (*task, context.Context, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.queue {
		if !j.IsReadyToRun() {
			continue
		}
		copy(s.queue[i:], s.queue[i+1:])
		s.queue[len(s.queue)-1] = nil
		s.queue = s.queue[:len(s.queue)-1]
		s.metrics.JobQueued(-1)
		t, jobCtx := s.trackLocked(ctx, j)
		return t, jobCtx, nil, false
	}
	return nil, nil, s.changed, len(s.queue) > 0
}

func (s *Scheduler) execute(ctx context.Context, j Job) bool {
	s.mu.Lock()
	t, jobCtx := s.trackLocked(ctx, j)
	s.mu.Unlock()
	ok := s.runSafely(jobCtx, j)
	s.finish(t, ok)
	return ok
}

func (s *Scheduler) trackLocked(ctx context.Context, j Job) (*task, context.Context) {
	jobCtx, cancel := context.WithCancel(ctx)
	t := &task{job: j, cancel: cancel, start: time.Now()}
	s.running[t] = struct{}{}
	s.notifyLocked()
	s.metrics.JobStarted()
	return t, jobCtx
}

func (s *Scheduler) finish(t *task, ok bool) {
	s.mu.Lock()
	delete(s.running, t)
	s.notifyLocked()
	s.mu.Unlock()
	t.cancel()

	s.metrics.JobFinished(ok)
	s.logger.Debug("job finished", "job", t.job.String(), "ok", ok, "elapsed_ms", time.Since(t.start).Milliseconds())
}

func (s *Scheduler) runSafely(ctx context.Context, j Job) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", j.String(), "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	return j.Run(ctx)
}

// notifyLocked wakes every goroutine waiting on the current change channel.
func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
