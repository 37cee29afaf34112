package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	Base
	name  string
	ready atomic.Bool
	runs  atomic.Int32
	fn    func(ctx context.Context) bool
}

func newTestJob(family Family, fn func(ctx context.Context) bool) *testJob {
	j := &testJob{Base: Base{Family: family}, name: string(family), fn: fn}
	j.ready.Store(true)
	return j
}

func (j *testJob) IsReadyToRun() bool { return j.ready.Load() }

func (j *testJob) Run(ctx context.Context) bool {
	j.runs.Add(1)
	if j.Cancelled() {
		return false
	}
	if j.fn == nil {
		return true
	}
	return j.fn(ctx)
}

func (j *testJob) String() string { return "test:" + j.name }

func startScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := NewScheduler(workers, WithPollInterval(5*time.Millisecond))
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
}

func TestScheduler_RunsRequestedJobs(t *testing.T) {
	s := startScheduler(t, 2)

	jobs := make([]*testJob, 10)
	for i := range jobs {
		jobs[i] = newTestJob("f", nil)
		s.Request(jobs[i])
	}
	waitIdle(t, s)

	for _, j := range jobs {
		assert.Equal(t, int32(1), j.runs.Load())
	}
	assert.Zero(t, s.Pending())
}

func TestScheduler_DefersUntilReady(t *testing.T) {
	s := startScheduler(t, 1)

	// Given a queued job that is not ready
	j := newTestJob("f", nil)
	j.ready.Store(false)
	s.Request(j)

	// When it stays unready, it is never run
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, j.runs.Load())
	assert.Equal(t, 1, s.Pending())

	// Then it runs once it becomes ready
	j.ready.Store(true)
	waitIdle(t, s)
	assert.Equal(t, int32(1), j.runs.Load())
}

func TestScheduler_CancelFamilyQueued(t *testing.T) {
	// Given a scheduler that is not started yet
	s := NewScheduler(1)
	a := newTestJob("a", nil)
	b := newTestJob("b", nil)
	a2 := newTestJob("a", nil)
	s.Request(a)
	s.Request(b)
	s.Request(a2)

	// When family a is cancelled
	n := s.CancelFamily("a")

	// Then only b stays queued and the a jobs are flagged
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Pending())
	assert.True(t, a.Cancelled())
	assert.True(t, a2.Cancelled())
	assert.False(t, b.Cancelled())

	s.Start(context.Background())
	defer s.Stop()
	waitIdle(t, s)
	assert.Zero(t, a.runs.Load())
	assert.Equal(t, int32(1), b.runs.Load())
}

func TestScheduler_CancelFamilyRunning(t *testing.T) {
	s := startScheduler(t, 1)

	started := make(chan struct{})
	var sawCancel atomic.Bool
	j := newTestJob("long", func(ctx context.Context) bool {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return false
	})
	s.Request(j)
	<-started

	assert.Equal(t, 1, s.CancelFamily("long"))
	waitIdle(t, s)
	assert.True(t, sawCancel.Load())
	assert.True(t, j.Cancelled())
}

func TestScheduler_EmptyFamilyMatchesNothing(t *testing.T) {
	s := NewScheduler(1)
	s.Request(newTestJob("", nil))
	assert.Zero(t, s.CancelFamily(""))
	assert.Equal(t, 1, s.Pending())
}

func TestScheduler_PanickingJobFails(t *testing.T) {
	s := startScheduler(t, 1)

	bad := newTestJob("f", func(context.Context) bool { panic("boom") })
	good := newTestJob("f", nil)
	s.Request(bad)
	s.Request(good)
	waitIdle(t, s)

	assert.Equal(t, int32(1), good.runs.Load(), "worker survives a panicking job")
}

func TestPerformConcurrentJob_Policies(t *testing.T) {
	t.Run("force immediate ignores readiness", func(t *testing.T) {
		s := NewScheduler(1)
		j := newTestJob("f", nil)
		j.ready.Store(false)
		assert.True(t, s.PerformConcurrentJob(context.Background(), j, ForceImmediate))
		assert.Equal(t, int32(1), j.runs.Load())
	})

	t.Run("cancel if not ready", func(t *testing.T) {
		s := NewScheduler(1)
		j := newTestJob("f", nil)
		j.ready.Store(false)
		assert.False(t, s.PerformConcurrentJob(context.Background(), j, CancelIfNotReady))
		assert.True(t, j.Cancelled())
		assert.Zero(t, j.runs.Load())
	})

	t.Run("wait until ready runs when queue is empty", func(t *testing.T) {
		s := NewScheduler(1)
		j := newTestJob("f", nil)
		j.ready.Store(false)
		assert.True(t, s.PerformConcurrentJob(context.Background(), j, WaitUntilReady))
	})

	t.Run("wait until ready waits for queue progress", func(t *testing.T) {
		s := NewScheduler(1, WithPollInterval(5*time.Millisecond))

		// Given a queued blocker that makes j ready when it runs
		j := newTestJob("f", nil)
		j.ready.Store(false)
		blocker := newTestJob("b", func(context.Context) bool {
			j.ready.Store(true)
			return true
		})
		s.Request(blocker)

		done := make(chan bool)
		go func() {
			done <- s.PerformConcurrentJob(context.Background(), j, WaitUntilReady)
		}()

		// When the scheduler starts draining the queue
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, j.runs.Load(), "j must wait while the queue is busy")
		s.Start(context.Background())
		defer s.Stop()

		// Then j runs after the blocker
		select {
		case ok := <-done:
			assert.True(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("job never ran")
		}
		assert.Equal(t, int32(1), blocker.runs.Load())
	})

	t.Run("wait until ready aborts on cancellation", func(t *testing.T) {
		s := NewScheduler(1)
		s.Request(newTestJob("blocker", nil))
		j := newTestJob("f", nil)
		j.ready.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.False(t, s.PerformConcurrentJob(ctx, j, WaitUntilReady))
		assert.True(t, j.Cancelled())
		assert.Zero(t, j.runs.Load())
	})
}

func TestPerformConcurrentJob_ReachableByCancelFamily(t *testing.T) {
	s := NewScheduler(1)
	started := make(chan struct{})
	j := newTestJob("inline", func(ctx context.Context) bool {
		close(started)
		<-ctx.Done()
		return false
	})

	done := make(chan bool)
	go func() { done <- s.PerformConcurrentJob(context.Background(), j, ForceImmediate) }()
	<-started
	assert.Equal(t, 1, s.Running())
	assert.Equal(t, 1, s.CancelFamily("inline"))
	assert.False(t, <-done)
}

func TestScheduler_RequestAfterStopCancels(t *testing.T) {
	s := NewScheduler(1)
	s.Start(context.Background())
	require.NoError(t, s.Stop())

	j := newTestJob("f", nil)
	s.Request(j)
	assert.True(t, j.Cancelled())
	assert.Zero(t, s.Pending())
}
