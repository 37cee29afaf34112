// Package job runs cancellable units of background work on a fixed pool of
// workers. Jobs carry a family tag so that related work can be cancelled
// together, and a readiness predicate that lets the scheduler defer them.
package job

import (
	"context"
	"sync/atomic"
)

// Family tags related jobs, for example every job touching one participant's
// indexes. The empty family matches nothing.
type Family string

// Job is a unit of work. Run returns true when the job completed its work
// (including when the work turned out to be moot) and false when it failed or
// was cancelled. The scheduler never retries a job.
type Job interface {
	BelongsTo(f Family) bool
	Cancel()
	// IsReadyToRun is consulted with the scheduler's lock held and must not
	// call back into the scheduler.
	IsReadyToRun() bool
	Run(ctx context.Context) bool
	String() string
}

// Base carries the family tag and cancellation flag that every job needs.
// Embed it and construct it in place:
//
//	&Addition{Base: job.Base{Family: f}}
type Base struct {
	Family    Family
	cancelled atomic.Bool
}

func (b *Base) BelongsTo(f Family) bool {
	return f != "" && b.Family == f
}

func (b *Base) Cancel() {
	b.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (b *Base) Cancelled() bool {
	return b.cancelled.Load()
}

// IsReadyToRun defaults to true; jobs that depend on external state
// override it.
func (b *Base) IsReadyToRun() bool {
	return true
}

// WaitPolicy tells PerformConcurrentJob what to do with a job that is not
// ready to run.
type WaitPolicy int

const (
	// ForceImmediate runs the job regardless of readiness.
	ForceImmediate WaitPolicy = iota
	// CancelIfNotReady cancels and abandons a job that is not ready.
	CancelIfNotReady
	// WaitUntilReady waits for the queue to make progress while the job is
	// not ready, then runs it. If the queue drains first the job runs anyway.
	WaitUntilReady
)

func (p WaitPolicy) String() string {
	switch p {
	case ForceImmediate:
		return "force_immediate"
	case CancelIfNotReady:
		return "cancel_if_not_ready"
	case WaitUntilReady:
		return "wait_until_ready"
	default:
		return "unknown"
	}
}
