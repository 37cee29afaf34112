package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

// QueryJob evaluates a query against every index one participant selected,
// reporting raw matches to a requestor.
type QueryJob struct {
	job.Base
	indexes     Indexes
	query       Query
	scope       Scope
	participant Participant
	req         index.MatchRequestor
	candidates  []string
	logger      *slog.Logger

	mu       sync.Mutex
	selected []index.Index
	elapsed  time.Duration
}

// NewQueryJob asks p which indexes may hold matches for q. The locations are
// resolved lazily by SelectedIndexes.
func NewQueryJob(indexes Indexes, q Query, scope Scope, p Participant, req index.MatchRequestor, family job.Family) *QueryJob {
	return &QueryJob{
		Base:        job.Base{Family: family},
		indexes:     indexes,
		query:       q,
		scope:       scope,
		participant: p,
		req:         req,
		candidates:  p.SelectIndexes(q, scope),
		logger:      slog.Default().With("component", "query-job", "participant", p.Name()),
	}
}

func (j *QueryJob) String() string {
	return "search-query " + j.participant.Name() + " " + j.query.String()
}

// Candidates returns the index locations selected at construction.
func (j *QueryJob) Candidates() []string {
	return j.candidates
}

// SelectedIndexes resolves the candidate locations to open indexes, skipping
// any that do not exist. The result is kept for later calls only when every
// candidate resolved; complete reports whether that was the case.
func (j *QueryJob) SelectedIndexes() (selected []index.Index, complete bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.selected != nil {
		return j.selected, true
	}
	resolved := make([]index.Index, 0, len(j.candidates))
	for _, loc := range j.candidates {
		idx, err := j.indexes.GetIndex(loc, true, false)
		if err != nil {
			if !errors.Is(err, apperrors.ErrIndexNotFound) {
				j.logger.Warn("index unavailable", "index", loc, "error", err)
			}
			continue
		}
		resolved = append(resolved, idx)
	}
	if len(resolved) < len(j.candidates) {
		return resolved, false
	}
	j.selected = resolved
	return resolved, true
}

// IsReadyToRun resolves the selected indexes as a side effect and is always
// true.
func (j *QueryJob) IsReadyToRun() bool {
	j.SelectedIndexes()
	return true
}

// Run queries each selected index in turn. It returns false if any index
// query failed or the job was cancelled.
func (j *QueryJob) Run(ctx context.Context) bool {
	selected, _ := j.SelectedIndexes()
	ok := true
	for _, idx := range selected {
		if j.Cancelled() || ctx.Err() != nil {
			return false
		}
		start := time.Now()
		if !j.queryIndex(ctx, idx) {
			ok = false
		}
		j.mu.Lock()
		j.elapsed += time.Since(start)
		j.mu.Unlock()
	}
	return ok && !j.Cancelled()
}

// Elapsed is the total time spent inside index queries.
func (j *QueryJob) Elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.elapsed
}

// queryIndex evaluates the query under the index's read lock. Unsaved changes
// are written first through an atomic upgrade, so the query sees exactly the
// state that was saved.
func (j *QueryJob) queryIndex(ctx context.Context, idx index.Index) bool {
	monitor := j.indexes.Lock(idx)
	if monitor == nil {
		return true
	}
	monitor.EnterRead()
	defer monitor.ExitRead()

	if idx.HasUnsavedChanges() {
		err := monitor.Upgrade(func() error {
			return j.indexes.SaveIndex(idx)
		})
		if err != nil {
			j.logger.Error("saving index before query failed", "index", idx.Location(), "error", err)
			return false
		}
		if j.indexes.Lock(idx) == nil {
			return true
		}
	}

	if err := j.query.FindIndexMatches(ctx, idx, j.scope, j.req); err != nil {
		if apperrors.IsCancellation(err) {
			return false
		}
		j.logger.Error("index query failed", "index", idx.Location(), "query", j.query.String(), "error", err)
		return false
	}
	return true
}
