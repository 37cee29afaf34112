package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/tracing"
)

// CandidateCache is implemented by cache.CandidateCache.
type CandidateCache interface {
	Key(parts ...string) string
	GetOrCompute(ctx context.Context, key string, compute cache.ComputeFunc) ([]string, bool, error)
}

// Engine runs searches. It is safe for concurrent use.
type Engine struct {
	indexes Indexes
	sched   *job.Scheduler
	cache   CandidateCache
	tracker analytics.Tracker
	metrics *metrics.Metrics
	tracing bool
	logger  *slog.Logger
}

type Option func(*Engine)

func WithCache(c CandidateCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithTracker(t analytics.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracing logs a span tree for every search at debug level.
func WithTracing(enabled bool) Option {
	return func(e *Engine) { e.tracing = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(indexes Indexes, sched *job.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		indexes: indexes,
		sched:   sched,
		logger:  slog.Default().With("component", "search-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Family returns the job family of the query jobs started for the search
// carrying requestID. Cancelling it aborts that search.
func Family(requestID string) job.Family {
	if requestID == "" {
		return ""
	}
	return job.Family("search:" + requestID)
}

type searchStats struct {
	participants int
	candidates   int
	cacheHits    int
	failed       bool
}

// FindMatches runs q over every participant of scope, in scope order. For
// each participant the candidate paths are collected by a QueryJob and handed
// to the participant's match locator. A failing participant does not stop
// the others; its error is returned joined with the rest once all have run.
// Cancellation stops the search before the next participant and is returned
// as ctx.Err().
func (e *Engine) FindMatches(ctx context.Context, q Query, scope Scope, req Requestor) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	requestID := logger.RequestID(ctx)
	ctx, span := tracing.StartSpan(ctx, "search", requestID, e.tracing)
	span.SetAttr("query", q.String())
	counter := &countingRequestor{Requestor: req}
	var stats searchStats

	counter.BeginReporting()
	defer func() {
		counter.EndReporting()
		span.End()
		span.Log(e.logger)
		e.record(q, requestID, start, stats, counter.matches, err)
	}()

	var errs []error
	for _, p := range scope.Participants() {
		stats.participants++
		if perr := e.searchParticipant(ctx, q, scope, p, counter, &stats); perr != nil {
			if apperrors.IsCancellation(perr) {
				return perr
			}
			stats.failed = true
			logger.FromContext(ctx).Error("participant search failed",
				"participant", p.Name(), "query", q.String(), "error", perr)
			errs = append(errs, fmt.Errorf("participant %s: %w", p.Name(), perr))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) searchParticipant(ctx context.Context, q Query, scope Scope, p Participant, req Requestor, stats *searchStats) error {
	ctx, span := tracing.StartChildSpan(ctx, "participant")
	defer span.End()
	span.SetAttr("participant", p.Name())

	req.EnterParticipant(p)
	defer req.ExitParticipant(p)

	// A failed index query still yields the candidates of the indexes that
	// answered; they are located before the failure is reported.
	paths, hit, queryErr := e.candidates(ctx, q, scope, p)
	if apperrors.IsCancellation(queryErr) {
		return queryErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stats.candidates += len(paths)
	if hit {
		stats.cacheHits++
	}
	e.metrics.Candidates(len(paths))
	span.SetAttr("candidates", len(paths), "cache_hit", hit)
	if len(paths) == 0 {
		return queryErr
	}

	docs := make([]*index.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := p.Document(ctx, path)
		if err != nil {
			if apperrors.IsCancellation(err) {
				return err
			}
			if !errors.Is(err, apperrors.ErrDocumentNotFound) {
				logger.FromContext(ctx).Warn("reading candidate failed", "participant", p.Name(), "path", path, "error", err)
			}
			continue
		}
		docs = append(docs, doc)
	}

	locator := p.MatchLocator()
	if locator == nil || len(docs) == 0 {
		return queryErr
	}
	_, locateSpan := tracing.StartChildSpan(ctx, "locate")
	defer locateSpan.End()
	if err := locator.LocateMatches(ctx, docs, q, scope, req); err != nil {
		if apperrors.IsCancellation(err) {
			return err
		}
		return errors.Join(queryErr, fmt.Errorf("locating matches: %w", err))
	}
	return queryErr
}

// candidates runs a QueryJob for p, going through the candidate cache when
// the scope is keyed and every selected index is open.
func (e *Engine) candidates(ctx context.Context, q Query, scope Scope, p Participant) ([]string, bool, error) {
	collector := NewPathCollector(scope)
	qj := NewQueryJob(e.indexes, q, scope, p, collector, Family(logger.RequestID(ctx)))

	run := func() ([]string, bool, error) {
		_, span := tracing.StartChildSpan(ctx, "query-job")
		defer span.End()
		ok := e.sched.PerformConcurrentJob(ctx, qj, job.WaitUntilReady)
		e.metrics.IndexQueried(qj.Elapsed())
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if qj.Cancelled() {
			return nil, false, context.Canceled
		}
		paths := collector.Paths()
		if !ok {
			return paths, false, fmt.Errorf("querying indexes of %s: %w", p.Name(), apperrors.ErrIndexIO)
		}
		_, complete := qj.SelectedIndexes()
		return paths, complete, nil
	}

	key, ok := e.cacheKey(q, scope, p, qj)
	if !ok {
		paths, _, err := run()
		return paths, false, err
	}
	return e.cache.GetOrCompute(ctx, key, run)
}

func (e *Engine) cacheKey(q Query, scope Scope, p Participant, qj *QueryJob) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	keyed, ok := scope.(Keyed)
	if !ok {
		return "", false
	}
	selected, complete := qj.SelectedIndexes()
	if !complete {
		return "", false
	}
	parts := []string{p.Name(), q.String(), keyed.CacheKey()}
	for _, idx := range selected {
		gen, ok := e.indexes.Generation(idx)
		if !ok {
			return "", false
		}
		parts = append(parts, idx.Location()+"@"+strconv.FormatUint(gen, 10))
	}
	return e.cache.Key(parts...), true
}

func (e *Engine) record(q Query, requestID string, start time.Time, stats searchStats, matches int, err error) {
	elapsed := time.Since(start)
	cancelled := apperrors.IsCancellation(err)
	resultType := "ok"
	switch {
	case cancelled:
		resultType = "cancelled"
	case err != nil:
		resultType = "failed"
	case matches == 0:
		resultType = "empty"
	}
	e.metrics.SearchDone(resultType, elapsed)
	if e.tracker != nil {
		e.tracker.TrackSearch(analytics.SearchEvent{
			Type:         analytics.EventSearch,
			Query:        q.String(),
			Participants: stats.participants,
			Candidates:   stats.candidates,
			Matches:      matches,
			CacheHits:    stats.cacheHits,
			Cancelled:    cancelled,
			Failed:       stats.failed,
			LatencyMs:    elapsed.Milliseconds(),
			Timestamp:    time.Now().UTC(),
			RequestID:    requestID,
		})
	}
	e.logger.Debug("search finished",
		"query", q.String(),
		"participants", stats.participants,
		"candidates", stats.candidates,
		"matches", matches,
		"result", resultType,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

type countingRequestor struct {
	Requestor
	matches int
}

func (c *countingRequestor) AcceptMatch(m Match) {
	c.matches++
	c.Requestor.AcceptMatch(m)
}
