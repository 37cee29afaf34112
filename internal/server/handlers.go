package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
)

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Query        string         `json:"query"`
	Matches      []search.Match `json:"matches"`
	Returned     int            `json:"returned"`
	Truncated    bool           `json:"truncated"`
	Participants map[string]int `json:"participants"`
	Errors       []string       `json:"errors,omitempty"`
	LatencyMs    int64          `json:"latency_ms"`
	RequestID    string         `json:"request_id,omitempty"`
}

// resultCollector keeps at most limit matches. The first match past the limit
// cancels the search.
type resultCollector struct {
	limit  int
	cancel context.CancelFunc

	mu        sync.Mutex
	matches   []search.Match
	perPart   map[string]int
	truncated bool
}

func newResultCollector(limit int, cancel context.CancelFunc) *resultCollector {
	return &resultCollector{limit: limit, cancel: cancel, perPart: make(map[string]int)}
}

func (c *resultCollector) BeginReporting() {}
func (c *resultCollector) EndReporting()   {}

func (c *resultCollector) EnterParticipant(p search.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.perPart[p.Name()]; !ok {
		c.perPart[p.Name()] = 0
	}
}

func (c *resultCollector) ExitParticipant(search.Participant) {}

func (c *resultCollector) AcceptMatch(m search.Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.matches) >= c.limit {
		if !c.truncated {
			c.truncated = true
			c.cancel()
		}
		return
	}
	c.matches = append(c.matches, m)
	c.perPart[m.Participant]++
}

// Search handles GET /api/v1/search?q=...&participants=a,b&prefix=...&limit=N.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	qs := r.URL.Query()

	input := strings.TrimSpace(qs.Get("q"))
	if input == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	limit := s.maxMatches
	if limitStr := qs.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	q, err := search.Parse(input, participant.DefaultCategories...)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q = participant.RewriteWordTerms(q)

	scope, err := s.sources.Scope(splitList(qs.Get("participants")), qs.Get("prefix"))
	if err != nil {
		s.fail(w, r, "building search scope", err)
		return
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	res := newResultCollector(limit, cancel)
	err = s.engine.FindMatches(searchCtx, q, scope, res)

	res.mu.Lock()
	defer res.mu.Unlock()
	resp := SearchResponse{
		Query:        q.String(),
		Matches:      res.matches,
		Returned:     len(res.matches),
		Truncated:    res.truncated,
		Participants: res.perPart,
		RequestID:    logger.RequestID(ctx),
	}
	if resp.Matches == nil {
		resp.Matches = []search.Match{}
	}

	switch {
	case err == nil:
	case apperrors.IsCancellation(err) && res.truncated && ctx.Err() == nil:
	case apperrors.IsCancellation(err):
		log.Warn("search aborted", "query", input, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "search aborted: "+err.Error())
		return
	case len(res.matches) == 0:
		s.fail(w, r, "search failed", err)
		return
	default:
		resp.Errors = strings.Split(err.Error(), "\n")
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	log.Info("search completed",
		"query", resp.Query,
		"returned", resp.Returned,
		"truncated", resp.Truncated,
		"latency_ms", resp.LatencyMs,
	)
	s.writeJSON(w, http.StatusOK, resp)
}

type documentRequest struct {
	Participant string  `json:"participant"`
	Path        string  `json:"path"`
	Content     *string `json:"content,omitempty"`
}

type jobResponse struct {
	Status string `json:"status"`
	Job    string `json:"job"`
	Family string `json:"family"`
}

// PutDocument stores the document content, when given, and queues its
// re-indexing.
func (s *Server) PutDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req documentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	src, ok := s.documentSource(w, r, req.Participant, req.Path)
	if !ok {
		return
	}
	family := s.requestFamily(ctx, src)

	var add *registry.Addition
	if req.Content != nil {
		var err error
		if add, err = src.Store(ctx, s.reg, req.Path, []byte(*req.Content), family); err != nil {
			s.fail(w, r, "storing document", err)
			return
		}
	} else {
		add = src.Update(s.reg, req.Path, family)
	}
	s.writeJSON(w, http.StatusAccepted, jobResponse{Status: "queued", Job: add.String(), Family: string(family)})
}

// DeleteDocument handles DELETE /api/v1/documents?participant=...&path=...
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qs := r.URL.Query()
	src, ok := s.documentSource(w, r, qs.Get("participant"), qs.Get("path"))
	if !ok {
		return
	}
	family := s.requestFamily(ctx, src)
	rm, err := src.Erase(ctx, s.reg, qs.Get("path"), family)
	if err != nil {
		s.fail(w, r, "erasing document", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, jobResponse{Status: "queued", Job: rm.String(), Family: string(family)})
}

func (s *Server) documentSource(w http.ResponseWriter, r *http.Request, name, path string) (*participant.Source, bool) {
	if name == "" || path == "" {
		s.writeError(w, http.StatusBadRequest, "participant and path are required")
		return nil, false
	}
	src, err := s.sources.Get(name)
	if err != nil {
		s.fail(w, r, "resolving participant", err)
		return nil, false
	}
	if !src.Corpus().Accepts(path) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("path %q is not a document of participant %s", path, name))
		return nil, false
	}
	return src, true
}

func (s *Server) requestFamily(ctx context.Context, src *participant.Source) job.Family {
	if f := participant.RequestFamily(logger.RequestID(ctx)); f != "" {
		return f
	}
	return src.Family()
}

// Reindex queues an addition for every document of one participant.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	src, err := s.sources.Get(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, "resolving participant", err)
		return
	}
	family := s.requestFamily(ctx, src)
	n, err := src.Reindex(ctx, s.reg, family)
	if err != nil {
		s.fail(w, r, "reindexing participant", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"participant": src.Name(),
		"queued":      n,
		"family":      family,
	})
}

func (s *Server) Jobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{
		"pending": s.sched.Pending(),
		"running": s.sched.Running(),
	})
}

type cancelRequest struct {
	Family    string `json:"family"`
	RequestID string `json:"request_id"`
}

// CancelJobs cancels a job family, or every job started for one request ID.
func (s *Server) CancelJobs(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var families []job.Family
	switch {
	case req.Family != "":
		families = append(families, job.Family(req.Family))
	case req.RequestID != "":
		families = append(families, search.Family(req.RequestID), participant.RequestFamily(req.RequestID))
	default:
		s.writeError(w, http.StatusBadRequest, "family or request_id is required")
		return
	}
	cancelled := 0
	for _, f := range families {
		cancelled += s.sched.CancelFamily(f)
	}
	logger.FromContext(r.Context()).Info("jobs cancelled", "families", families, "cancelled", cancelled)
	s.writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}

func (s *Server) Indexes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"indexes": s.reg.Locations()})
}

func (s *Server) SaveIndexes(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.SaveAll(r.Context()); err != nil {
		s.fail(w, r, "saving indexes", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) Analytics(w http.ResponseWriter, r *http.Request) {
	if s.aggregator == nil {
		s.writeError(w, http.StatusServiceUnavailable, "analytics is disabled")
		return
	}
	analytics.NewHandler(s.aggregator, s.history).ServeHTTP(w, r)
}

func (s *Server) CacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := s.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (s *Server) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := s.cache.Invalidate(r.Context()); err != nil {
		s.fail(w, r, "cache invalidation failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// fail maps err onto a status code. Server-side failures are logged and
// reported without their details.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error(msg, "error", err)
		s.writeError(w, status, msg)
		return
	}
	s.writeError(w, status, err.Error())
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
