// Package server exposes the search engine over HTTP.
//
// Route table:
//
//	GET    /api/v1/search                          → boolean query over participants
//	POST   /api/v1/documents                       → store and/or re-index a document
//	DELETE /api/v1/documents                       → erase a document and its entries
//	POST   /api/v1/participants/{name}/reindex     → re-index a whole corpus
//	GET    /api/v1/jobs                            → scheduler queue depth
//	POST   /api/v1/jobs/cancel                     → cancel a job family
//	GET    /api/v1/indexes                         → open indexes
//	POST   /api/v1/indexes/save                    → save dirty indexes now
//	GET    /api/v1/analytics                       → aggregated search stats
//	GET    /api/v1/cache/stats                     → candidate cache counters
//	POST   /api/v1/cache/invalidate                → drop cached candidates
//	GET    /health/live, /health/ready             → probes
//	GET    /metrics                                → prometheus
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → APIKeys → RateLimit → Deadline → mux
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/middleware"
)

const (
	defaultMaxMatches = 1000
	defaultTimeout    = 10 * time.Second
)

// Server holds the handlers of the HTTP API.
type Server struct {
	engine  *search.Engine
	sources *participant.Set
	reg     *registry.Registry
	sched   *job.Scheduler

	cache      *cache.CandidateCache
	aggregator *analytics.Aggregator
	history    analytics.History
	checker    *health.Checker
	metrics    *metrics.Metrics
	limiter    *middleware.Limiter
	apiKeys    []string
	cors       []string

	maxMatches int
	timeout    time.Duration
	logger     *slog.Logger
}

type Option func(*Server)

// WithCache enables the cache endpoints.
func WithCache(c *cache.CandidateCache) Option {
	return func(s *Server) { s.cache = c }
}

func WithAggregator(a *analytics.Aggregator) Option {
	return func(s *Server) { s.aggregator = a }
}

// WithHistory serves stored snapshots on GET /api/v1/analytics?history=N.
func WithHistory(h analytics.History) Option {
	return func(s *Server) { s.history = h }
}

func WithChecker(c *health.Checker) Option {
	return func(s *Server) { s.checker = c }
}

// WithMetrics instruments requests and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithRateLimiter(l *middleware.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithAPIKeys(keys []string) Option {
	return func(s *Server) { s.apiKeys = keys }
}

func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.cors = origins }
}

// WithLimits caps the matches a search may return and the time any request
// may take. Non-positive values keep the defaults.
func WithLimits(maxMatches int, timeout time.Duration) Option {
	return func(s *Server) {
		if maxMatches > 0 {
			s.maxMatches = maxMatches
		}
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func New(engine *search.Engine, sources *participant.Set, reg *registry.Registry, sched *job.Scheduler, opts ...Option) *Server {
	s := &Server{
		engine:     engine,
		sources:    sources,
		reg:        reg,
		sched:      sched,
		maxMatches: defaultMaxMatches,
		timeout:    defaultTimeout,
		logger:     slog.Default().With("component", "http-server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checker == nil {
		s.checker = health.NewChecker()
	}
	return s
}

// Handler builds the routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", s.checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", s.checker.ReadyHandler())
	if s.metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("GET /api/v1/search", s.Search)

	mux.HandleFunc("POST /api/v1/documents", s.PutDocument)
	mux.HandleFunc("DELETE /api/v1/documents", s.DeleteDocument)
	mux.HandleFunc("POST /api/v1/participants/{name}/reindex", s.Reindex)

	mux.HandleFunc("GET /api/v1/jobs", s.Jobs)
	mux.HandleFunc("POST /api/v1/jobs/cancel", s.CancelJobs)

	mux.HandleFunc("GET /api/v1/indexes", s.Indexes)
	mux.HandleFunc("POST /api/v1/indexes/save", s.SaveIndexes)

	mux.HandleFunc("GET /api/v1/analytics", s.Analytics)
	mux.HandleFunc("GET /api/v1/cache/stats", s.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", s.CacheInvalidate)

	var chain http.Handler = mux
	chain = middleware.Deadline(s.timeout)(chain)
	chain = middleware.RateLimit(s.limiter)(chain)
	chain = middleware.APIKeys(s.apiKeys)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(s.cors...))(chain)
	chain = middleware.Metrics(s.metrics)(chain)
	chain = middleware.RequestID(chain)
	return chain
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
