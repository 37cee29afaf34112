// Package cache keeps the candidate paths of a (participant, query, scope,
// index generations) combination in Redis. Concurrent misses for the same key
// are collapsed into one computation, and a circuit breaker takes Redis out
// of the path while it is failing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/resilience"
)

const keyPrefix = "searchcore:candidates:"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ComputeFunc produces the candidates on a miss. cacheable false keeps the
// result out of the cache, for example when some index was unavailable.
type ComputeFunc func() (paths []string, cacheable bool, err error)

// CandidateCache is safe for concurrent use.
type CandidateCache struct {
	store     Store
	ttl       time.Duration
	namespace string
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	group     singleflight.Group
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

type Option func(*CandidateCache)

// WithNamespace separates the keys of processes that do not share index
// generations.
func WithNamespace(ns string) Option {
	return func(c *CandidateCache) { c.namespace = ns }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *CandidateCache) { c.metrics = m }
}

func New(store Store, ttl time.Duration, opts ...Option) *CandidateCache {
	c := &CandidateCache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default().With("component", "candidate-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = resilience.NewCircuitBreaker("candidate-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure: func(err error) bool {
			return !pkgredis.IsNilError(err) && !apperrors.IsCancellation(err)
		},
		OnStateChange: func(name string, _, to resilience.State) {
			c.metrics.BreakerState(name, int(to))
		},
	})
	return c
}

// Key derives a fixed-length cache key from its parts.
func (c *CandidateCache) Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("%s%s%x", keyPrefix, c.nsPrefix(), sum[:16])
}

func (c *CandidateCache) nsPrefix() string {
	if c.namespace == "" {
		return ""
	}
	return c.namespace + ":"
}

// Get returns the cached candidates for key.
func (c *CandidateCache) Get(ctx context.Context, key string) ([]string, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		if !pkgredis.IsNilError(err) && !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	return paths, true
}

// Set stores candidates under key. Failures are logged and otherwise ignored.
func (c *CandidateCache) Set(ctx context.Context, key string, paths []string) {
	data, err := json.Marshal(paths)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached candidates for key, or runs compute once
// for all concurrent callers of the same key and caches a cacheable result.
// A caller that joined a flight which ended in the leader's cancellation
// runs its own compute while its context is still live.
func (c *CandidateCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]string, bool, error) {
	if paths, ok := c.Get(ctx, key); ok {
		return paths, true, nil
	}
	led := false
	val, err, _ := c.group.Do(key, func() (any, error) {
		led = true
		return c.fill(ctx, key, compute)
	})
	if err != nil && !led && apperrors.IsCancellation(err) && ctx.Err() == nil {
		c.logger.Debug("shared computation was cancelled, computing again", "key", key)
		val, err = c.fill(ctx, key, compute)
	}
	if err != nil {
		return nil, false, err
	}
	return val.([]string), false, nil
}

func (c *CandidateCache) fill(ctx context.Context, key string, compute ComputeFunc) (any, error) {
	paths, cacheable, err := compute()
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.Set(context.WithoutCancel(ctx), key, paths)
	}
	return paths, nil
}

// Invalidate drops every key written by this cache's namespace.
func (c *CandidateCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+c.nsPrefix()+"*")
	if err != nil {
		return fmt.Errorf("invalidating candidate cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *CandidateCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CandidateCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}
