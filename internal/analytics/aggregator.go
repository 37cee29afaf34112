package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	CancelledSearches int64        `json:"cancelled_searches"`
	FailedSearches    int64        `json:"failed_searches"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	CacheHits         int64        `json:"cache_hits"`
	DocsIndexed       int64        `json:"docs_indexed"`
	DocsRemoved       int64        `json:"docs_removed"`
	IndexFailures     int64        `json:"index_failures"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals of search and index events. It is a
// Tracker itself and can also be fed from the Kafka topic via HandleEvent.
type Aggregator struct {
	totalSearches atomic.Int64
	cancelled     atomic.Int64
	failed        atomic.Int64
	zeroResults   atomic.Int64
	cacheHits     atomic.Int64
	docsIndexed   atomic.Int64
	docsRemoved   atomic.Int64
	indexFailures atomic.Int64

	mu                sync.RWMutex
	latencies         []int64
	nextLatency       int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes published events back into the aggregator.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		env, err := kafka.DecodeJSON[envelope](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return kafka.ErrSkip
		}
		switch {
		case env.Search != nil:
			agg.TrackSearch(*env.Search)
		case env.Index != nil:
			agg.TrackIndex(*env.Index)
		default:
			return kafka.ErrSkip
		}
		return nil
	}
}

func (a *Aggregator) TrackSearch(ev SearchEvent) {
	a.totalSearches.Add(1)
	a.cacheHits.Add(int64(ev.CacheHits))
	switch {
	case ev.Cancelled:
		a.cancelled.Add(1)
	case ev.Failed:
		a.failed.Add(1)
	case ev.Matches == 0:
		a.zeroResults.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ev.LatencyMs)
	} else {
		a.latencies[a.nextLatency] = ev.LatencyMs
		a.nextLatency = (a.nextLatency + 1) % maxLatencySamples
	}
	if ev.Query == "" {
		return
	}
	a.queryCounts[ev.Query]++
	if !ev.Cancelled && !ev.Failed && ev.Matches == 0 {
		a.zeroResultQueries[ev.Query]++
	}
}

func (a *Aggregator) TrackIndex(ev IndexEvent) {
	if !ev.OK {
		a.indexFailures.Add(1)
		return
	}
	switch ev.Type {
	case EventIndexDocument:
		a.docsIndexed.Add(1)
	case EventRemoveDocument:
		a.docsRemoved.Add(1)
	}
}

// Restore adds the counters of a saved snapshot to the running totals.
// Latencies and query counts start empty.
func (a *Aggregator) Restore(base AggregatedStats) {
	a.totalSearches.Add(base.TotalSearches)
	a.cancelled.Add(base.CancelledSearches)
	a.failed.Add(base.FailedSearches)
	a.zeroResults.Add(base.ZeroResultCount)
	a.cacheHits.Add(base.CacheHits)
	a.docsIndexed.Add(base.DocsIndexed)
	a.docsRemoved.Add(base.DocsRemoved)
	a.indexFailures.Add(base.IndexFailures)
	a.logger.Info("analytics restored", "total_searches", base.TotalSearches, "docs_indexed", base.DocsIndexed)
}

func (a *Aggregator) Stats() AggregatedStats {
	stats := AggregatedStats{
		TotalSearches:     a.totalSearches.Load(),
		CancelledSearches: a.cancelled.Load(),
		FailedSearches:    a.failed.Load(),
		ZeroResultCount:   a.zeroResults.Load(),
		CacheHits:         a.cacheHits.Load(),
		DocsIndexed:       a.docsIndexed.Load(),
		DocsRemoved:       a.docsRemoved.Load(),
		IndexFailures:     a.indexFailures.Load(),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
