package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

var defaultLoadQueries = []string{
	"Handler",
	"ref:ServeHTTP",
	"decl:New*",
	"decl:Config ref:Load",
	"Start OR Stop",
	"~context",
	"ref:/^With[A-Z]/",
	"decl,ref:Close",
}

type loadOptions struct {
	baseURL     string
	apiKey      string
	concurrency int
	duration    time.Duration
	limit       int
	queries     []string
}

func newLoadTestCmd() *cobra.Command {
	var lo loadOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive the search API of a running searchd and report latencies",
		Args:  cobra.NoArgs,
		// No config needed: the target is reached over HTTP.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lo.concurrency < 1 {
				return fmt.Errorf("concurrency must be positive")
			}
			if len(lo.queries) == 0 {
				lo.queries = defaultLoadQueries
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target %s, %d workers, %s, %d queries\n", lo.baseURL, lo.concurrency, lo.duration, len(lo.queries))
			stats := runLoad(cmd.Context(), lo)
			return stats.report(out, lo.duration)
		},
	}

	cmd.Flags().StringVar(&lo.baseURL, "url", "http://localhost:8080", "base URL of searchd")
	cmd.Flags().StringVar(&lo.apiKey, "api-key", "", "API key sent as X-API-Key")
	cmd.Flags().IntVar(&lo.concurrency, "concurrency", 10, "concurrent workers")
	cmd.Flags().DurationVar(&lo.duration, "duration", 30*time.Second, "test duration")
	cmd.Flags().IntVar(&lo.limit, "limit", 50, "limit parameter of each search")
	cmd.Flags().StringArrayVarP(&lo.queries, "query", "q", nil, "query to send (repeatable)")
	return cmd
}

type loadStats struct {
	total     atomic.Int64
	failed    atomic.Int64
	truncated atomic.Int64
	matches   atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int64
}

func (s *loadStats) record(d time.Duration, status int, resp *searchReply) {
	s.total.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status]++
	if status != http.StatusOK {
		s.failed.Add(1)
		return
	}
	s.latencies = append(s.latencies, d)
	if resp != nil {
		s.matches.Add(int64(resp.Returned))
		if resp.Truncated {
			s.truncated.Add(1)
		}
	}
}

type searchReply struct {
	Returned  int  `json:"returned"`
	Truncated bool `json:"truncated"`
}

func runLoad(ctx context.Context, lo loadOptions) *loadStats {
	stats := &loadStats{statuses: make(map[int]int64)}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        lo.concurrency * 2,
			MaxIdleConnsPerHost: lo.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, lo.duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < lo.concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				q := lo.queries[next%len(lo.queries)]
				next++
				target := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", lo.baseURL, url.QueryEscape(q), lo.limit)
				start := time.Now()
				status, reply, err := doSearch(ctx, client, target, lo.apiKey)
				if err != nil && ctx.Err() != nil {
					return
				}
				stats.record(time.Since(start), status, reply)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func doSearch(ctx context.Context, client *http.Client, target, apiKey string) (int, *searchReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}
	var reply searchReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, &reply, nil
}

func (s *loadStats) report(w io.Writer, duration time.Duration) error {
	total := s.total.Load()
	failed := s.failed.Load()
	fmt.Fprintf(w, "requests:   %d\n", total)
	fmt.Fprintf(w, "failed:     %d\n", failed)
	if total == 0 {
		return errors.New("no requests completed; is searchd running?")
	}
	fmt.Fprintf(w, "error rate: %.2f%%\n", float64(failed)/float64(total)*100)
	fmt.Fprintf(w, "req/sec:    %.2f\n", float64(total)/duration.Seconds())
	fmt.Fprintf(w, "matches:    %d (%d truncated searches)\n", s.matches.Load(), s.truncated.Load())

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) > 0 {
		lat := append([]time.Duration(nil), s.latencies...)
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		var sum time.Duration
		for _, l := range lat {
			sum += l
		}
		fmt.Fprintf(w, "latency:    min %s  avg %s  p50 %s  p95 %s  p99 %s  max %s\n",
			lat[0], sum/time.Duration(len(lat)),
			percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[len(lat)-1])
	}

	codes := make([]int, 0, len(s.statuses))
	for code := range s.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		label := strconv.Itoa(code)
		if code == 0 {
			label = "transport error"
		}
		fmt.Fprintf(w, "  %s: %d\n", label, s.statuses[code])
	}
	return nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
