package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/middleware"
)

type fixture struct {
	sched   *job.Scheduler
	reg     *registry.Registry
	agg     *analytics.Aggregator
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	sched := job.NewScheduler(2)
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = sched.Stop()
	})

	agg := analytics.NewAggregator()
	reg := registry.New(sched, registry.WithTracker(agg))
	engine := search.NewEngine(reg, sched, search.WithTracker(agg))

	root := t.TempDir()
	for name, content := range map[string]string{
		"a.go":     "package a\n\nfunc Foo() {}\n",
		"pkg/b.go": "package b\n\nfunc Bar() {\n\tFoo()\n}\n",
	} {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	dataDir := t.TempDir()
	code, err := participant.NewSource("code", participant.NewFSCorpus(root, ".go"), dataDir, participant.Options{Shards: 2})
	require.NoError(t, err)
	notes, err := participant.NewSource("notes", participant.NewMemCorpus(), dataDir, participant.Options{})
	require.NoError(t, err)
	set, err := participant.NewSet(code, notes)
	require.NoError(t, err)

	_, err = code.Reindex(context.Background(), reg, "")
	require.NoError(t, err)

	f := &fixture{sched: sched, reg: reg, agg: agg}
	f.idle(t)
	srv := New(engine, set, reg, sched, append([]Option{WithAggregator(agg)}, opts...)...)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sched.WaitIdle(ctx))
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) search(t *testing.T, params url.Values) (int, SearchResponse) {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/api/v1/search?"+params.Encode(), "")
	var resp SearchResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	code, resp := f.search(t, url.Values{"q": {"ref:Foo"}})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, search.Match{
		Participant: "code", Path: "pkg/b.go", Line: 4, Column: 2, Text: "Foo()", Key: "Foo",
	}, resp.Matches[0])
	assert.False(t, resp.Truncated)
	assert.Equal(t, 1, resp.Participants["code"])
	assert.Equal(t, 0, resp.Participants["notes"])
	assert.NotEmpty(t, resp.RequestID)

	_, resp = f.search(t, url.Values{"q": {"decl:Bar ref:Foo"}, "participants": {"code"}})
	assert.Len(t, resp.Matches, 2)

	_, resp = f.search(t, url.Values{"q": {"Foo"}, "prefix": {"pkg/"}})
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "pkg/b.go", resp.Matches[0].Path)

	_, resp = f.search(t, url.Values{"q": {"decl:Foo ref:Bar"}})
	assert.Empty(t, resp.Matches)
	assert.NotNil(t, resp.Matches)
}

func TestSearch_LimitTruncates(t *testing.T) {
	f := newFixture(t)

	code, resp := f.search(t, url.Values{"q": {"Foo"}, "limit": {"1"}})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Matches, 1)
	assert.True(t, resp.Truncated)
}

func TestSearch_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		params url.Values
		want   int
	}{
		{"missing query", url.Values{}, http.StatusBadRequest},
		{"bad limit", url.Values{"q": {"Foo"}, "limit": {"0"}}, http.StatusBadRequest},
		{"syntax", url.Values{"q": {"(Foo"}}, http.StatusBadRequest},
		{"not", url.Values{"q": {"NOT Foo"}}, http.StatusBadRequest},
		{"unknown participant", url.Values{"q": {"Foo"}, "participants": {"nope"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := f.search(t, tt.params)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestDocuments_StoreAndDelete(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/documents",
		`{"participant":"notes","path":"x.go","content":"package x\n\nfunc Hello() {}\n"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var queued jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
	assert.Equal(t, "queued", queued.Status)
	assert.True(t, strings.HasPrefix(queued.Family, "request:"))
	f.idle(t)

	_, resp := f.search(t, url.Values{"q": {"decl:Hello"}, "participants": {"notes"}})
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "x.go", resp.Matches[0].Path)

	rec = f.do(t, http.MethodDelete, "/api/v1/documents?participant=notes&path=x.go", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.idle(t)

	_, resp = f.search(t, url.Values{"q": {"decl:Hello"}, "participants": {"notes"}})
	assert.Empty(t, resp.Matches)
}

func TestDocuments_Rejected(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing path", `{"participant":"notes"}`, http.StatusBadRequest},
		{"unknown participant", `{"participant":"nope","path":"a.go"}`, http.StatusNotFound},
		{"filtered extension", `{"participant":"code","path":"notes.txt"}`, http.StatusBadRequest},
		{"escaping path", `{"participant":"notes","path":"../x.go","content":"x"}`, http.StatusBadRequest},
		{"read-only corpus", `{"participant":"code","path":"c.go","content":"package c"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/documents", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestReindexAndIndexes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/participants/nope/reindex", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/participants/code/reindex", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["queued"])
	f.idle(t)

	rec = f.do(t, http.MethodGet, "/api/v1/indexes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var indexes struct {
		Indexes []registry.Info `json:"indexes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexes))
	total := 0
	for _, info := range indexes.Indexes {
		total += info.Documents
	}
	assert.Equal(t, 2, total)

	rec = f.do(t, http.MethodPost, "/api/v1/indexes/save", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	for _, info := range f.reg.Locations() {
		assert.False(t, info.Dirty, info.Location)
	}
}

func TestJobs(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":0,"running":0}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/cancel", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/cancel", `{"request_id":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":0}`, rec.Body.String())
}

func TestAnalyticsAndCache(t *testing.T) {
	f := newFixture(t)
	f.search(t, url.Values{"q": {"Foo"}})

	rec := f.do(t, http.MethodGet, "/api/v1/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats analytics.AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.GreaterOrEqual(t, stats.TotalSearches, int64(1))
	assert.Equal(t, int64(2), stats.DocsIndexed)

	rec = f.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMiddlewareChain(t *testing.T) {
	f := newFixture(t,
		WithAPIKeys([]string{"s3cret"}),
		WithRateLimiter(middleware.NewLimiter(100, time.Minute)),
	)

	rec := f.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = f.do(t, http.MethodGet, "/api/v1/jobs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-API-Key", "s3cret")
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))
}
