package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  error
	calls atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	v, ok := s.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.data[key] = value
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func TestGetOrCompute(t *testing.T) {
	c := New(newMemStore(), time.Minute)
	ctx := context.Background()
	key := c.Key("p", "ref:Foo", "all:p")
	computed := 0
	compute := func() ([]string, bool, error) {
		computed++
		return []string{"A", "B"}, true, nil
	}

	paths, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"A", "B"}, paths)

	paths, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"A", "B"}, paths)
	assert.Equal(t, 1, computed)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetOrCompute_NotCacheable(t *testing.T) {
	c := New(newMemStore(), time.Minute)
	key := c.Key("partial")
	computed := 0
	compute := func() ([]string, bool, error) {
		computed++
		return []string{"A"}, false, nil
	}
	for i := 0; i < 2; i++ {
		_, hit, err := c.GetOrCompute(context.Background(), key, compute)
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, 2, computed)
}

func TestGetOrCompute_ErrorIsNotCached(t *testing.T) {
	c := New(newMemStore(), time.Minute)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), c.Key("x"), func() ([]string, bool, error) {
		return nil, true, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), c.Key("x"))
	assert.False(t, ok)
}

func TestGetOrCompute_WaiterOutlivesLeaderCancellation(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute)
	key := c.Key("shared")
	started := make(chan struct{})
	release := make(chan struct{})

	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(context.Background(), key, func() ([]string, bool, error) {
			close(started)
			<-release
			return nil, false, context.Canceled
		})
		leaderErr <- err
	}()
	<-started

	type result struct {
		paths []string
		err   error
	}
	waiter := make(chan result, 1)
	go func() {
		paths, _, err := c.GetOrCompute(context.Background(), key, func() ([]string, bool, error) {
			return []string{"A"}, true, nil
		})
		waiter <- result{paths, err}
	}()
	// Once the waiter has missed the store it joins the leader's flight.
	require.Eventually(t, func() bool { return store.calls.Load() >= 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, []string{"A"}, got.paths)
	cached, ok := c.Get(context.Background(), key)
	assert.True(t, ok)
	assert.Equal(t, []string{"A"}, cached)
}

func TestBreakerTakesStoreOutOfPath(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	c := New(store, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, ok := c.Get(ctx, c.Key("k"))
		assert.False(t, ok)
	}
	before := store.calls.Load()

	// The breaker is open now; the store is no longer called.
	paths, hit, err := c.GetOrCompute(ctx, c.Key("k"), func() ([]string, bool, error) {
		return []string{"A"}, true, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"A"}, paths)
	assert.Equal(t, before, store.calls.Load())
}

func TestMissesDoNotTripBreaker(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute)
	for i := 0; i < 10; i++ {
		_, ok := c.Get(context.Background(), c.Key("absent"))
		assert.False(t, ok)
	}
	assert.Equal(t, int32(10), store.calls.Load())
}

func TestNamespacesAndInvalidate(t *testing.T) {
	store := newMemStore()
	a := New(store, time.Minute, WithNamespace("a"))
	b := New(store, time.Minute, WithNamespace("b"))
	ctx := context.Background()

	assert.NotEqual(t, a.Key("same"), b.Key("same"))
	a.Set(ctx, a.Key("same"), []string{"A"})
	b.Set(ctx, b.Key("same"), []string{"B"})

	require.NoError(t, a.Invalidate(ctx))
	_, ok := a.Get(ctx, a.Key("same"))
	assert.False(t, ok)
	paths, ok := b.Get(ctx, b.Key("same"))
	assert.True(t, ok)
	assert.Equal(t, []string{"B"}, paths)
}
