package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/booksphere/booksphere/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

type result struct {
	IDs []string `json:"ids"`
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	ctx := context.Background()
	c := New[result](newMemBackend(), time.Minute, nil)
	key := Key{Kind: "search", Query: "Dune", Limit: 5, Version: 1}

	calls := 0
	compute := func() (result, error) {
		calls++
		return result{IDs: []string{"b1"}}, nil
	}

	got, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"b1"}, got.IDs)

	got, hit, err = c.GetOrCompute(ctx, Key{Kind: "search", Query: "  dune ", Limit: 5, Version: 1}, compute)
	require.NoError(t, err)
	assert.True(t, hit, "normalized query shares the entry")
	assert.Equal(t, []string{"b1"}, got.IDs)
	assert.Equal(t, 1, calls)

	stats := c.Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestKey_Distinguishes(t *testing.T) {
	base := Key{Kind: "search", Query: "great gatsby", Limit: 5, Version: 3}
	assert.Equal(t, base.String(), Key{Kind: "search", Query: "Great  Gatsby", Limit: 5, Version: 3}.String())

	variants := []Key{
		{Kind: "search", Query: "gatsby great", Limit: 5, Version: 3},
		{Kind: "search", Query: "great gatsby", Limit: 6, Version: 3},
		{Kind: "search", Query: "great gatsby", Limit: 5, Version: 4},
		{Kind: "similar", Query: "great gatsby", Limit: 5, Version: 3},
		{Kind: "search", Query: "great gatsby", Limit: 5, Version: 3, Category: "fiction"},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.String(), v.String(), "%+v", v)
	}
	assert.Contains(t, base.String(), keyPrefix+"v3:")
}

func TestGetOrCompute_ComputeError(t *testing.T) {
	c := New[result](newMemBackend(), time.Minute, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), Key{Kind: "search"}, func() (result, error) {
		return result{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestNilBackend_AlwaysComputes(t *testing.T) {
	c := New[result](nil, time.Minute, nil)
	calls := 0
	for i := 0; i < 3; i++ {
		_, hit, err := c.GetOrCompute(context.Background(), Key{Kind: "search", Query: "x"}, func() (result, error) {
			calls++
			return result{}, nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, 3, calls)
	n, err := c.Invalidate(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, c.Stats().Enabled)
}

func TestBackendFailure_DegradesAndTripsBreaker(t *testing.T) {
	backend := newMemBackend()
	backend.err = errors.New("connection refused")
	breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	c := New[result](backend, time.Minute, breaker)

	for i := 0; i < 3; i++ {
		got, hit, err := c.GetOrCompute(context.Background(), Key{Kind: "search", Query: "x"}, func() (result, error) {
			return result{IDs: []string{"ok"}}, nil
		})
		require.NoError(t, err, "cache failures never fail the lookup")
		assert.False(t, hit)
		assert.Equal(t, []string{"ok"}, got.IDs)
	}
	assert.Equal(t, resilience.StateOpen, breaker.State())
	assert.Equal(t, "open", c.Stats().CircuitState)
	assert.Positive(t, c.Stats().Errors)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.data["unrelated"] = []byte("keep")
	c := New[result](backend, time.Minute, nil)

	c.Set(ctx, Key{Kind: "search", Query: "a", Version: 1}, result{})
	c.Set(ctx, Key{Kind: "similar", Query: "b", Version: 2}, result{})

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, backend.data, 1)

	_, ok := c.Get(ctx, Key{Kind: "search", Query: "a", Version: 1})
	assert.False(t, ok)
}
