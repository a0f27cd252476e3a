// Package cache memoises ranking results in Redis. Keys embed the ranking
// snapshot version, so a catalog refresh makes every older entry
// unreachable even before Invalidate sweeps it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/booksphere/booksphere/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "booksphere:search:"

// Backend is the subset of pkg/redis.Client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cached lookup.
type Key struct {
	Kind     string // "search" or "similar"
	Query    string // query text, category filter or anchor book id
	Limit    int
	Version  uint64
	Category string
}

func (k Key) String() string {
	raw := fmt.Sprintf("%s|%s|%s|limit=%d", k.Kind, NormalizeQuery(k.Query), strings.ToLower(k.Category), k.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%sv%d:%x", keyPrefix, k.Version, hash[:16])
}

// NormalizeQuery lowercases and collapses whitespace. Word order is kept:
// exact title matching depends on it.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

type Stats struct {
	Enabled      bool   `json:"enabled"`
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	Errors       int64  `json:"errors"`
	CircuitState string `json:"circuit_state"`
}

// QueryCache caches values of type T. A nil Backend disables storage but
// keeps concurrent identical lookups coalesced.
type QueryCache[T any] struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// New wraps backend. breaker may be nil.
func New[T any](backend Backend, ttl time.Duration, breaker *resilience.CircuitBreaker) *QueryCache[T] {
	return &QueryCache[T]{
		backend: backend,
		ttl:     ttl,
		breaker: breaker,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache[T]) guard(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

func (c *QueryCache[T]) Get(ctx context.Context, key Key) (T, bool) {
	var zero T
	if c.backend == nil {
		return zero, false
	}
	k := key.String()
	var data []byte
	var found bool
	err := c.guard(func() error {
		var err error
		data, found, err = c.backend.Get(ctx, k)
		return err
	})
	if err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		c.logger.Warn("cache get failed", "key", k, "error", err)
		return zero, false
	}
	if !found {
		c.misses.Add(1)
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		return zero, false
	}
	c.hits.Add(1)
	return v, true
}

func (c *QueryCache[T]) Set(ctx context.Context, key Key, v T) {
	if c.backend == nil {
		return
	}
	k := key.String()
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.guard(func() error { return c.backend.Set(ctx, k, data, c.ttl) }); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Concurrent callers with the same key share one computation.
// The boolean reports a cache hit.
func (c *QueryCache[T]) GetOrCompute(ctx context.Context, key Key, compute func() (T, error)) (T, bool, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (any, error) {
		v, err := compute()
		if err != nil {
			return v, err
		}
		c.Set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}

// Invalidate removes every cached entry and returns how many were deleted.
func (c *QueryCache[T]) Invalidate(ctx context.Context) (int64, error) {
	if c.backend == nil {
		return 0, nil
	}
	var deleted int64
	err := c.guard(func() error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		c.errors.Add(1)
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache[T]) Stats() Stats {
	s := Stats{
		Enabled: c.backend != nil,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errors.Load(),
	}
	if c.breaker != nil {
		s.CircuitState = c.breaker.State().String()
	}
	return s
}
