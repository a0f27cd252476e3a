package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/booksphere/booksphere/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]SearchEvent
	err     error
}

func (s *memSink) Write(_ context.Context, events []SearchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]SearchEvent, len(events))
	copy(cp, events)
	s.batches = append(s.batches, cp)
	return s.err
}

func (s *memSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestCollector_FlushesOnBatchSize(t *testing.T) {
	sink := &memSink{}
	c := NewCollector(sink, 16, WithBatching(2, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(SearchEvent{Type: EventSearch, Query: "dune"})
	c.Track(SearchEvent{Type: EventSearch, Query: "emma"})
	require.Eventually(t, func() bool { return sink.total() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	c.Wait()
}

func TestCollector_DrainsOnShutdown(t *testing.T) {
	sink := &memSink{}
	c := NewCollector(sink, 16, WithBatching(100, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		c.Track(SearchEvent{Type: EventSimilar, BookID: "b"})
	}
	c.Start(ctx)
	cancel()
	c.Wait()
	assert.Equal(t, 5, sink.total())
}

func TestCollector_DropsWhenFull(t *testing.T) {
	var dropped atomic.Int64
	c := NewCollector(&memSink{}, 1, WithDropHook(func() { dropped.Add(1) }))
	c.Track(SearchEvent{Type: EventSearch})
	c.Track(SearchEvent{Type: EventSearch})
	c.Track(SearchEvent{Type: EventSearch})
	assert.Equal(t, int64(2), dropped.Load())
}

func TestCollector_SinkErrorIsNotFatal(t *testing.T) {
	sink := &memSink{err: errors.New("broker down")}
	c := NewCollector(sink, 4, WithBatching(1, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	c.Track(SearchEvent{Type: EventSearch})
	c.Track(SearchEvent{Type: EventSearch})
	require.Eventually(t, func() bool { return sink.total() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	c.Wait()
}

type batchRecorder struct {
	kafka.NopPublisher
	events []kafka.Event
}

func (p *batchRecorder) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.events = append(p.events, events...)
	return nil
}

func TestKafkaSink_Write(t *testing.T) {
	pub := &batchRecorder{}
	err := KafkaSink{Publisher: pub}.Write(context.Background(), []SearchEvent{
		{Type: EventSearch, Query: "dune"},
		{Type: EventSimilar, BookID: "b1"},
	})
	require.NoError(t, err)
	require.Len(t, pub.events, 2)
	assert.Equal(t, "search", pub.events[0].Type)
	assert.Equal(t, "similar", pub.events[1].Key)
}

func TestAggregator_Stats(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.Write(context.Background(), []SearchEvent{
		{Type: EventSearch, Query: "Dune", Returned: 2, ExactMatches: 1, LatencyMs: 10, CacheHit: true},
		{Type: EventSearch, Query: "dune ", Returned: 2, LatencyMs: 20},
		{Type: EventSearch, Query: "zzzz", Returned: 8, Fallback: true, LatencyMs: 30},
		{Type: EventSimilar, BookID: "b1", Returned: 3, LatencyMs: 40, CacheHit: true},
	}))

	s := a.Stats()
	assert.Equal(t, int64(3), s.TotalSearches)
	assert.Equal(t, int64(1), s.TotalSimilar)
	// only search events touch the result cache
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(2), s.CacheMisses)
	assert.Equal(t, int64(1), s.FallbackCount)
	assert.Equal(t, int64(1), s.ExactMatchCount)
	assert.InDelta(t, 25.0, s.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(30), s.P50LatencyMs)
	assert.Equal(t, int64(40), s.P99LatencyMs)

	require.NotEmpty(t, s.TopQueries)
	assert.Equal(t, QueryCount{Query: "dune", Count: 2}, s.TopQueries[0])
	assert.Equal(t, []QueryCount{{Query: "zzzz", Count: 1}}, s.ZeroResultQueries)
	assert.Equal(t, []QueryCount{{Query: "b1", Count: 1}}, s.TopSimilarAnchors)
}

func TestAggregator_LatencyWindowIsBounded(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < latencyWindow+10; i++ {
		a.Record(SearchEvent{Type: EventSearch, LatencyMs: int64(i)})
	}
	assert.Len(t, a.latencies, latencyWindow)
	// the ten oldest samples were overwritten
	assert.Equal(t, int64(latencyWindow), a.latencies[0])
}

func TestAggregator_HandleMessage(t *testing.T) {
	a := NewAggregator()
	h := a.HandleMessage()

	body, err := json.Marshal(SearchEvent{Type: EventSearch, Query: "emma"})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), nil, body))
	require.NoError(t, h(context.Background(), nil, []byte("{not json")))

	assert.Equal(t, int64(1), a.Stats().TotalSearches)
}

type fakeHistory struct {
	snaps []AggregatedStats
	limit int
}

func (f *fakeHistory) ListSnapshots(_ context.Context, limit int) ([]AggregatedStats, error) {
	f.limit = limit
	return f.snaps, nil
}

func TestHandler(t *testing.T) {
	a := NewAggregator()
	a.Record(SearchEvent{Type: EventSearch, Query: "dune"})

	history := &fakeHistory{snaps: []AggregatedStats{{TotalSearches: 7}}}
	mux := http.NewServeMux()
	NewHandler(a, history).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalSearches)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, history.limit)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_NoHistory(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(NewAggregator(), nil).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
