package analytics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/booksphere/booksphere/pkg/kafka"
)

// latencyWindow bounds the samples kept for percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	TotalSimilar      int64        `json:"total_similar"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	FallbackCount     int64        `json:"fallback_count"`
	ExactMatchCount   int64        `json:"exact_match_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	TopSimilarAnchors []QueryCount `json:"top_similar_anchors"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	Since             time.Time    `json:"since"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds SearchEvents into running totals. It is safe for
// concurrent use.
type Aggregator struct {
	mu            sync.RWMutex
	totalSearches int64
	totalSimilar  int64
	cacheHits     int64
	cacheMisses   int64
	fallbacks     int64
	exactMatches  int64
	latencies     []int64
	next          int
	queryCounts   map[string]int64
	zeroResults   map[string]int64
	anchorCounts  map[string]int64
	startTime     time.Time
	now           func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:    make([]int64, 0, 1024),
		queryCounts:  make(map[string]int64),
		zeroResults:  make(map[string]int64),
		anchorCounts: make(map[string]int64),
		startTime:    time.Now(),
		now:          time.Now,
		logger:       slog.Default().With("component", "analytics-aggregator"),
	}
}

// Write makes the Aggregator a Sink, for deployments without Kafka.
func (a *Aggregator) Write(_ context.Context, events []SearchEvent) error {
	for _, e := range events {
		a.Record(e)
	}
	return nil
}

// HandleMessage consumes the analytics topic. Undecodable messages are
// logged and skipped so one bad payload cannot wedge the partition.
func (a *Aggregator) HandleMessage() kafka.MessageHandler {
	return func(_ context.Context, _ []byte, value []byte) error {
		e, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			a.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		a.Record(e)
		return nil
	}
}

// A zero-result query is a text search answered only by the fallback
// listing.
func (a *Aggregator) Record(e SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Type {
	case EventSimilar:
		a.totalSimilar++
		if e.BookID != "" {
			a.anchorCounts[e.BookID]++
		}
	default:
		a.totalSearches++
		if q := strings.ToLower(strings.TrimSpace(e.Query)); q != "" {
			a.queryCounts[q]++
			if e.Fallback {
				a.zeroResults[q]++
			}
		}
		if e.CacheHit {
			a.cacheHits++
		} else {
			a.cacheMisses++
		}
	}
	if e.Fallback {
		a.fallbacks++
	}
	a.exactMatches += int64(e.ExactMatches)

	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, e.LatencyMs)
	} else {
		a.latencies[a.next] = e.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		TotalSimilar:    a.totalSimilar,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		FallbackCount:   a.fallbacks,
		ExactMatchCount: a.exactMatches,
		Since:           a.startTime.UTC(),
	}
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
	stats.ZeroResultQueries = topN(a.zeroResults, 10)
	stats.TopSimilarAnchors = topN(a.anchorCounts, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches+stats.TotalSimilar) / elapsed
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

// topN orders by count descending, then query ascending.
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
