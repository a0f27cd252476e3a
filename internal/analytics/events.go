// Package analytics records what shoppers search for and how the ranker
// answered, ships the events over Kafka and aggregates them into the stats
// served at /api/v1/analytics.
package analytics

import (
	"context"
	"time"

	"github.com/booksphere/booksphere/pkg/kafka"
)

type EventType string

const (
	EventSearch  EventType = "search"
	EventSimilar EventType = "similar"
)

// SearchEvent describes one answered lookup. For similar lookups BookID is
// the anchor and Query is empty.
type SearchEvent struct {
	Type            EventType `json:"type"`
	Query           string    `json:"query,omitempty"`
	Category        string    `json:"category,omitempty"`
	BookID          string    `json:"book_id,omitempty"`
	Returned        int       `json:"returned"`
	ExactMatches    int       `json:"exact_matches"`
	Fallback        bool      `json:"fallback"`
	LatencyMs       int64     `json:"latency_ms"`
	// CacheHit reports a search result cache hit. Similar events leave it false.
	CacheHit        bool      `json:"cache_hit"`
	SnapshotVersion uint64    `json:"snapshot_version"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
}

// Sink receives flushed batches from a Collector.
type Sink interface {
	Write(ctx context.Context, events []SearchEvent) error
}

// KafkaSink publishes batches to the analytics topic.
type KafkaSink struct {
	Publisher kafka.Publisher
}

func (s KafkaSink) Write(ctx context.Context, events []SearchEvent) error {
	batch := make([]kafka.Event, len(events))
	for i, e := range events {
		batch[i] = kafka.Event{Key: string(e.Type), Type: string(e.Type), Value: e}
	}
	return s.Publisher.PublishBatch(ctx, batch)
}
