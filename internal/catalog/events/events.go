// Package events defines the catalog change notifications exchanged over
// Kafka. The catalog service produces them after every committed write; the
// search service consumes them to rebuild its ranking snapshot.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/pkg/kafka"
)

type Type string

const (
	BookCreated       Type = "book.created"
	BookUpdated       Type = "book.updated"
	BookStatusChanged Type = "book.status_changed"
	BookDeleted       Type = "book.deleted"
)

// Event is the wire payload. Status is the book's status after the change;
// it is empty for deletions.
type Event struct {
	Type       Type           `json:"type"`
	BookID     string         `json:"book_id"`
	Status     catalog.Status `json:"status,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// AffectsSearch reports whether the change can alter the published corpus.
// Pending books are invisible to search, so creating one changes nothing.
func (e Event) AffectsSearch() bool {
	switch e.Type {
	case BookCreated:
		return e.Status == catalog.StatusPublished
	case BookUpdated:
		return e.Status == catalog.StatusPublished
	default:
		return true
	}
}

// NewEvent stamps an event for book b.
func NewEvent(t Type, b catalog.Book, at time.Time) Event {
	return Event{Type: t, BookID: b.ID, Status: b.Status, OccurredAt: at.UTC()}
}

// Message wraps the event for publishing, keyed by book id so that changes
// to one book stay ordered within a partition.
func (e Event) Message() kafka.Event {
	return kafka.Event{Key: e.BookID, Type: string(e.Type), Value: e}
}

// Handler adapts fn to a kafka.MessageHandler.
func Handler(fn func(ctx context.Context, e Event) error) kafka.MessageHandler {
	return func(ctx context.Context, _ []byte, value []byte) error {
		e, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			return err
		}
		if e.Type == "" || e.BookID == "" {
			return fmt.Errorf("malformed catalog event: %s", value)
		}
		return fn(ctx, e)
	}
}
