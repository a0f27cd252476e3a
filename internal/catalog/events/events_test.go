package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffectsSearch(t *testing.T) {
	tests := []struct {
		event Event
		want  bool
	}{
		{Event{Type: BookCreated, Status: catalog.StatusPending}, false},
		{Event{Type: BookCreated, Status: catalog.StatusPublished}, true},
		{Event{Type: BookUpdated, Status: catalog.StatusUnpublished}, false},
		{Event{Type: BookUpdated, Status: catalog.StatusPublished}, true},
		{Event{Type: BookStatusChanged, Status: catalog.StatusUnpublished}, true},
		{Event{Type: BookDeleted}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.AffectsSearch(), "%s/%s", tt.event.Type, tt.event.Status)
	}
}

func TestMessage_KeyedByBook(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEvent(BookStatusChanged, catalog.Book{ID: "b1", Status: catalog.StatusPublished}, at)
	msg := e.Message()
	assert.Equal(t, "b1", msg.Key)
	assert.Equal(t, "book.status_changed", msg.Type)
	assert.Equal(t, e, msg.Value)
}

func TestHandler_DecodesAndDispatches(t *testing.T) {
	e := Event{Type: BookDeleted, BookID: "b9", OccurredAt: time.Unix(0, 0).UTC()}
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var got Event
	h := Handler(func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})
	require.NoError(t, h(context.Background(), []byte("b9"), raw))
	assert.Equal(t, e, got)
}

func TestHandler_RejectsMalformed(t *testing.T) {
	h := Handler(func(context.Context, Event) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.Error(t, h(context.Background(), nil, []byte("{")))
	assert.Error(t, h(context.Background(), nil, []byte(`{"type":"book.created"}`)))
}
