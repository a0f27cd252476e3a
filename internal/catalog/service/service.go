// Package service implements the catalog write path: validate, persist,
// then announce the change on Kafka.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/internal/catalog/events"
	"github.com/booksphere/booksphere/internal/catalog/validator"
	"github.com/booksphere/booksphere/pkg/kafka"
	"github.com/booksphere/booksphere/pkg/logger"
	"github.com/booksphere/booksphere/pkg/resilience"
)

var publishRetry = resilience.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
}

type Service struct {
	store     catalog.Store
	publisher kafka.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

func New(store catalog.Store, publisher kafka.Publisher) *Service {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		logger:    slog.Default().With("component", "catalog-service"),
	}
}

// Create stores a new pending book.
func (s *Service) Create(ctx context.Context, in catalog.BookInput) (catalog.Book, error) {
	if err := validator.ValidateBook(&in); err != nil {
		return catalog.Book{}, err
	}
	b, err := s.store.CreateBook(ctx, in.Book())
	if err != nil {
		return catalog.Book{}, fmt.Errorf("creating book: %w", err)
	}
	s.announce(ctx, events.BookCreated, b)
	return b, nil
}

// Update replaces the editable fields of book id. Owner and status are kept.
func (s *Service) Update(ctx context.Context, id string, in catalog.BookInput) (catalog.Book, error) {
	if err := validator.ValidateID(id); err != nil {
		return catalog.Book{}, err
	}
	if err := validator.ValidateBook(&in); err != nil {
		return catalog.Book{}, err
	}
	b := in.Book()
	b.ID = id
	updated, err := s.store.UpdateBook(ctx, b)
	if err != nil {
		return catalog.Book{}, fmt.Errorf("updating book %s: %w", id, err)
	}
	s.announce(ctx, events.BookUpdated, updated)
	return updated, nil
}

// SetStatus moves a book between pending, published and unpublished.
func (s *Service) SetStatus(ctx context.Context, id, status string) (catalog.Book, error) {
	if err := validator.ValidateID(id); err != nil {
		return catalog.Book{}, err
	}
	st, err := catalog.ParseStatus(status)
	if err != nil {
		return catalog.Book{}, err
	}
	b, err := s.store.UpdateStatus(ctx, id, st)
	if err != nil {
		return catalog.Book{}, fmt.Errorf("updating status of %s: %w", id, err)
	}
	s.announce(ctx, events.BookStatusChanged, b)
	return b, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := validator.ValidateID(id); err != nil {
		return err
	}
	if err := s.store.DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("deleting book %s: %w", id, err)
	}
	s.announce(ctx, events.BookDeleted, catalog.Book{ID: id})
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (catalog.Book, error) {
	if err := validator.ValidateID(id); err != nil {
		return catalog.Book{}, err
	}
	return s.store.GetBook(ctx, id)
}

// ListPublished returns at most limit published books, newest first. A
// non-positive limit returns all of them.
func (s *Service) ListPublished(ctx context.Context, limit int) ([]catalog.Book, error) {
	books, err := s.store.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing published books: %w", err)
	}
	if limit > 0 && len(books) > limit {
		books = books[:limit]
	}
	return books, nil
}

func (s *Service) ListByMerchant(ctx context.Context, merchantID string) ([]catalog.Book, error) {
	books, err := s.store.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("listing books of merchant %s: %w", merchantID, err)
	}
	return books, nil
}

// announce publishes a change event. The write is already committed, so a
// publish failure is logged and the searcher's periodic refresh catches up.
func (s *Service) announce(ctx context.Context, t events.Type, b catalog.Book) {
	e := events.NewEvent(t, b, s.now())
	err := resilience.Retry(ctx, "publish "+string(t), publishRetry, func() error {
		return s.publisher.Publish(ctx, e.Message())
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to publish catalog event",
			"type", t,
			"book_id", b.ID,
			"error", err,
		)
		return
	}
	s.logger.Debug("catalog event published", "type", t, "book_id", b.ID)
}
