// Package memory is an in-process catalog.Store used by tests and by the
// services when no database is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/booksphere/booksphere/internal/catalog"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/google/uuid"
)

type Store struct {
	mu        sync.RWMutex
	books     map[string]catalog.Book
	merchants map[string]struct{}
	now       func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store that knows only the admin merchant.
func New(opts ...Option) *Store {
	s := &Store{
		books:     make(map[string]catalog.Book),
		merchants: map[string]struct{}{catalog.AdminMerchantID: {}},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMerchant registers a merchant id so books can be attributed to it.
func (s *Store) AddMerchant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[id] = struct{}{}
}

// Seed inserts books verbatim. Missing ids are generated.
func (s *Store) Seed(books ...catalog.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range books {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		s.books[b.ID] = b
		if b.MerchantID != "" {
			s.merchants[b.MerchantID] = struct{}{}
		}
	}
}

func (s *Store) ListPublished(_ context.Context) ([]catalog.Book, error) {
	return s.filter(func(b catalog.Book) bool { return b.Status == catalog.StatusPublished }), nil
}

func (s *Store) ListByMerchant(_ context.Context, merchantID string) ([]catalog.Book, error) {
	return s.filter(func(b catalog.Book) bool { return b.MerchantID == merchantID }), nil
}

func (s *Store) filter(keep func(catalog.Book) bool) []catalog.Book {
	s.mu.RLock()
	out := make([]catalog.Book, 0, len(s.books))
	for _, b := range s.books {
		if keep(b) {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()
	catalog.SortNewestFirst(out)
	return out
}

func (s *Store) GetBook(_ context.Context, id string) (catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return catalog.Book{}, apperrors.ErrBookNotFound
	}
	return b, nil
}

func (s *Store) CreateBook(_ context.Context, b catalog.Book) (catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.merchants[b.MerchantID]; !ok {
		return catalog.Book{}, apperrors.ErrMerchantNotFound
	}
	b.ID = uuid.NewString()
	b.CreatedAt = s.now()
	if b.Status == "" {
		b.Status = catalog.StatusPending
	}
	s.books[b.ID] = b
	return b, nil
}

func (s *Store) UpdateBook(_ context.Context, b catalog.Book) (catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.books[b.ID]
	if !ok {
		return catalog.Book{}, apperrors.ErrBookNotFound
	}
	cur.Title = b.Title
	cur.Author = b.Author
	cur.Description = b.Description
	cur.Category = b.Category
	cur.Price = b.Price
	cur.Stock = b.Stock
	cur.ImageURL = b.ImageURL
	s.books[b.ID] = cur
	return cur, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status catalog.Status) (catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return catalog.Book{}, apperrors.ErrBookNotFound
	}
	b.Status = status
	s.books[id] = b
	return b, nil
}

func (s *Store) DeleteBook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[id]; !ok {
		return apperrors.ErrBookNotFound
	}
	delete(s.books, id)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
