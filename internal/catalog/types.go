// Package catalog defines the book records BookSphere sells and lends, the
// projection that turns a record into rankable text, and the storage
// contracts the catalog and search services share.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/booksphere/booksphere/pkg/errors"
)

// Status is the moderation state of a book listing.
type Status string

const (
	StatusPending     Status = "pending"
	StatusPublished   Status = "published"
	StatusUnpublished Status = "unpublished"
)

// AdminMerchantID owns books created by an administrator without a merchant
// profile.
const AdminMerchantID = "00000000-0000-0000-0000-000000000000"

// ParseStatus validates a moderation state.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusPublished, StatusUnpublished:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidStatus, s)
	}
}

// Book is a catalog listing. Price is in cents.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       int       `json:"price"`
	Stock       int       `json:"stock"`
	ImageURL    string    `json:"image_url,omitempty"`
	MerchantID  string    `json:"merchant_id"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document projects a book onto the text the ranker indexes: title, author,
// description and category joined by single spaces, empty fields skipped.
// Field order matters only for readability; the ranker treats text as a bag
// of tokens.
func Document(b Book) string {
	fields := []string{b.Title, b.Author, b.Description, b.Category}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

// Documents projects every book, preserving order.
func Documents(books []Book) []string {
	docs := make([]string, len(books))
	for i, b := range books {
		docs[i] = Document(b)
	}
	return docs
}

// Reader is the read side of the catalog consumed by the search service.
type Reader interface {
	// ListPublished returns every published book, newest first. The order
	// is the corpus order the ranker indexes.
	ListPublished(ctx context.Context) ([]Book, error)
	GetBook(ctx context.Context, id string) (Book, error)
}

// Store is the full catalog persistence contract. Lookups of unknown ids
// fail with errors.ErrBookNotFound; CreateBook fails with
// errors.ErrMerchantNotFound when the owning merchant does not exist.
type Store interface {
	Reader
	ListByMerchant(ctx context.Context, merchantID string) ([]Book, error)
	CreateBook(ctx context.Context, b Book) (Book, error)
	// UpdateBook replaces the editable fields of b.ID. Status, owner and
	// creation time are left untouched.
	UpdateBook(ctx context.Context, b Book) (Book, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Book, error)
	DeleteBook(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// BookInput is the writable part of a book as submitted by a merchant.
// Price is in whole currency units.
type BookInput struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       int    `json:"price"`
	Stock       int    `json:"stock"`
	ImageURL    string `json:"image_url"`
	MerchantID  string `json:"merchant_id"`
}

// Book converts the input into a pending record with the price in cents.
// An empty merchant id is attributed to AdminMerchantID.
func (in BookInput) Book() Book {
	merchant := strings.TrimSpace(in.MerchantID)
	if merchant == "" {
		merchant = AdminMerchantID
	}
	return Book{
		Title:       strings.TrimSpace(in.Title),
		Author:      strings.TrimSpace(in.Author),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Price:       in.Price * 100,
		Stock:       in.Stock,
		ImageURL:    strings.TrimSpace(in.ImageURL),
		MerchantID:  merchant,
		Status:      StatusPending,
	}
}

// SortNewestFirst orders books by creation time descending, then by id, the
// order every store returns listings in.
func SortNewestFirst(books []Book) {
	sort.SliceStable(books, func(i, j int) bool {
		if !books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].CreatedAt.After(books[j].CreatedAt)
		}
		return books[i].ID < books[j].ID
	})
}
