// Package validator checks book submissions before they reach the store and
// reports every failing field at once.
package validator

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/booksphere/booksphere/internal/catalog"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/google/uuid"
)

const (
	maxTitleLength       = 512
	maxAuthorLength      = 256
	maxCategoryLength    = 128
	maxDescriptionLength = 20000
	maxImageURLLength    = 2048
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// ValidateBook checks lengths, required fields and numeric ranges of a book
// submission and returns a *ValidationError listing every problem.
func ValidateBook(in *catalog.BookInput) error {
	errs := make(map[string]string)

	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		errs["title"] = "title is required"
	case utf8.RuneCountInString(title) > maxTitleLength:
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}

	author := strings.TrimSpace(in.Author)
	switch {
	case author == "":
		errs["author"] = "author is required"
	case utf8.RuneCountInString(author) > maxAuthorLength:
		errs["author"] = fmt.Sprintf("author must be at most %d characters", maxAuthorLength)
	}

	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		errs["description"] = fmt.Sprintf("description must be at most %d characters", maxDescriptionLength)
	}
	if utf8.RuneCountInString(in.Category) > maxCategoryLength {
		errs["category"] = fmt.Sprintf("category must be at most %d characters", maxCategoryLength)
	}
	if in.Price < 0 {
		errs["price"] = "price must not be negative"
	}
	if in.Stock < 0 {
		errs["stock"] = "stock must not be negative"
	}
	if raw := strings.TrimSpace(in.ImageURL); raw != "" {
		if len(raw) > maxImageURLLength {
			errs["image_url"] = fmt.Sprintf("image_url must be at most %d characters", maxImageURLLength)
		} else if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs["image_url"] = "image_url must be an absolute http(s) URL"
		}
	}
	if m := strings.TrimSpace(in.MerchantID); m != "" {
		if _, err := uuid.Parse(m); err != nil {
			errs["merchant_id"] = "merchant_id must be a UUID"
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateID rejects ids that cannot name a book.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Fields: map[string]string{"id": "id must be a UUID"}}
	}
	return nil
}
