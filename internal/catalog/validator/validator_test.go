package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/booksphere/booksphere/internal/catalog"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() catalog.BookInput {
	return catalog.BookInput{
		Title:    "Dune",
		Author:   "Frank Herbert",
		Price:    12,
		Stock:    4,
		ImageURL: "https://covers.example.com/dune.jpg",
	}
}

func TestValidateBook_Valid(t *testing.T) {
	in := validInput()
	assert.NoError(t, ValidateBook(&in))

	in.MerchantID = "3f1c9b1e-6a53-4c1e-9d0a-5b7f2d6a8e10"
	in.ImageURL = ""
	assert.NoError(t, ValidateBook(&in))
}

func TestValidateBook_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*catalog.BookInput)
		field  string
	}{
		{"missing title", func(in *catalog.BookInput) { in.Title = "   " }, "title"},
		{"long title", func(in *catalog.BookInput) { in.Title = strings.Repeat("x", maxTitleLength+1) }, "title"},
		{"missing author", func(in *catalog.BookInput) { in.Author = "" }, "author"},
		{"long description", func(in *catalog.BookInput) { in.Description = strings.Repeat("d", maxDescriptionLength+1) }, "description"},
		{"negative price", func(in *catalog.BookInput) { in.Price = -1 }, "price"},
		{"negative stock", func(in *catalog.BookInput) { in.Stock = -2 }, "stock"},
		{"relative image", func(in *catalog.BookInput) { in.ImageURL = "/covers/dune.jpg" }, "image_url"},
		{"bad merchant", func(in *catalog.BookInput) { in.MerchantID = "merchant-7" }, "merchant_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := ValidateBook(&in)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
			assert.Len(t, verr.Fields, 1)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestValidateBook_ReportsAllFields(t *testing.T) {
	in := catalog.BookInput{Price: -5}
	err := ValidateBook(&in)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 3)
	assert.Equal(t, "author: author is required; price: price must not be negative; title: title is required", err.Error())
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("3f1c9b1e-6a53-4c1e-9d0a-5b7f2d6a8e10"))
	assert.ErrorIs(t, ValidateID("42"), apperrors.ErrInvalidInput)
}
