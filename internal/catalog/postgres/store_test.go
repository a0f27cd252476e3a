package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/pkg/config"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/booksphere/booksphere/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to BS_TEST_DATABASE_URL and skips when it is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("BS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BS_TEST_DATABASE_URL not set")
	}
	client, err := postgres.New(config.PostgresConfig{URL: dsn, MaxOpenConns: 4, MaxIdleConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := New(client)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b, err := s.CreateBook(ctx, catalog.BookInput{
		Title:  "Integration Test Book",
		Author: "Test Author",
		Price:  9,
	}.Book())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.DeleteBook(context.Background(), b.ID) })

	assert.Equal(t, 900, b.Price)
	assert.Equal(t, catalog.StatusPending, b.Status)
	assert.Equal(t, catalog.AdminMerchantID, b.MerchantID)

	got, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Title, got.Title)

	_, err = s.UpdateStatus(ctx, b.ID, catalog.StatusPublished)
	require.NoError(t, err)

	published, err := s.ListPublished(ctx)
	require.NoError(t, err)
	var found bool
	for _, p := range published {
		found = found || p.ID == b.ID
	}
	assert.True(t, found)

	b.Description = "now with a description"
	updated, err := s.UpdateBook(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "now with a description", updated.Description)
	assert.Equal(t, catalog.StatusPublished, updated.Status)

	require.NoError(t, s.DeleteBook(ctx, b.ID))
	_, err = s.GetBook(ctx, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func TestStore_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetBook(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)

	_, err = s.CreateBook(ctx, catalog.Book{
		Title: "Orphan", Author: "Nobody", MerchantID: "6f0c2a9e-0000-4000-8000-000000000001",
		Status: catalog.StatusPending,
	})
	assert.ErrorIs(t, err, apperrors.ErrMerchantNotFound)

	assert.ErrorIs(t, s.DeleteBook(ctx, "6f0c2a9e-0000-4000-8000-000000000002"), apperrors.ErrBookNotFound)
}
