package store

import (
	"context"
	"os"
	"testing"

	"github.com/booksphere/booksphere/internal/analytics"
	"github.com/booksphere/booksphere/pkg/config"
	"github.com/booksphere/booksphere/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndList(t *testing.T) {
	dsn := os.Getenv("BS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BS_TEST_DATABASE_URL not set")
	}
	client, err := postgres.New(config.PostgresConfig{URL: dsn, MaxOpenConns: 2, MaxIdleConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := New(client)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	agg := analytics.NewAggregator()
	agg.Record(analytics.SearchEvent{Type: analytics.EventSearch, Query: "dune", Returned: 3, LatencyMs: 4})
	require.NoError(t, s.SaveSnapshot(ctx, agg.Stats()))

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.GreaterOrEqual(t, latest.TotalSearches, int64(1))

	snaps, err := s.ListSnapshots(ctx, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, snaps)
	assert.LessOrEqual(t, len(snaps), 5)
}
