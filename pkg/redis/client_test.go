package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/booksphere/booksphere/pkg/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetSetFlush(t *testing.T) {
	addr := os.Getenv("BS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BS_TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	prefix := fmt.Sprintf("bs-test:%d:", time.Now().UnixNano())
	_, found, err := c.Get(ctx, prefix+"missing")
	require.NoError(t, err)
	assert.False(t, found)

	for i := 0; i < 150; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("%s%d", prefix, i), []byte("v"), time.Minute))
	}
	v, found, err := c.Get(ctx, prefix+"7")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	deleted, err := c.FlushByPattern(ctx, prefix+"*")
	require.NoError(t, err)
	assert.Equal(t, int64(150), deleted)
}

func TestIsNilError(t *testing.T) {
	assert.False(t, IsNilError(nil))
	assert.False(t, IsNilError(fmt.Errorf("boom")))
	assert.True(t, IsNilError(fmt.Errorf("wrapped: %w", redisNil())))
}

func redisNil() error { return goredis.Nil }
