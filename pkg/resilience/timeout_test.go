package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, "fast", func(context.Context) error { return nil })
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = WithTimeout(context.Background(), 0, "unbounded", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}
