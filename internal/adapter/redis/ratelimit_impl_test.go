package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(newTestClient(t), "test:ratelimit", 3, time.Minute)
	l.now = clock.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		wait, err := l.Reserve(ctx)
		require.NoError(t, err)
		assert.Zero(t, wait)
		clock.advance(time.Second)
	}

	wait, err := l.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 57*time.Second, wait)

	clock.advance(57 * time.Second)
	wait, err = l.Reserve(ctx)
	require.NoError(t, err)
	assert.Zero(t, wait)
}
