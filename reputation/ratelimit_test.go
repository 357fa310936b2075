package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewSlidingLimiter(3, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"calls within the limit must not block")
}

func TestSlidingLimiterDelaysOverLimit(t *testing.T) {
	window := 300 * time.Millisecond
	limiter := NewSlidingLimiter(2, window)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, window-50*time.Millisecond,
		"call N+1 must wait for the oldest call to leave the window")
}

func TestSlidingLimiterRecoversAfterWindow(t *testing.T) {
	window := 150 * time.Millisecond
	limiter := NewSlidingLimiter(1, window)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	time.Sleep(window + 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, limiter.Acquire(ctx))
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"a call after the window expires must not block")
}

func TestSlidingLimiterContextCancel(t *testing.T) {
	limiter := NewSlidingLimiter(1, time.Minute)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlidingLimiterReset(t *testing.T) {
	limiter := NewSlidingLimiter(1, time.Minute)
	require.NoError(t, limiter.Acquire(context.Background()))
	limiter.Reset()

	start := time.Now()
	require.NoError(t, limiter.Acquire(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
