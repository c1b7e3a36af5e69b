package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreLimiterFixedWindow(t *testing.T) {
	l := NewMemoryLimiter("test")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, remaining, reset, err := l.Allow(ctx, "actor:ops", time.Minute, 2)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, 1-i, remaining)
		require.True(t, reset.After(time.Now()))
	}

	allowed, remaining, _, err := l.Allow(ctx, "actor:ops", time.Minute, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, remaining)

	allowed, _, _, err = l.Allow(ctx, "actor:other", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed, "keys are counted separately")
}

func TestStoreLimiterDisabledWhenMaxZero(t *testing.T) {
	l := NewMemoryLimiter("test")
	allowed, _, _, err := l.Allow(context.Background(), "k", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, allowed)
}
