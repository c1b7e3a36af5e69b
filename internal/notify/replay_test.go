package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryReplayProtectorExpires(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	m := &MemoryReplayProtector{now: func() time.Time { return now }}
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = m.Acquire(ctx, "k", time.Minute)
	require.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = m.Acquire(ctx, "k", time.Minute)
	require.True(t, ok, "expired claims are reclaimed")

	require.NoError(t, m.Release(ctx, "k"))
	ok, _ = m.Acquire(ctx, "k", time.Minute)
	require.True(t, ok)
}
