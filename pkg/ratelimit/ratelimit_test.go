package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_CountsFailuresWithinWindow(t *testing.T) {
	store := NewInMemoryStore()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixedNow }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordFailure(ctx, "alice"))
	}

	count, err := store.FailureCount(ctx, "alice", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestInMemoryStore_ExpiresOldFailures(t *testing.T) {
	store := NewInMemoryStore()
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return cur }

	ctx := context.Background()
	require.NoError(t, store.RecordFailure(ctx, "bob"))

	cur = cur.Add(20 * time.Minute)
	count, err := store.FailureCount(ctx, "bob", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInMemoryStore_ResetClearsFailures(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.RecordFailure(ctx, "carol"))
	require.NoError(t, store.Reset(ctx, "carol"))

	count, err := store.FailureCount(ctx, "carol", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestThrottle_AllowsWithinBurstThenDenies(t *testing.T) {
	th := NewThrottle(1, 2)
	assert.True(t, th.Allow("10.0.0.1"))
	assert.True(t, th.Allow("10.0.0.1"))
	assert.False(t, th.Allow("10.0.0.1"))
}

func TestThrottle_TracksSourcesIndependently(t *testing.T) {
	th := NewThrottle(1, 1)
	assert.True(t, th.Allow("10.0.0.1"))
	assert.True(t, th.Allow("10.0.0.2"))
}
