package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLimiterBurstThenThrottle exhausts the burst and expects a refusal.
func TestLimiterBurstThenThrottle(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 2})

	require.True(t, l.Allow("key-a"))
	require.True(t, l.Allow("key-a"))
	require.False(t, l.Allow("key-a"))
}

// TestLimiterIsolatesClients checks that one client draining its bucket
// does not throttle another.
func TestLimiterIsolatesClients(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})

	require.True(t, l.Allow("key-a"))
	require.False(t, l.Allow("key-a"))
	require.True(t, l.Allow("key-b"))
	require.Equal(t, 2, l.Size())
}

// TestLimiterUnlimited treats a non-positive rate as no limit.
func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0, Burst: 1})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("key-a"))
	}
}

// TestLimiterDefaultBurst floors the burst at one token.
func TestLimiterDefaultBurst(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 0})
	require.True(t, l.Allow("key-a"))
	require.False(t, l.Allow("key-a"))
}
