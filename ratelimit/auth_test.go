package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthLimiterCountsOnlyFailures(t *testing.T) {
	l, c := newTestLimiter(t)
	ctx := context.Background()
	a, err := l.NewAuthLimiter(Policy{Name: "auth", Window: 15 * time.Minute, MaxRequests: 3}, 30*time.Minute)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		d, err := a.Blocked(ctx, "alice")
		require.NoError(t, err)
		require.True(t, d.Allowed, "checks alone must not consume budget")
	}

	for i := 0; i < 2; i++ {
		d, err := a.RecordFailure(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := a.RecordFailure(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)

	d, err = a.Blocked(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	c.Advance(20 * time.Minute)
	d, err = a.Blocked(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "block outlives the counting window")

	c.Advance(11 * time.Minute)
	d, err = a.Blocked(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthLimiterResetOnSuccess(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	a, err := l.NewAuthLimiter(Policy{Name: "auth", Window: time.Minute, MaxRequests: 2}, 0)
	require.NoError(t, err)

	_, err = a.RecordFailure(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, a.Reset(ctx, "bob"))

	d, err := a.RecordFailure(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "success cleared previous failures")
	assert.Equal(t, 1, d.Remaining)
}

func TestAuthLimiterRejectsSlidingPolicy(t *testing.T) {
	l, _ := newTestLimiter(t)
	_, err := l.NewAuthLimiter(Policy{Name: "auth", Window: time.Minute, MaxRequests: 2, Algorithm: SlidingWindow}, 0)
	assert.Error(t, err)
}

func TestBurstGuard(t *testing.T) {
	c := &clock{now: time.Unix(1_760_000_000, 0)}
	g, err := NewBurstGuard(BurstPolicy{PerSecond: 1, Burst: 3, IdleTTL: time.Minute}, c.Now)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, g.Allow(ctx, "client").Allowed)
	}
	d := g.Allow(ctx, "client")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	wait, ok := RetryAfter(d.Err())
	require.True(t, ok, "burst denials carry their wait")
	assert.Equal(t, d.RetryAfter, wait)
	assert.True(t, g.Allow(ctx, "other").Allowed)

	c.Advance(time.Second)
	assert.True(t, g.Allow(ctx, "client").Allowed, "bucket refills over time")

	c.Advance(2 * time.Minute)
	removed, err := g.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}
