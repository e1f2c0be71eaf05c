package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/clinicguard/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T) (*Limiter, *clock) {
	t.Helper()
	c := &clock{now: time.Unix(1_760_000_000, 0)}
	s := store.NewSharded[Counter](store.WithClock(c.Now))
	return New(s, WithClock(c.Now)), c
}

func TestFixedAndSlidingFivePerMinute(t *testing.T) {
	for _, alg := range []Algorithm{FixedWindow, SlidingWindow} {
		t.Run(alg.String(), func(t *testing.T) {
			l, c := newTestLimiter(t)
			ctx := context.Background()
			p := Policy{Name: "t", Window: 60 * time.Second, MaxRequests: 5, Algorithm: alg}

			for i := 0; i < 5; i++ {
				d, err := l.Check(ctx, "k", p)
				require.NoError(t, err)
				require.True(t, d.Allowed, "call %d must be allowed", i+1)
				assert.Equal(t, 4-i, d.Remaining)
				c.Advance(time.Second)
			}

			d, err := l.Check(ctx, "k", p)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 0, d.Remaining)
			assert.False(t, d.ResetAt.After(c.Now().Add(p.Window)))
			assert.Greater(t, d.RetryAfter, time.Duration(0))
			assert.ErrorIs(t, d.Err(), ErrRateLimited)
			wait, ok := RetryAfter(d.Err())
			assert.True(t, ok)
			assert.Equal(t, d.RetryAfter, wait)

			other, err := l.Check(ctx, "other", p)
			require.NoError(t, err)
			assert.True(t, other.Allowed, "keys are independent")
		})
	}
}

func TestFixedWindowResets(t *testing.T) {
	l, c := newTestLimiter(t)
	ctx := context.Background()
	p := Policy{Name: "g", Window: time.Minute, MaxRequests: 2}

	for i := 0; i < 2; i++ {
		_, err := l.Check(ctx, "k", p)
		require.NoError(t, err)
	}
	d, _ := l.Check(ctx, "k", p)
	require.False(t, d.Allowed)

	c.Advance(time.Minute)
	d, err := l.Check(ctx, "k", p)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestSlidingWindowFreesOldestSlot(t *testing.T) {
	l, c := newTestLimiter(t)
	ctx := context.Background()
	p := Policy{Name: "s", Window: 10 * time.Second, MaxRequests: 2, Algorithm: SlidingWindow}

	_, _ = l.Check(ctx, "k", p)
	c.Advance(6 * time.Second)
	_, _ = l.Check(ctx, "k", p)

	c.Advance(3 * time.Second)
	d, _ := l.Check(ctx, "k", p)
	require.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	c.Advance(time.Second + time.Nanosecond)
	d, _ = l.Check(ctx, "k", p)
	assert.True(t, d.Allowed, "first stamp left the window")
}

func TestDualWindowReportsTrigger(t *testing.T) {
	l, c := newTestLimiter(t)
	ctx := context.Background()
	p := DualPolicy{
		Name:  "chat",
		Short: Policy{Name: "chat-short", Window: 10 * time.Second, MaxRequests: 3},
		Long:  Policy{Name: "chat-long", Window: time.Minute, MaxRequests: 5},
	}

	for i := 0; i < 3; i++ {
		d, err := l.CheckDual(ctx, "u", p)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.CheckDual(ctx, "u", p)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, WindowShort, d.Denied)
	assert.True(t, d.Long.Allowed, "long window still has room")
	assert.Equal(t, 2, d.Long.Remaining, "denied call must not consume long budget")

	c.Advance(11 * time.Second)
	for i := 0; i < 2; i++ {
		d, err = l.CheckDual(ctx, "u", p)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err = l.CheckDual(ctx, "u", p)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, WindowLong, d.Denied)
	assert.Equal(t, d.Long, d.Binding())
	assert.ErrorIs(t, d.Err(), ErrRateLimited)
	wait, ok := RetryAfter(d.Err())
	assert.True(t, ok)
	assert.Equal(t, d.Long.RetryAfter, wait)
}

func TestConcurrentChecksNeverExceedLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	p := Policy{Name: "c", Window: time.Minute, MaxRequests: 25, Algorithm: SlidingWindow}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d, err := l.Check(ctx, "hot", p)
				if err == nil && d.Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(25), allowed.Load())
}

func TestSweepRemovesStaleCountersOnce(t *testing.T) {
	l, c := newTestLimiter(t)
	ctx := context.Background()
	short := Policy{Name: "a", Window: time.Minute, MaxRequests: 5}
	long := Policy{Name: "b", Window: time.Hour, MaxRequests: 5, Algorithm: SlidingWindow}

	_, _ = l.Check(ctx, "k1", short)
	_, _ = l.Check(ctx, "k2", long)

	removed, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	c.Advance(90 * time.Second)
	removed, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "second sweep is a no-op")

	d, err := l.Check(ctx, "k2", long)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Remaining, "live counter survived the sweep")
}

func TestPolicyValidation(t *testing.T) {
	assert.Error(t, Policy{Name: "x", Window: 0, MaxRequests: 1}.Validate())
	assert.Error(t, Policy{Name: "x", Window: time.Second}.Validate())
	assert.Error(t, Policy{Window: time.Second, MaxRequests: 1}.Validate())
	assert.Error(t, DualPolicy{Name: "d", Short: Policy{Window: time.Hour, MaxRequests: 1}, Long: Policy{Window: time.Minute, MaxRequests: 1}}.Validate())
	assert.NoError(t, DefaultPolicies().Validate())
}

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, "p:u1", Key("u1", "10.0.0.1"))
	assert.Equal(t, "o:10.0.0.1", Key("", "10.0.0.1"))
}
