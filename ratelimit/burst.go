package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/MrEthical07/clinicguard/store"
	"golang.org/x/time/rate"
)

// BurstGuard is a per-key token bucket placed in front of token
// validation. Buckets are process-local; idle ones expire after IdleTTL.
type BurstGuard struct {
	buckets *store.Sharded[*rate.Limiter]
	policy  BurstPolicy
	now     func() time.Time
}

// NewBurstGuard creates a guard for p. A nil now selects time.Now.
func NewBurstGuard(p BurstPolicy, now func() time.Time) (*BurstGuard, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.IdleTTL <= 0 {
		p.IdleTTL = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &BurstGuard{
		buckets: store.NewSharded[*rate.Limiter](store.WithClock(now)),
		policy:  p,
		now:     now,
	}, nil
}

// Allow takes one token for key. A denied attempt reports when the next
// token becomes available.
func (g *BurstGuard) Allow(ctx context.Context, key string) Decision {
	now := g.now()

	lim, _, _ := g.buckets.Update(ctx, key, g.policy.IdleTTL, func(cur *rate.Limiter, exists bool) (*rate.Limiter, bool, error) {
		if exists {
			return cur, true, nil
		}
		return rate.NewLimiter(rate.Limit(g.policy.PerSecond), g.policy.Burst), true, nil
	})

	d := Decision{Limit: g.policy.Burst, Window: "validation"}
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return d
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		d.RetryAfter = delay
		d.ResetAt = now.Add(delay)
		return d
	}

	d.Allowed = true
	d.Remaining = int(math.Floor(lim.TokensAt(now)))
	missing := float64(g.policy.Burst) - lim.TokensAt(now)
	d.ResetAt = now.Add(time.Duration(missing / g.policy.PerSecond * float64(time.Second)))
	return d
}

// Sweep drops idle buckets.
func (g *BurstGuard) Sweep(ctx context.Context) (int, error) {
	return g.buckets.Sweep(ctx, "", nil)
}
