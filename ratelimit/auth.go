package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/clinicguard/store"
)

// AuthLimiter counts only failed authentication attempts. Callers check
// [AuthLimiter.Blocked] before an attempt, call [AuthLimiter.RecordFailure]
// when it fails and [AuthLimiter.Reset] when it succeeds.
type AuthLimiter struct {
	limiter *Limiter
	policy  Policy
	block   time.Duration
}

// NewAuthLimiter returns a failed-attempt limiter. block is how long a key
// stays blocked once the failure budget is spent; zero means until the
// window ends.
func (l *Limiter) NewAuthLimiter(p Policy, block time.Duration) (*AuthLimiter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Algorithm != FixedWindow {
		return nil, errors.New("auth limiter requires a fixed window policy")
	}
	return &AuthLimiter{limiter: l, policy: p, block: block}, nil
}

// Policy returns the failure policy.
func (a *AuthLimiter) Policy() Policy {
	return a.policy
}

func (a *AuthLimiter) key(k string) string {
	return counterKey(a.policy.Name, k)
}

// Blocked reports the current state for key without consuming budget.
func (a *AuthLimiter) Blocked(ctx context.Context, key string) (Decision, error) {
	now := a.limiter.now()
	d := Decision{Allowed: true, Limit: a.policy.MaxRequests, Remaining: a.policy.MaxRequests, ResetAt: now.Add(a.policy.Window), Window: a.policy.Name}

	e, err := a.limiter.store.Get(ctx, a.key(key))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return d, nil
		}
		return Decision{}, err
	}
	c := e.Value

	if now.Before(c.BlockedUntil) {
		d.Allowed = false
		d.Remaining = 0
		d.ResetAt = c.BlockedUntil
		d.RetryAfter = c.BlockedUntil.Sub(now)
		return d, nil
	}

	end := c.WindowStart.Add(a.policy.Window)
	if !now.Before(end) {
		return d, nil
	}
	d.ResetAt = end
	d.Remaining = a.policy.MaxRequests - c.Count
	if d.Remaining <= 0 {
		d.Allowed = false
		d.Remaining = 0
		d.RetryAfter = end.Sub(now)
	}
	return d, nil
}

// RecordFailure counts a failed attempt. The returned decision is denied
// once the key has reached its failure budget.
func (a *AuthLimiter) RecordFailure(ctx context.Context, key string) (Decision, error) {
	now := a.limiter.now()
	p := a.policy

	var d Decision
	ttl := storeTTL(p.Window)
	if a.block > p.Window {
		ttl = 2 * a.block
	}
	_, _, err := store.Update[Counter](ctx, a.limiter.store, a.key(key), ttl, func(cur Counter, exists bool) (Counter, bool, error) {
		end := cur.WindowStart.Add(p.Window)
		if !exists || (!now.Before(end) && !now.Before(cur.BlockedUntil)) {
			cur = Counter{WindowStart: now}
			end = now.Add(p.Window)
		}
		cur.Count++

		d = Decision{Allowed: true, Limit: p.MaxRequests, Remaining: p.MaxRequests - cur.Count, ResetAt: end, Window: p.Name}
		cur.Horizon = end
		if cur.Count >= p.MaxRequests {
			until := end
			if a.block > 0 {
				until = now.Add(a.block)
			}
			if until.After(cur.BlockedUntil) {
				cur.BlockedUntil = until
			}
			d.Allowed = false
			d.Remaining = 0
			d.ResetAt = cur.BlockedUntil
			d.RetryAfter = cur.BlockedUntil.Sub(now)
		}
		if cur.BlockedUntil.After(cur.Horizon) {
			cur.Horizon = cur.BlockedUntil
		}
		return cur, true, nil
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Reset clears the failure counter after a successful attempt.
func (a *AuthLimiter) Reset(ctx context.Context, key string) error {
	return a.limiter.store.Delete(ctx, a.key(key))
}
