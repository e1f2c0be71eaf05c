package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/clinicguard/store"
)

// ErrRateLimited is wrapped by [Decision.Err] for a denied request.
var ErrRateLimited = errors.New("rate limited")

// LimitError is a denial that knows when the next attempt can pass. It
// matches [ErrRateLimited] through errors.Is.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string { return ErrRateLimited.Error() }

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter reports the wait carried by err. ok is false when err holds
// no [LimitError].
func RetryAfter(err error) (wait time.Duration, ok bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}

// Window names reported by [DualDecision.Denied].
const (
	WindowShort = "short"
	WindowLong  = "long"
)

// Counter is the stored state for one (policy, key) pair. Stamps holds
// unix-nano request times for sliding windows, oldest first.
type Counter struct {
	WindowStart  time.Time `json:"ws,omitempty"`
	Count        int       `json:"n,omitempty"`
	BlockedUntil time.Time `json:"bu,omitempty"`
	Stamps       []int64   `json:"st,omitempty"`
	// Horizon is the time after which the counter carries no information
	// and may be swept.
	Horizon time.Time `json:"hz"`
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Window     string
}

// Err returns a [LimitError] for denied decisions and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{RetryAfter: d.RetryAfter}
}

// DualDecision reports both windows of a [DualPolicy]. Denied names the
// window that caused a denial; the short window is reported when both are
// exhausted.
type DualDecision struct {
	Allowed bool
	Short   Decision
	Long    Decision
	Denied  string
}

// Err returns a [LimitError] for denied decisions and nil otherwise.
func (d DualDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{RetryAfter: d.Binding().RetryAfter}
}

// Binding returns the decision of the window that matters for response
// headers: the denying one, or the one with fewer remaining requests.
func (d DualDecision) Binding() Decision {
	switch d.Denied {
	case WindowShort:
		return d.Short
	case WindowLong:
		return d.Long
	}
	if d.Long.Remaining < d.Short.Remaining {
		return d.Long
	}
	return d.Short
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter evaluates policies against counters held in a [store.Store].
// Every check is a single atomic read-modify-write on one key.
type Limiter struct {
	store store.Store[Counter]
	now   func() time.Time
}

// New creates a limiter over s.
func New(s store.Store[Counter], opts ...Option) *Limiter {
	l := &Limiter{store: s, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func counterKey(policy, key string) string {
	return policy + ":" + key
}

// Check consumes one request from key under policy if budget remains.
// Denied requests do not consume budget.
func (l *Limiter) Check(ctx context.Context, key string, p Policy) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}
	now := l.now()

	var d Decision
	_, _, err := store.Update[Counter](ctx, l.store, counterKey(p.Name, key), storeTTL(p.Window), func(cur Counter, exists bool) (Counter, bool, error) {
		var next Counter
		switch p.Algorithm {
		case SlidingWindow:
			next, d = slide(cur, p, now)
		default:
			next, d = fixed(cur, exists, p, now)
		}
		return next, true, nil
	})
	if err != nil {
		return Decision{}, err
	}
	d.Window = p.Name
	return d, nil
}

// CheckDual evaluates both windows of p in one atomic update. A request is
// recorded only when both windows allow it.
func (l *Limiter) CheckDual(ctx context.Context, key string, p DualPolicy) (DualDecision, error) {
	if err := p.Validate(); err != nil {
		return DualDecision{}, err
	}
	now := l.now()

	var out DualDecision
	_, _, err := store.Update[Counter](ctx, l.store, counterKey(p.Name, key), storeTTL(p.Long.Window), func(cur Counter, _ bool) (Counter, bool, error) {
		stamps := prune(cur.Stamps, now, p.Long.Window)
		shortStamps := prune(stamps, now, p.Short.Window)

		out = DualDecision{
			Short: windowDecision(shortStamps, p.Short, now),
			Long:  windowDecision(stamps, p.Long, now),
		}
		out.Short.Window = WindowShort
		out.Long.Window = WindowLong

		switch {
		case !out.Short.Allowed:
			out.Denied = WindowShort
		case !out.Long.Allowed:
			out.Denied = WindowLong
		default:
			out.Allowed = true
			stamps = append(stamps, now.UnixNano())
			out.Short = consumed(out.Short, append(shortStamps, now.UnixNano()), p.Short)
			out.Long = consumed(out.Long, stamps, p.Long)
		}

		next := Counter{Stamps: stamps}
		if len(stamps) > 0 {
			next.Horizon = time.Unix(0, stamps[len(stamps)-1]).Add(p.Long.Window)
		}
		return next, len(stamps) > 0, nil
	})
	if err != nil {
		return DualDecision{}, err
	}
	return out, nil
}

// Reset clears the counter for key under the named policy.
func (l *Limiter) Reset(ctx context.Context, key, policy string) error {
	return l.store.Delete(ctx, counterKey(policy, key))
}

// Sweep removes counters whose horizon has passed.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	now := l.now()
	return store.Sweep[Counter](ctx, l.store, "", func(_ string, c Counter) bool {
		return !now.Before(c.Horizon)
	})
}

func storeTTL(window time.Duration) time.Duration {
	return 2 * window
}

func fixed(cur Counter, exists bool, p Policy, now time.Time) (Counter, Decision) {
	end := cur.WindowStart.Add(p.Window)
	if !exists || !now.Before(end) {
		cur = Counter{WindowStart: now}
		end = now.Add(p.Window)
	}

	d := Decision{Limit: p.MaxRequests, ResetAt: end}
	if cur.Count >= p.MaxRequests {
		d.RetryAfter = end.Sub(now)
		cur.Horizon = end
		return cur, d
	}

	cur.Count++
	cur.Horizon = end
	d.Allowed = true
	d.Remaining = p.MaxRequests - cur.Count
	return cur, d
}

func slide(cur Counter, p Policy, now time.Time) (Counter, Decision) {
	stamps := prune(cur.Stamps, now, p.Window)
	d := windowDecision(stamps, p, now)
	if d.Allowed {
		stamps = append(stamps, now.UnixNano())
		d = consumed(d, stamps, p)
	}

	next := Counter{Stamps: stamps}
	if len(stamps) > 0 {
		next.Horizon = time.Unix(0, stamps[len(stamps)-1]).Add(p.Window)
	}
	return next, d
}

// prune returns a fresh copy of the stamps inside [now-window, now] with
// room for one more.
func prune(stamps []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).UnixNano()
	i := 0
	for i < len(stamps) && stamps[i] < cutoff {
		i++
	}
	out := make([]int64, len(stamps)-i, len(stamps)-i+1)
	copy(out, stamps[i:])
	return out
}

func windowDecision(stamps []int64, p Policy, now time.Time) Decision {
	d := Decision{Limit: p.MaxRequests, ResetAt: now.Add(p.Window)}
	if len(stamps) > 0 {
		d.ResetAt = time.Unix(0, stamps[0]).Add(p.Window)
	}
	if len(stamps) >= p.MaxRequests {
		d.RetryAfter = d.ResetAt.Sub(now)
		return d
	}
	d.Allowed = true
	d.Remaining = p.MaxRequests - len(stamps)
	return d
}

func consumed(d Decision, stamps []int64, p Policy) Decision {
	d.Remaining = p.MaxRequests - len(stamps)
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.ResetAt = time.Unix(0, stamps[0]).Add(p.Window)
	return d
}
