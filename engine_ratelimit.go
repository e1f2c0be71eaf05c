package clinicguard

import (
	"context"
	"fmt"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/ratelimit"
)

// LoginAttempt reports the outcome of one authentication attempt to the
// failed-attempt limiter.
type LoginAttempt struct {
	// Key buckets the attempts, normally the account identifier.
	Key         string
	PrincipalID string
	TenantID    string
	Origin      string
	Success     bool
	// Reason is audited for failures.
	Reason string
}

// CheckRateLimit consumes one request from key under the policy of class.
// The auth class only reports the failed-attempt state; record attempts
// with [Engine.RecordLoginAttempt].
func (e *Engine) CheckRateLimit(ctx context.Context, class ratelimit.Class, key string) (RateLimitResult, error) {
	if e.closed.Load() {
		return RateLimitResult{}, ErrEngineClosed
	}
	p := e.config.RateLimits
	out := RateLimitResult{Class: class}

	var (
		d   ratelimit.Decision
		err error
	)
	switch class {
	case ratelimit.ClassGeneral:
		d, err = e.limiter.Check(ctx, key, p.General)
	case ratelimit.ClassSensitive:
		d, err = e.limiter.Check(ctx, key, p.Sensitive)
	case ratelimit.ClassChat:
		var dual ratelimit.DualDecision
		dual, err = e.limiter.CheckDual(ctx, key, p.Chat)
		if err == nil {
			out.Dual = &dual
			d = dual.Binding()
			d.Allowed = dual.Allowed
		}
	case ratelimit.ClassAuth:
		d, err = e.authLimiter.Blocked(ctx, key)
	default:
		return RateLimitResult{}, fmt.Errorf("unknown rate limit class %q", class)
	}
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out.Decision = d
	out.Allowed = d.Allowed
	if d.Allowed {
		e.metrics.Inc(MetricRateLimitAllowed)
	} else {
		e.metrics.Inc(MetricRateLimitDenied)
	}
	return out, nil
}

// RecordLoginAttempt records a success, which clears the key, or a
// failure, which counts against it. The returned decision is denied once
// the key is blocked.
func (e *Engine) RecordLoginAttempt(ctx context.Context, a LoginAttempt) (ratelimit.Decision, error) {
	if e.closed.Load() {
		return ratelimit.Decision{}, ErrEngineClosed
	}
	ev := audit.Event{
		Type:        audit.TypeLogin,
		PrincipalID: a.PrincipalID,
		TenantID:    a.TenantID,
		Origin:      a.Origin,
	}

	if a.Success {
		if err := e.authLimiter.Reset(ctx, a.Key); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		e.metrics.Inc(MetricLoginSuccess)
		ev.Decision = audit.DecisionGranted
		e.audit.Emit(ctx, ev)
		p := e.authLimiter.Policy()
		return ratelimit.Decision{Allowed: true, Limit: p.MaxRequests, Remaining: p.MaxRequests, Window: p.Name}, nil
	}

	d, err := e.authLimiter.RecordFailure(ctx, a.Key)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metrics.Inc(MetricLoginFailure)
	ev.Decision = audit.DecisionDenied
	ev.Reason = a.Reason
	ev.ErrorKind = "login_failed"
	if !d.Allowed {
		e.metrics.Inc(MetricLoginBlocked)
		ev.ErrorKind = KindRateLimited.String()
	}
	e.audit.Emit(ctx, ev)
	return d, nil
}

// LoginBlocked reports whether key may attempt to authenticate, without
// consuming budget.
func (e *Engine) LoginBlocked(ctx context.Context, key string) (ratelimit.Decision, error) {
	d, err := e.authLimiter.Blocked(ctx, key)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return d, nil
}
