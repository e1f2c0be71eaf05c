package clinicguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/revocation"
	"github.com/MrEthical07/clinicguard/session"
)

// SessionMetadata is supplied when a session is created.
type SessionMetadata = session.Metadata

// SessionInfo is returned by a successful session validation.
type SessionInfo = session.Info

// CreateSession starts a session for principalID bound to md.Origin and
// md.UserAgent. At the concurrency cap the oldest session is evicted or,
// under the reject policy, [ErrTooManySessions] is returned.
func (e *Engine) CreateSession(ctx context.Context, principalID string, md SessionMetadata) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	id, err := e.sessions.Create(ctx, principalID, md)
	if err != nil {
		if errors.Is(err, ErrTooManySessions) {
			e.metrics.Inc(MetricSessionCapRejected)
		}
		e.audit.Emit(ctx, audit.Event{
			Type:        audit.TypeSession,
			PrincipalID: principalID,
			TenantID:    md.TenantID,
			Origin:      md.Origin,
			Decision:    audit.DecisionDenied,
			Reason:      "create",
			ErrorKind:   KindOf(err).String(),
		})
		return "", err
	}
	e.metrics.Inc(MetricSessionCreated)
	e.audit.Emit(ctx, audit.Event{
		Type:        audit.TypeSession,
		PrincipalID: principalID,
		TenantID:    md.TenantID,
		Origin:      md.Origin,
		Decision:    audit.DecisionGranted,
		Reason:      "create",
	})
	return id, nil
}

// ValidateSession checks id against its timeouts and origin binding and
// refreshes its idle deadline.
func (e *Engine) ValidateSession(ctx context.Context, id, origin, agent string) (SessionInfo, error) {
	if e.closed.Load() {
		return SessionInfo{}, ErrEngineClosed
	}
	info, err := e.sessions.Validate(ctx, id, origin, agent)
	switch {
	case err == nil:
		e.metrics.Inc(MetricSessionValidated)
	case errors.Is(err, ErrStepUpRequired):
		e.metrics.Inc(MetricSessionStepUp)
	case errors.Is(err, ErrOriginMismatch):
		e.metrics.Inc(MetricSessionAnomaly)
	case errors.Is(err, ErrSessionExpired):
		e.metrics.Inc(MetricSessionExpired)
	}
	return info, err
}

// RegenerateSession moves a session to a fresh id, typically after a
// privilege change. The old id is invalid once this returns.
func (e *Engine) RegenerateSession(ctx context.Context, id string) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	next, err := e.sessions.Regenerate(ctx, id)
	if err != nil {
		return "", err
	}
	e.metrics.Inc(MetricSessionRegenerated)
	return next, nil
}

// ElevateSession regenerates the session and marks it as re-authenticated.
// It is the answer to [ErrStepUpRequired].
func (e *Engine) ElevateSession(ctx context.Context, id string) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	next, err := e.sessions.Elevate(ctx, id)
	if err != nil {
		return "", err
	}
	e.metrics.Inc(MetricSessionRegenerated)
	e.audit.Emit(ctx, audit.Event{
		Type:     audit.TypeSession,
		Decision: audit.DecisionGranted,
		Reason:   "step_up",
	})
	return next, nil
}

// RemoveSession ends a single session.
func (e *Engine) RemoveSession(ctx context.Context, id string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if err := e.sessions.Remove(ctx, id); err != nil {
		return err
	}
	e.metrics.Inc(MetricSessionRemoved)
	return nil
}

// SessionCount returns the live sessions held by principalID.
func (e *Engine) SessionCount(ctx context.Context, principalID string) (int, error) {
	return e.sessions.Count(ctx, principalID)
}

// LogoutEverywhere removes every session of principalID and revokes every
// token issued to it so far. It returns the number of sessions removed.
func (e *Engine) LogoutEverywhere(ctx context.Context, principalID, tenantID string) (int, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	if principalID == "" {
		return 0, errors.New("principal id is required")
	}

	removed, err := e.sessions.RemoveAll(ctx, principalID)
	if err != nil {
		return removed, err
	}
	if _, err := e.Revoke(ctx, RevokeRequest{SubjectID: principalID, Reason: revocation.ReasonLogout}); err != nil {
		return removed, err
	}

	e.metrics.Inc(MetricLogoutEverywhere)
	e.metrics.Add(MetricSessionRemoved, uint64(removed))
	e.audit.Emit(ctx, audit.Event{
		Type:        audit.TypeLogout,
		PrincipalID: principalID,
		TenantID:    tenantID,
		Decision:    audit.DecisionGranted,
		Reason:      "everywhere",
	})
	return removed, nil
}
