package clinicguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/internal/flows"
	"github.com/MrEthical07/clinicguard/internal/keys"
	"github.com/MrEthical07/clinicguard/internal/sweeper"
	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/MrEthical07/clinicguard/revocation"
	"github.com/MrEthical07/clinicguard/session"
	"go.uber.org/zap"
)

// Engine runs the request pipeline: token validation, session validation,
// rate limiting and authorization, with every outcome audited.
//
// Engine instances are built once by [Builder.Build] and are safe for
// concurrent use.
type Engine struct {
	config Config
	log    *zap.Logger
	now    func() time.Time
	keys   keys.Set
	// shared is true when state lives in Redis.
	shared bool

	verifier    *jwt.Verifier
	revocations *revocation.List
	limiter     *ratelimit.Limiter
	authLimiter *ratelimit.AuthLimiter
	burst       *ratelimit.BurstGuard
	sessions    *session.Manager
	evaluator   *permission.Evaluator
	bindings    *permission.BindingCache
	dispatcher  *audit.Dispatcher
	audit       *audit.Emitter
	metrics     *Metrics

	flows flows.Deps

	sweepMu sync.Mutex
	sweeper *sweeper.Sweeper
	closed  atomic.Bool
}

func (e *Engine) buildFlows() flows.Deps {
	policies := make([]flows.TokenPolicy, 0, len(e.config.Policies)+1)
	if e.config.Token.RequireTenant {
		policies = append(policies, requireTenant)
	}
	policies = append(policies, e.config.Policies...)

	return flows.Deps{
		Validate: flows.ValidateDeps{
			Allow: func(ctx context.Context, clientKey string) error {
				return e.burst.Allow(ctx, ratelimit.Key("", clientKey)).Err()
			},
			Inspect:    e.verifier.Inspect,
			ResolveKey: e.verifier.ResolveKey,
			Verify:     e.verifier.Verify,
			Revoked: func(ctx context.Context, c jwt.Claims) (bool, error) {
				_, revoked, err := e.revocations.Check(ctx, c.TokenID, c.Subject, c.IssuedAt)
				return revoked, err
			},
			Policies:               policies,
			RequireSecureTransport: e.config.Token.RequireSecureTransport,
			ErrInsecureTransport:   ErrInsecureTransport,
			ErrRevoked:             ErrRevoked,
			ErrPolicyViolation:     ErrPolicyViolation,
			ErrUnavailable:         ErrBackendUnavailable,
		},
		Authenticate: flows.AuthenticateDeps{
			ValidateToken: func(ctx context.Context, token string, secure bool, clientKey string) (jwt.Claims, error) {
				return e.ValidateToken(ctx, token, TokenContext{Secure: secure, ClientKey: clientKey})
			},
			ValidateSession:  e.ValidateSession,
			CheckRate:        e.CheckRateLimit,
			ResolvePrincipal: e.ResolvePrincipal,
			Authorize:        e.Authorize,
			Emit:             e.audit.Emit,

			Label: func(err error) string { return KindOf(err).String() },

			ErrUnauthenticated:  ErrUnauthenticated,
			ErrSessionPrincipal: ErrSessionPrincipal,
		},
	}
}

// requireTenant rejects tenant-scoped roles presented without a tenant.
func requireTenant(c jwt.Claims) error {
	role, err := permission.ParseRole(c.Role)
	if err != nil {
		return err
	}
	if role != permission.RoleAdmin && c.TenantID == "" {
		return errors.New("tenant required for role " + role.String())
	}
	return nil
}

// ValidateToken runs the bearer token checks in order: validation rate
// limit, header, key resolution, transport, signature and claims,
// revocation and deployment policies. It returns the verified claims.
func (e *Engine) ValidateToken(ctx context.Context, token string, tc TokenContext) (Claims, error) {
	if e.closed.Load() {
		return Claims{}, ErrEngineClosed
	}

	start := time.Now()
	res := flows.RunValidateToken(ctx, token, tc.Secure, tc.ClientKey, e.flows.Validate)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	if res.Err != nil {
		switch {
		case res.Stage == flows.StageRateLimit:
			e.metrics.Inc(MetricTokenRateLimited)
		case errors.Is(res.Err, ErrRevoked):
			e.metrics.Inc(MetricTokenRevoked)
		default:
			e.metrics.Inc(MetricTokenRejected)
		}
		if errors.Is(res.Err, ErrBackendUnavailable) {
			e.metrics.Inc(MetricUpstreamDegraded)
			e.log.Warn("revocation backend unavailable", zap.Error(res.Err))
		}
		e.audit.Emit(ctx, audit.Event{
			Type:      audit.TypeTokenValidation,
			Origin:    tc.ClientKey,
			Reason:    "token rejected at " + res.Stage.String(),
			ErrorKind: KindOf(res.Err).String(),
		})
		return Claims{}, res.Err
	}
	e.metrics.Inc(MetricTokenValidated)
	return res.Claims, nil
}

// Revoke adds a blacklist entry. A request with a token id revokes that
// token; a subject-only request revokes every token of the subject issued
// up to now.
func (e *Engine) Revoke(ctx context.Context, req RevokeRequest) (revocation.Entry, error) {
	if e.closed.Load() {
		return revocation.Entry{}, ErrEngineClosed
	}
	entry, err := e.revocations.Revoke(ctx, req)
	if err != nil {
		return revocation.Entry{}, err
	}
	e.metrics.Inc(MetricRevocationAdded)

	ev := audit.Event{
		Type:        audit.TypeRevocation,
		PrincipalID: req.SubjectID,
		Decision:    audit.DecisionGranted,
		Reason:      string(entry.Reason),
	}
	if req.TokenID != "" {
		ev.Metadata = map[string]string{"jti": req.TokenID}
	}
	e.audit.Emit(ctx, ev)
	return entry, nil
}

// ResolvePrincipal builds the principal for verified claims, consulting
// the identity store when bindings are configured.
func (e *Engine) ResolvePrincipal(ctx context.Context, c Claims) (permission.Principal, error) {
	role, err := permission.ParseRole(c.Role)
	if err != nil {
		return permission.Principal{}, fmt.Errorf("%w: %v", ErrInsufficientPermission, err)
	}
	return e.bindings.Resolve(ctx, c.Subject, role, c.TenantID)
}

// Authorize evaluates action on res for p. The decision is audited by the
// evaluator.
func (e *Engine) Authorize(ctx context.Context, p permission.Principal, action permission.Action, res permission.Resource) permission.Decision {
	start := time.Now()
	d := e.evaluator.Authorize(ctx, p, action, res)
	e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))

	switch err := d.Err(); {
	case err == nil:
		e.metrics.Inc(MetricAuthzGranted)
	case errors.Is(err, ErrConsentRequired):
		e.metrics.Inc(MetricConsentRequired)
		e.metrics.Inc(MetricAuthzDenied)
	case errors.Is(err, ErrUpstreamTimeout):
		e.metrics.Inc(MetricUpstreamDegraded)
		e.metrics.Inc(MetricAuthzDenied)
	default:
		e.metrics.Inc(MetricAuthzDenied)
	}
	return d
}

// Authenticate runs the full pipeline for req. On failure the returned
// identity holds whatever was established before the failing stage, and
// the error maps to a client response through [Public].
func (e *Engine) Authenticate(ctx context.Context, req Request) (Identity, error) {
	if e.closed.Load() {
		return Identity{}, ErrEngineClosed
	}
	if req.CorrelationID == "" {
		req.CorrelationID = CorrelationID(ctx)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = NewCorrelationID()
	}
	ctx = WithCorrelationID(ctx, req.CorrelationID)

	res := flows.RunAuthenticate(ctx, req, e.flows.Authenticate)
	if res.Err != nil {
		e.log.Debug("request rejected",
			zap.String("stage", res.Stage.String()),
			zap.String("kind", KindOf(res.Err).String()),
			zap.String("correlation_id", req.CorrelationID))
	}
	return res.Identity, res.Err
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Shared reports whether state is held in a shared backend.
func (e *Engine) Shared() bool {
	return e.shared
}

// Close stops the sweeper and flushes pending audit events. Operations
// after Close return [ErrEngineClosed].
func (e *Engine) Close(ctx context.Context) error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.StopSweeper(ctx)
	e.dispatcher.Close()
	return err
}
