package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/MrEthical07/clinicguard/session"
)

// Request is one inbound call as seen by the pipeline.
type Request struct {
	// Token is the bearer token; empty means anonymous.
	Token  string
	Secure bool
	// Origin is the caller's network address.
	Origin    string
	UserAgent string
	// SessionID is the cookie session, if any. When empty the token's sid
	// claim is used.
	SessionID string
	// Class selects the rate-limit policy. Empty skips rate limiting.
	Class ratelimit.Class
	// Action is authorized against Resource when set.
	Action   permission.Action
	Resource permission.Resource
	// RequireAuth rejects anonymous requests.
	RequireAuth   bool
	CorrelationID string
}

// RateResult is the outcome of a class rate-limit check.
type RateResult struct {
	Class    ratelimit.Class
	Allowed  bool
	Decision ratelimit.Decision
	// Dual is set for dual-window classes.
	Dual *ratelimit.DualDecision
}

// Identity is what downstream handlers receive for an accepted request.
type Identity struct {
	Authenticated bool
	Claims        jwt.Claims
	Principal     permission.Principal
	Session       *session.Info
	RateLimit     *RateResult
	Decision      *permission.Decision
	CorrelationID string
}

// AuthStage names the step at which the pipeline stopped.
type AuthStage int

const (
	AuthStageNone AuthStage = iota
	AuthStageToken
	AuthStageSession
	AuthStageRateLimit
	AuthStageBinding
	AuthStagePermission
)

func (s AuthStage) String() string {
	switch s {
	case AuthStageNone:
		return "none"
	case AuthStageToken:
		return "token"
	case AuthStageSession:
		return "session"
	case AuthStageRateLimit:
		return "rate_limit"
	case AuthStageBinding:
		return "binding"
	case AuthStagePermission:
		return "permission"
	}
	return "unknown"
}

// AuthResult carries the identity built so far and, on failure, the
// stage and error.
type AuthResult struct {
	Identity Identity
	Stage    AuthStage
	Err      error
}

// AuthenticateDeps captures the pipeline stages.
type AuthenticateDeps struct {
	ValidateToken    func(ctx context.Context, token string, secure bool, clientKey string) (jwt.Claims, error)
	ValidateSession  func(ctx context.Context, id, origin, agent string) (session.Info, error)
	CheckRate        func(ctx context.Context, class ratelimit.Class, key string) (RateResult, error)
	ResolvePrincipal func(ctx context.Context, c jwt.Claims) (permission.Principal, error)
	Authorize        func(ctx context.Context, p permission.Principal, a permission.Action, r permission.Resource) permission.Decision
	Emit             func(ctx context.Context, e audit.Event)

	// Label names a failure for audit events without leaking detail.
	Label func(error) string

	ErrUnauthenticated error
	// ErrSessionPrincipal is returned when the session belongs to another
	// principal than the token.
	ErrSessionPrincipal error
}

// RunAuthenticate threads req through token validation, session
// validation, rate limiting and authorization. Each stage either enriches
// the identity or ends the chain.
func RunAuthenticate(ctx context.Context, req Request, deps AuthenticateDeps) AuthResult {
	id := Identity{CorrelationID: req.CorrelationID}
	fail := func(stage AuthStage, err error) AuthResult {
		return AuthResult{Identity: id, Stage: stage, Err: err}
	}

	if req.Token == "" {
		if req.RequireAuth {
			deps.emit(ctx, audit.Event{Type: audit.TypeTokenValidation, Origin: req.Origin, Reason: "missing credential", ErrorKind: "unauthenticated"})
			return fail(AuthStageToken, deps.ErrUnauthenticated)
		}
	} else {
		claims, err := deps.ValidateToken(ctx, req.Token, req.Secure, req.Origin)
		if err != nil {
			// ValidateToken audits its own failures.
			return fail(AuthStageToken, err)
		}
		id.Authenticated = true
		id.Claims = claims
	}

	sid := req.SessionID
	if sid == "" {
		sid = id.Claims.SessionID
	}
	if sid != "" {
		info, err := deps.ValidateSession(ctx, sid, req.Origin, req.UserAgent)
		if err != nil {
			typ := audit.TypeSession
			if errors.Is(err, session.ErrOriginMismatch) {
				typ = audit.TypeSessionAnomaly
			}
			deps.emit(ctx, audit.Event{
				Type:        typ,
				PrincipalID: id.Claims.Subject,
				TenantID:    id.Claims.TenantID,
				Origin:      req.Origin,
				Reason:      "session rejected",
				ErrorKind:   deps.label(err),
			})
			return fail(AuthStageSession, err)
		}
		if id.Authenticated && info.PrincipalID != id.Claims.Subject {
			deps.emit(ctx, audit.Event{
				Type:        audit.TypeSessionAnomaly,
				PrincipalID: id.Claims.Subject,
				TenantID:    id.Claims.TenantID,
				Origin:      req.Origin,
				Reason:      "session bound to another principal",
				ErrorKind:   "session_principal",
			})
			return fail(AuthStageSession, deps.ErrSessionPrincipal)
		}
		id.Session = &info
	}

	if req.Class != "" && deps.CheckRate != nil {
		principal := id.Claims.Subject
		if !id.Authenticated && id.Session != nil {
			principal = id.Session.PrincipalID
		}
		rr, err := deps.CheckRate(ctx, req.Class, ratelimit.Key(principal, req.Origin))
		if err != nil {
			return fail(AuthStageRateLimit, err)
		}
		id.RateLimit = &rr
		if !rr.Allowed {
			deps.emit(ctx, audit.Event{
				Type:        audit.TypeRateLimit,
				PrincipalID: principal,
				TenantID:    id.Claims.TenantID,
				Origin:      req.Origin,
				Reason:      string(req.Class),
				ErrorKind:   "rate_limited",
			})
			return fail(AuthStageRateLimit, &ratelimit.LimitError{RetryAfter: rr.Decision.RetryAfter})
		}
	}

	if req.Action == "" {
		return AuthResult{Identity: id}
	}
	if !id.Authenticated {
		return fail(AuthStagePermission, deps.ErrUnauthenticated)
	}

	p, err := deps.ResolvePrincipal(ctx, id.Claims)
	if err != nil {
		deps.emit(ctx, audit.Event{
			Type:        audit.TypeAuthorization,
			PrincipalID: id.Claims.Subject,
			TenantID:    id.Claims.TenantID,
			Action:      string(req.Action),
			Resource:    req.Resource.String(),
			Reason:      "principal binding rejected",
			ErrorKind:   deps.label(err),
		})
		return fail(AuthStageBinding, err)
	}
	id.Principal = p

	d := deps.Authorize(ctx, p, req.Action, req.Resource)
	id.Decision = &d
	if !d.Granted {
		return fail(AuthStagePermission, d.Err())
	}
	return AuthResult{Identity: id}
}

func (d AuthenticateDeps) emit(ctx context.Context, e audit.Event) {
	if d.Emit != nil {
		d.Emit(ctx, e)
	}
}

func (d AuthenticateDeps) label(err error) string {
	if d.Label != nil {
		return d.Label(err)
	}
	return "rejected"
}
