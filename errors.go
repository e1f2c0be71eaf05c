package clinicguard

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/MrEthical07/clinicguard/revocation"
	"github.com/MrEthical07/clinicguard/session"
	"github.com/MrEthical07/clinicguard/store"
)

// Token errors. Sub-package sentinels are re-exported so errors.Is works
// at every layer.
var (
	// ErrMalformedToken reports a structurally invalid token or a missing subject.
	ErrMalformedToken = jwt.ErrMalformed
	// ErrUnsupportedAlgorithm reports "none" or an algorithm outside the allow-list.
	ErrUnsupportedAlgorithm = jwt.ErrUnsupportedAlgorithm
	// ErrInvalidSignature reports a failed signature or an unresolvable key.
	ErrInvalidSignature = jwt.ErrInvalidSignature
	// ErrExpiredClaim reports a missing or past exp claim.
	ErrExpiredClaim = jwt.ErrExpired
	// ErrAudienceMismatch reports an aud claim outside the configured audiences.
	ErrAudienceMismatch = jwt.ErrAudienceMismatch
	// ErrIssuerMismatch reports an iss claim outside the configured issuers.
	ErrIssuerMismatch = jwt.ErrIssuerMismatch
	// ErrInvalidClaims reports lifetime, nbf, iat or role violations.
	ErrInvalidClaims = jwt.ErrInvalidClaims
	// ErrRevoked reports a token matched by a blacklist entry.
	ErrRevoked = revocation.ErrRevoked
	// ErrInsecureTransport reports a token presented over plain HTTP when
	// secure transport is required.
	ErrInsecureTransport = errors.New("insecure transport")
	// ErrPolicyViolation reports a token rejected by a deployment policy.
	ErrPolicyViolation = errors.New("token policy violation")
	// ErrUnauthenticated reports a missing credential on a protected route.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Pipeline errors.
var (
	ErrRateLimited            = ratelimit.ErrRateLimited
	ErrSessionNotFound        = session.ErrSessionNotFound
	ErrSessionExpired         = session.ErrSessionExpired
	ErrOriginMismatch         = session.ErrOriginMismatch
	ErrStepUpRequired         = session.ErrStepUpRequired
	ErrTooManySessions        = session.ErrTooManySessions
	ErrInsufficientPermission = permission.ErrInsufficientPermission
	ErrConsentRequired        = permission.ErrConsentRequired
	ErrUpstreamTimeout        = permission.ErrUpstreamTimeout
	ErrBindingMismatch        = permission.ErrBindingMismatch
	ErrUnknownPrincipal       = permission.ErrUnknownPrincipal
	// ErrSessionPrincipal reports a session presented with another
	// principal's token.
	ErrSessionPrincipal = errors.New("session does not belong to token subject")
	// ErrBackendUnavailable wraps store failures. Callers fail closed.
	ErrBackendUnavailable = store.ErrUnavailable
	// ErrEngineClosed is returned by operations after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// Kind classifies pipeline failures for boundary mapping.
type Kind int

const (
	KindNone Kind = iota
	KindUnauthenticated
	KindToken
	KindTransport
	KindRevoked
	KindSession
	KindStepUp
	KindRateLimited
	KindSessionCap
	KindPermission
	KindConsent
	KindUpstream
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindToken:
		return "invalid_token"
	case KindTransport:
		return "insecure_transport"
	case KindRevoked:
		return "revoked"
	case KindSession:
		return "invalid_session"
	case KindStepUp:
		return "step_up_required"
	case KindRateLimited:
		return "rate_limited"
	case KindSessionCap:
		return "too_many_sessions"
	case KindPermission:
		return "insufficient_permission"
	case KindConsent:
		return "consent_required"
	case KindUpstream:
		return "upstream_unavailable"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// KindOf classifies err. Unknown errors are [KindInternal].
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrInsecureTransport):
		return KindTransport
	case errors.Is(err, ErrRevoked):
		return KindRevoked
	case errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrUnsupportedAlgorithm),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrExpiredClaim),
		errors.Is(err, ErrAudienceMismatch),
		errors.Is(err, ErrIssuerMismatch),
		errors.Is(err, ErrInvalidClaims),
		errors.Is(err, ErrPolicyViolation):
		return KindToken
	case errors.Is(err, ErrStepUpRequired):
		return KindStepUp
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrOriginMismatch),
		errors.Is(err, ErrSessionPrincipal):
		return KindSession
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrTooManySessions):
		return KindSessionCap
	case errors.Is(err, ErrConsentRequired):
		return KindConsent
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, ErrBackendUnavailable), errors.Is(err, store.ErrContention):
		return KindUpstream
	case errors.Is(err, ErrInsufficientPermission),
		errors.Is(err, ErrBindingMismatch),
		errors.Is(err, ErrUnknownPrincipal):
		return KindPermission
	default:
		return KindInternal
	}
}

// Public maps err to the HTTP status and message safe to show a client.
// Token and session failures share one message so callers cannot tell
// which check failed.
func Public(err error) (int, string) {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK, ""
	case KindUnauthenticated:
		return http.StatusUnauthorized, "authentication required"
	case KindToken, KindRevoked, KindTransport:
		return http.StatusUnauthorized, "invalid or expired credential"
	case KindSession:
		return http.StatusUnauthorized, "session is no longer valid"
	case KindStepUp:
		return http.StatusUnauthorized, "re-authentication required"
	case KindRateLimited:
		return http.StatusTooManyRequests, "too many requests, retry later"
	case KindSessionCap:
		return http.StatusTooManyRequests, "too many active sessions, sign out elsewhere and retry"
	case KindPermission, KindConsent:
		return http.StatusForbidden, "access denied"
	case KindUpstream:
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
