package clinicguard

import (
	"github.com/MrEthical07/clinicguard/internal/flows"
	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/revocation"
)

// Request is one inbound call handed to [Engine.Authenticate].
type Request = flows.Request

// Identity is the validated view of a request passed to downstream
// handlers.
type Identity = flows.Identity

// RateLimitResult is the outcome of [Engine.CheckRateLimit].
type RateLimitResult = flows.RateResult

// TokenPolicy is a deployment rule evaluated after the built-in token
// checks. A non-nil error rejects the token with [ErrPolicyViolation].
type TokenPolicy = flows.TokenPolicy

// RevokeRequest describes a revocation; see [revocation.Request].
type RevokeRequest = revocation.Request

// Claims is the verified token payload.
type Claims = jwt.Claims

// TokenContext carries transport facts about a token presentation.
type TokenContext struct {
	// Secure is true when the request arrived over TLS.
	Secure bool
	// ClientKey buckets validation attempts, normally the client address.
	ClientKey string
}

// SweepReport counts what one cleanup pass removed.
type SweepReport struct {
	Revocations int
	Counters    int
	Buckets     int
	Sessions    int
}

// Total is the sum of every removed item.
func (r SweepReport) Total() int {
	return r.Revocations + r.Counters + r.Buckets + r.Sessions
}
