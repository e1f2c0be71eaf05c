package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/clinicguard/jwt"
)

// ValidateStage names the step at which token validation stopped.
type ValidateStage int

const (
	StageNone ValidateStage = iota
	StageRateLimit
	StageHeader
	StageKey
	StageTransport
	StageSignature
	StageRevocation
	StagePolicy
)

func (s ValidateStage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageRateLimit:
		return "rate_limit"
	case StageHeader:
		return "header"
	case StageKey:
		return "key"
	case StageTransport:
		return "transport"
	case StageSignature:
		return "signature"
	case StageRevocation:
		return "revocation"
	case StagePolicy:
		return "policy"
	}
	return "unknown"
}

// ValidateResult carries either verified claims or the failing stage.
type ValidateResult struct {
	Claims jwt.Claims
	Stage  ValidateStage
	Err    error
}

// TokenPolicy is a deployment rule applied after every other check.
type TokenPolicy func(jwt.Claims) error

// ValidateDeps captures token validation dependencies.
type ValidateDeps struct {
	// Allow takes one validation attempt from the client's bucket.
	Allow      func(ctx context.Context, clientKey string) error
	Inspect    func(token string) (jwt.Header, error)
	ResolveKey func(jwt.Header) (jwt.Key, error)
	Verify     func(token string, h jwt.Header, key jwt.Key) (jwt.Claims, error)
	// Revoked reports whether claims match a live blacklist entry.
	Revoked  func(ctx context.Context, c jwt.Claims) (bool, error)
	Policies []TokenPolicy

	RequireSecureTransport bool

	ErrInsecureTransport error
	ErrRevoked           error
	ErrPolicyViolation   error
	// ErrUnavailable wraps revocation backend failures; validation fails
	// closed.
	ErrUnavailable error
}

// RunValidateToken executes the validation steps in order and stops at
// the first failure. Only the rate-limit bucket is mutated.
func RunValidateToken(ctx context.Context, token string, secure bool, clientKey string, deps ValidateDeps) ValidateResult {
	if deps.Allow != nil {
		if err := deps.Allow(ctx, clientKey); err != nil {
			return ValidateResult{Stage: StageRateLimit, Err: err}
		}
	}

	h, err := deps.Inspect(token)
	if err != nil {
		return ValidateResult{Stage: StageHeader, Err: err}
	}

	key, err := deps.ResolveKey(h)
	if err != nil {
		return ValidateResult{Stage: StageKey, Err: err}
	}

	if deps.RequireSecureTransport && !secure {
		return ValidateResult{Stage: StageTransport, Err: deps.ErrInsecureTransport}
	}

	claims, err := deps.Verify(token, h, key)
	if err != nil {
		return ValidateResult{Stage: StageSignature, Err: err}
	}

	if deps.Revoked != nil {
		revoked, err := deps.Revoked(ctx, claims)
		if err != nil {
			return ValidateResult{Stage: StageRevocation, Err: fmt.Errorf("%w: %v", deps.ErrUnavailable, err)}
		}
		if revoked {
			return ValidateResult{Stage: StageRevocation, Err: deps.ErrRevoked}
		}
	}

	for _, policy := range deps.Policies {
		if err := policy(claims); err != nil {
			return ValidateResult{Stage: StagePolicy, Err: fmt.Errorf("%w: %v", deps.ErrPolicyViolation, err)}
		}
	}

	return ValidateResult{Claims: claims}
}
