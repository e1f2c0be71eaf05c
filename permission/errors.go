package permission

import "errors"

var (
	// ErrInsufficientPermission is the generic denial.
	ErrInsufficientPermission = errors.New("insufficient permission")
	// ErrConsentRequired is returned when the data subject has no active
	// consent for the action's purpose.
	ErrConsentRequired = errors.New("consent required")
	// ErrUpstreamTimeout is returned when an identity, assignment or consent
	// lookup timed out, failed or was short-circuited by the breaker.
	ErrUpstreamTimeout = errors.New("authorization dependency unavailable")
	// ErrUnknownRole is returned by [ParseRole].
	ErrUnknownRole = errors.New("unknown role")
	// ErrUnknownPrincipal is returned by a [BindingSource] that has no
	// record of the principal.
	ErrUnknownPrincipal = errors.New("unknown principal")
	// ErrBindingMismatch is returned when the identity store disagrees
	// with the token about role or tenant.
	ErrBindingMismatch = errors.New("role binding does not match credential")
)
