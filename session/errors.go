package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown or removed session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the idle or absolute timeout elapsed.
	ErrSessionExpired = errors.New("session expired")
	// ErrOriginMismatch is returned when the request origin or client
	// fingerprint falls outside the session binding.
	ErrOriginMismatch = errors.New("session origin mismatch")
	// ErrStepUpRequired is returned instead of [ErrOriginMismatch] under
	// [AnomalyStepUp]. It matches ErrOriginMismatch with errors.Is.
	ErrStepUpRequired = fmt.Errorf("%w: step-up authentication required", ErrOriginMismatch)
	// ErrTooManySessions is returned by Create under [CapReject].
	ErrTooManySessions = errors.New("too many concurrent sessions")
	// ErrInvalidOrigin is returned when an origin cannot be parsed.
	ErrInvalidOrigin = errors.New("invalid session origin")
)
