package jwt

import "errors"

var (
	// ErrMalformed reports a token that is not three non-empty base64url
	// segments, carries an undecodable header or payload, or has no subject.
	ErrMalformed = errors.New("malformed token")
	// ErrUnsupportedAlgorithm reports "none" or an algorithm outside the allow-list.
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
	// ErrInvalidSignature reports a signature or key resolution failure.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired reports a missing or past exp claim.
	ErrExpired = errors.New("token expired")
	// ErrAudienceMismatch reports an aud claim outside the allowed audiences.
	ErrAudienceMismatch = errors.New("token audience mismatch")
	// ErrIssuerMismatch reports an iss claim outside the allowed issuers.
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	// ErrInvalidClaims reports a lifetime, nbf, iat or role violation.
	ErrInvalidClaims = errors.New("invalid token claims")
)
