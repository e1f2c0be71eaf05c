// Package jwt verifies externally issued bearer tokens in explicit stages so
// that callers can interleave their own checks between them:
//
//  1. [Verifier.Inspect]: three-segment structure, header decode, algorithm
//     allow-list ("none" is never accepted).
//  2. [Verifier.ResolveKey]: kid lookup in a [KeyStore]; a key only verifies
//     the algorithm it was registered with.
//  3. [Verifier.Verify]: signature check restricted to the header algorithm,
//     then claims (exp first, subject, nbf, iat, lifetime, aud, iss, role).
//
// [Signer] mints compatible tokens for local tooling and tests.
package jwt
