// Package internal contains helpers private to clinicguard: secure random
// identifiers and client fingerprint hashing.
//
// # Sub-packages
//
//   - flows: orchestrators for token validation and request authentication
//   - keys: HKDF derivation of purpose-bound keys from the master secret
//   - logger: zap logger construction
//   - security: startup security report
//   - sweeper: cron-scheduled cleanup jobs
package internal
