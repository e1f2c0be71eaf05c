// Package clinicguard is the authentication and authorization pipeline of a
// multi-tenant healthcare platform.
//
// Every inbound request passes the same stages: bearer token validation,
// session validation, rate limiting and role-based authorization with
// care-relationship and consent checks. Each stage either enriches the
// [Identity] handed to downstream handlers or ends the chain with a typed
// error that [Public] maps to a client response. Every outcome is
// recorded through an [AuditSink].
//
// Engines are built once through [Builder.Build] and are safe for
// concurrent use. State lives in memory by default; pass a Redis client
// with [Builder.WithRedis] to share revocations, counters and sessions
// across instances.
//
// # Failure policy
//
// The pipeline fails closed. A revocation, session or counter backend that
// cannot be reached yields [ErrBackendUnavailable]; an identity, assignment
// or consent lookup that times out yields [ErrUpstreamTimeout]. Neither
// ever grants access.
package clinicguard
