// Package session manages server-side sessions: creation under a
// per-principal concurrency cap, validation against idle and absolute
// timeouts, origin and client fingerprint binding, id regeneration on
// authentication and privilege elevation, and periodic sweeping.
//
// # Storage
//
// A [Manager] keeps sessions and per-principal indexes in two
// [store.Store] instances. The process-local sharded map and the Redis
// store both work; [Codec] is the compact binary form used with Redis.
//
// # Origin tolerance
//
// Sessions bind to the address they were created from. [Tolerance]
// decides how much drift is accepted: the exact address, the same /24 or
// /48 network, a shared carrier NAT range, or the same country through a
// [GeoResolver]. Outside the tolerance the session is terminated or, under
// [AnomalyStepUp], kept and reported with [ErrStepUpRequired].
//
// # What this package must NOT do
//
//   - Interpret bearer tokens or evaluate permissions.
//   - Store raw user agents or secrets in [Session] fields.
package session
