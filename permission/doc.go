// Package permission decides whether a principal may perform an action on a
// resource.
//
// # Decision table
//
// Actions are registered in a [Registry] that assigns each one a bit in a
// [Mask64]. [NewTable] compiles, for every [Role], an allow mask and a hard
// deny mask from the role rules. Explicit per-principal permissions extend
// the allow mask but never override a hard deny.
//
// # Evaluation order
//
//  1. tenant scope (only admin crosses tenants)
//  2. role base rule
//  3. resource override (active assignment for professionals, ownership
//     for subjects)
//  4. consent gate for actions bound to a [Purpose]
//
// Lookups against the identity store run with a short deadline behind a
// circuit breaker and fail closed with [ErrUpstreamTimeout].
package permission
