// Package ratelimit provides the request limiters of the pipeline.
//
// # Strategies
//
//   - Fixed window: one counter per key, reset at WindowStart + Window.
//   - Sliding window: an exact log of at most MaxRequests timestamps inside
//     [now-Window, now].
//   - Dual window: a short burst and a long sustained sliding window stored
//     in one record and evaluated in one atomic update.
//   - [AuthLimiter]: fixed window over failed attempts only, with a block.
//   - [BurstGuard]: golang.org/x/time/rate bucket per key for validation
//     attempts.
//
// Counters live in a store.Store and every check is a single store.Update,
// so concurrent requests on the same key cannot both take the last slot.
// Expired counters are evicted lazily by the store TTL and by [Limiter.Sweep].
package ratelimit
