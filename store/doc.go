// Package store defines the keyed state abstraction used by every mutable
// security component: the revocation list, rate limit counters and sessions.
//
// # Implementations
//
//   - [Sharded]: process-local map split into hash-selected shards, each with
//     its own mutex. Updates run under the shard lock; sweeps lock one shard at
//     a time and process a bounded batch per lock hold.
//   - redisstore.Store: shared Redis-backed implementation with Lua CAS.
//
// # Atomicity
//
// [Update] is the single read-modify-write entry point. It uses the native
// [Updater] when the store has one and falls back to a bounded
// GetOrInit/CompareAndSwap retry loop otherwise.
//
// # What this package must NOT do
//
//   - Interpret the values it stores.
//   - Run background goroutines (sweeping is driven by the caller).
package store
