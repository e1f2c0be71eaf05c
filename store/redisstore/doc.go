// Package redisstore implements store.Store on Redis so that revocation
// entries, rate counters and sessions can be shared between processes.
//
// # Encoding
//
// Each value is stored as a 20-digit zero-padded version followed by the
// codec payload. CompareAndSwap and CompareAndDelete are Lua scripts that
// compare the version prefix before writing, so concurrent writers from any
// process observe per-key atomicity. Expiry uses native Redis TTLs.
package redisstore
