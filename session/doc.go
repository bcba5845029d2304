// Package session tracks the live login sessions of each principal and bounds how many
// may exist at once.
//
// # Model
//
// One [Entry] per login family. The entry remembers the family's current refresh token
// id, which rotation swaps through [Registry.Replace]; IssuedAt stays at the login time,
// so "oldest session" always means "oldest login".
//
// # Overflow
//
// [Registry.Register] is atomic per principal: it purges expired entries, then either
// evicts the oldest entries until the new one fits ([EvictOldest]) or refuses the new
// one ([RejectNew]). Evicted entries are returned so the caller can revoke the refresh
// tokens behind them.
//
// # Architecture boundaries
//
// This package owns the [MemoryRegistry] and the Redis-backed [RedisRegistry]. It does
// NOT revoke refresh records or emit events; the Engine does that with what Register
// returns.
//
// # What this package must NOT do
//
//   - Import goRotate, record, or internal/flows (no upward imports).
//   - Store access tokens or any signing material.
package session
