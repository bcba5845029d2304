// Package record owns refresh-token records and the [Store] port that persists them.
//
// # Record lifecycle
//
// A [Record] is created by issuance, consumed exactly once by rotation through the
// conditional [Store.SetRevoked] transition, and may be revoked wholesale with the rest
// of its family by [Store.RevokeFamily]. Revocation is monotonic and family revocation is
// sticky: a record saved into an already revoked family is persisted revoked.
//
// # Adapters
//
//   - [MemoryStore]: mutex-guarded maps, reference semantics.
//   - [RedisStore]: Lua scripts over per-record hashes, family sets, and an expiry index.
//   - [PostgresStore]: database/sql over the pgx driver with per-family advisory locks.
//
// # What this package must NOT do
//
//   - Decide reuse or rotation policy (that lives in internal/flows).
//   - Read the wall clock; callers pass cutoffs explicitly.
//   - Import goRotate or any sibling package.
package record
