// Package rate implements the login-attempt limiter: a fixed window with a cooldown
// block, per key.
//
// # Window semantics
//
// Each key holds (windowStart, attempts, blockedUntil). An active block short-circuits
// with the remaining cooldown. Otherwise an elapsed window resets the counter, the
// attempt is counted, and exceeding MaxAttempts starts a BlockDuration cooldown.
//
// # Backends
//
//   - [NewMemory]: sharded mutex maps, the single-process reference.
//   - [NewRedis]: one Lua script per attempt over a hash per key.
//
// # What this package must NOT do
//
//   - Reset buckets on its own; callers reset after a successful authentication.
//   - Be imported outside the goRotate module.
package rate
