// Package permission maps role names to "resource:action" permission sets.
//
// # Composition
//
// A [Role] grants permissions three ways: its explicit list, the full expansion of every
// role it Includes, and its ElevatedActions applied to every resource known to the
// [Registry]. An ADMIN role declared as Includes: USER with ElevatedActions
// read/write/manage therefore holds a superset of USER on every resource.
//
// # Caching
//
// [Resolver] memoizes expansions in a bounded ristretto cache keyed by the sorted,
// comma-joined names of the registered roles in a list, so equivalent role lists in any
// order share one entry. Names that are unregistered or contain a comma are ignored.
//
// # Architecture boundaries
//
// This package is pure in-memory policy with no I/O. It does NOT know where a
// principal's roles come from; the Engine asks its RoleSource.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import goRotate, jwt, or session.
//   - Mutate roles after [RoleManager.Freeze].
package permission
