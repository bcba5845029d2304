// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunIssueForLogin, RunRotate, RunValidate, etc.) accepts a typed
// dependency struct and returns a classified result. The Engine maps failure kinds to
// its public errors, which keeps the Engine type thin and the flows testable against
// in-memory stores.
//
// # Architecture boundaries
//
// Flow functions coordinate the record store, revocation index, session registry,
// issuer, metrics and audit sink. They do NOT own any of these resources; ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goRotate (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
