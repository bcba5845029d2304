// Package goRotate issues short-lived access tokens paired with rotating opaque refresh
// tokens, detects refresh-token reuse per token family, caps concurrent sessions per
// principal, and gates login attempts with a fixed-window limiter.
//
// Engine methods are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Rotation model
//
// Every login starts a family. [Engine.Rotate] consumes the presented refresh token and
// issues its successor in the same family. Consumption is a single compare-and-set in
// the record store, so of any number of concurrent presentations exactly one succeeds.
// Presenting a consumed token is treated as theft: the whole family is revoked, its
// session dropped, and its in-flight access tokens rejected through the revocation index.
//
// # Architecture boundaries
//
// goRotate is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (IssuedPair, RotationOutcome, SessionInfo, MetricsSnapshot). Storage ports live
// in record, session and revocation; flow orchestration, the login limiter, and audit
// dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Verify passwords or other credentials; callers authenticate first, then call
//     [Engine.IssueForLogin].
//   - Perform I/O outside of Engine methods and [Builder.Build].
//   - Import any sub-package that re-imports goRotate (no import cycles).
//
// # Performance contract
//
// [Engine.ValidateAccess] is the hot path: one signature check plus two revocation index
// lookups. Rotation costs one record read, one compare-and-set, one insert and one
// session update.
package goRotate
