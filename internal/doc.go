// Package internal contains helper utilities that are intentionally private to goRotate,
// chiefly secure random generation of token, family, and access ids.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for issuance, rotation, login gating, revocation
//   - metrics: lock-free counters and latency histograms
//   - rate: login-attempt limiter (memory and Redis backends)
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRotate API.
//   - Be imported by any package outside the goRotate module.
package internal
