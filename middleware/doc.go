// Package middleware adapts goRotate access-token validation to net/http.
//
// # Guards
//
//   - [Guard] verifies the bearer token with Engine.ValidateAccess, which also rejects
//     tokens whose jti or family is in the revocation index, and stores the
//     [goRotate.AuthResult] in the request context.
//   - [RequirePermissions] rejects requests whose token lacks any of the listed
//     "resource:action" permissions. It must run inside Guard.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Touch refresh tokens or sessions.
package middleware
