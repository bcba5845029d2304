// Package jwt signs and verifies the short-lived access half of an issued credential
// pair. The refresh half is opaque and never passes through this package.
//
// Access claims carry the principal (sub), a unique id (jti), the rotation family (fid)
// and the resolved permission list (perms), so resource servers can authorize without a
// lookup and the engine can revoke a whole family through its revocation index.
package jwt
