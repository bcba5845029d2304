package goRotate

import "errors"

var (
	// ErrUnknownToken is returned by Rotate when the presented refresh token has no record.
	ErrUnknownToken = errors.New("unknown refresh token")
	// ErrExpired is returned by Rotate when the presented refresh token is past its expiry.
	ErrExpired = errors.New("refresh token expired")
	// ErrReuseDetected is returned by Rotate when an already consumed token is presented.
	// The token's whole family has been revoked by the time it is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrRateLimited is returned by GateLoginAttempt while a key is blocked.
	ErrRateLimited = errors.New("login rate limited")
	// ErrSessionLimitExceeded is returned by IssueForLogin under the reject_new overflow policy.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrIssuanceFailed wraps signer, randomness, role-source and store failures.
	ErrIssuanceFailed = errors.New("credential issuance failed")
	// ErrUnauthorized is returned by ValidateAccess for invalid or revoked access tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied is returned when a resolved permission set lacks a required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRevocationUnavailable is returned by ValidateAccess when the revocation index
	// cannot be consulted.
	ErrRevocationUnavailable = errors.New("revocation index unavailable")
	// ErrLimiterUnavailable is returned by GateLoginAttempt when the limiter backend fails.
	ErrLimiterUnavailable = errors.New("login limiter unavailable")
	// ErrEngineNotReady is returned by every Engine method on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
