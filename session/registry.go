package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionLimitExceeded is returned by Register under [RejectNew] when the principal is at capacity.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrSessionNotFound is returned by Replace when the family has no live entry carrying the old token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// OverflowPolicy selects what Register does when a principal is at capacity.
type OverflowPolicy uint8

const (
	// EvictOldest removes the oldest sessions to admit the new one.
	EvictOldest OverflowPolicy = iota
	// RejectNew refuses the new session.
	RejectNew
)

// String returns the config spelling of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case EvictOldest:
		return "evict_oldest"
	case RejectNew:
		return "reject_new"
	default:
		return "unknown"
	}
}

// Config bounds the registry.
type Config struct {
	MaxPerPrincipal int
	Overflow        OverflowPolicy
}

func (c Config) limit() int {
	if c.MaxPerPrincipal <= 0 {
		return 1
	}
	return c.MaxPerPrincipal
}

// Registry tracks live sessions per principal.
//
// Implementations must keep, for every principal, the number of live entries at or
// below the configured maximum, including under concurrent Register calls.
type Registry interface {
	// Register admits entry, returning the entries evicted to make room.
	Register(ctx context.Context, entry Entry) ([]Entry, error)
	// Replace swaps the family's token id from oldTokenID to newTokenID and moves its
	// expiry, keeping IssuedAt.
	Replace(ctx context.Context, principal, familyID, oldTokenID, newTokenID string, expiresAt time.Time) error
	// Revoke removes the entry whose current token id is tokenID. Missing entries are not an error.
	Revoke(ctx context.Context, principal, tokenID string) error
	// RevokeFamily removes the family's entry. Missing entries are not an error.
	RevokeFamily(ctx context.Context, principal, familyID string) error
	// RevokeAll removes every entry of the principal and returns them.
	RevokeAll(ctx context.Context, principal string) ([]Entry, error)
	// List returns live entries ordered oldest first.
	List(ctx context.Context, principal string) ([]Entry, error)
	// Count returns the number of live entries.
	Count(ctx context.Context, principal string) (int, error)
}
