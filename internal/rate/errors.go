package rate

import "errors"

var (
	// ErrRedisUnavailable wraps Redis failures in the distributed backend.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidConfig is returned by constructors for non-positive limits.
	ErrInvalidConfig = errors.New("invalid rate limit config")
)
