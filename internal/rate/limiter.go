package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goRotate/clock"
)

// Config holds limiter tuning parameters.
type Config struct {
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
	Strategy      KeyStrategy
}

// Validate rejects configurations that could never admit or never block.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: MaxAttempts must be > 0", ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: Window must be > 0", ErrInvalidConfig)
	}
	if c.BlockDuration <= 0 {
		return fmt.Errorf("%w: BlockDuration must be > 0", ErrInvalidConfig)
	}
	return nil
}

// KeyStrategy selects which attempt attributes form the bucket key.
type KeyStrategy uint8

const (
	// KeyByOrigin keys on the client network origin.
	KeyByOrigin KeyStrategy = iota
	// KeyByPrincipal keys on the claimed principal identifier.
	KeyByPrincipal
	// KeyByOriginAndPrincipal keys on both.
	KeyByOriginAndPrincipal
)

// String returns the config spelling of the strategy.
func (s KeyStrategy) String() string {
	switch s {
	case KeyByOrigin:
		return "origin"
	case KeyByPrincipal:
		return "principal"
	case KeyByOriginAndPrincipal:
		return "composite"
	default:
		return "unknown"
	}
}

// ParseKeyStrategy maps a config spelling to a [KeyStrategy].
func ParseKeyStrategy(s string) (KeyStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "origin", "ip":
		return KeyByOrigin, nil
	case "principal", "user":
		return KeyByPrincipal, nil
	case "composite", "origin+principal":
		return KeyByOriginAndPrincipal, nil
	default:
		return 0, fmt.Errorf("%w: unknown key strategy %q", ErrInvalidConfig, s)
	}
}

// Key builds the bucket key for an attempt. Missing attributes collapse to "-" so
// anonymous attempts still share a bucket rather than bypassing the limiter.
func (s KeyStrategy) Key(origin, principal string) string {
	origin = normalizeKeyPart(origin)
	principal = normalizeKeyPart(strings.ToLower(principal))
	switch s {
	case KeyByPrincipal:
		return "p:" + principal
	case KeyByOriginAndPrincipal:
		return "c:" + origin + "|" + principal
	default:
		return "o:" + origin
	}
}

func normalizeKeyPart(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}

// Verdict is the outcome of one registered attempt.
type Verdict struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Allow is the admitting verdict.
var Allow = Verdict{Allowed: true}

// Block returns a blocking verdict.
func Block(retryAfter time.Duration) Verdict {
	return Verdict{RetryAfter: retryAfter}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, with a floor of one second
// for blocking verdicts.
func (v Verdict) RetryAfterSeconds() int {
	if v.Allowed {
		return 0
	}
	secs := int((v.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// bucket is the persisted per-key state.
type bucket struct {
	windowStart  time.Time
	attempts     int
	blockedUntil time.Time
}

// hit applies one attempt at now and returns the verdict.
func (b *bucket) hit(cfg Config, now time.Time) Verdict {
	if now.Before(b.blockedUntil) {
		return Block(b.blockedUntil.Sub(now))
	}
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= cfg.Window {
		b.windowStart = now
		b.attempts = 0
		b.blockedUntil = time.Time{}
	}

	b.attempts++
	if b.attempts > cfg.MaxAttempts {
		b.blockedUntil = now.Add(cfg.BlockDuration)
		return Block(cfg.BlockDuration)
	}
	return Allow
}

// stale reports whether the bucket can be dropped without changing any future verdict.
func (b *bucket) stale(cfg Config, now time.Time) bool {
	return !now.Before(b.blockedUntil) && now.Sub(b.windowStart) >= cfg.Window
}

type backend interface {
	hit(ctx context.Context, key string, now time.Time) (Verdict, error)
	reset(ctx context.Context, key string) error
	sweep(ctx context.Context, now time.Time) (int, error)
}

// Limiter gates login attempts per key.
type Limiter struct {
	cfg     Config
	clock   clock.Clock
	backend backend
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// KeyFor applies the configured strategy.
func (l *Limiter) KeyFor(origin, principal string) string {
	return l.cfg.Strategy.Key(origin, principal)
}

// RegisterAttempt counts one attempt against key. Every call returns a definitive
// verdict; an error means the backend could not be consulted.
func (l *Limiter) RegisterAttempt(ctx context.Context, key string) (Verdict, error) {
	return l.backend.hit(ctx, key, l.clock.Now())
}

// Reset clears the bucket for key. Callers invoke it after successful authentication.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.backend.reset(ctx, key)
}

// Sweep drops buckets whose window and block have both lapsed.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.backend.sweep(ctx, l.clock.Now())
}
