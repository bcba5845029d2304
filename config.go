package goRotate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/session"
)

// Config holds every engine setting.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Token      TokenConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Permission PermissionConfig
	Store      StoreConfig
	Sweep      SweepConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls credential-pair issuance.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds concurrent sessions per principal.
type SessionConfig struct {
	MaxPerPrincipal int
	// Overflow is "evict_oldest" (default) or "reject_new".
	Overflow    string
	RedisPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls the login-attempt limiter.
type RateLimitConfig struct {
	Enabled       bool
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
	// KeyStrategy is "origin", "principal" or "composite".
	KeyStrategy string
	RedisPrefix string
	// FailClosed turns a limiter backend failure into a blocking verdict.
	FailClosed bool
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig controls the permission resolver.
type PermissionConfig struct {
	CacheSize int64
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig selects record storage when no store is injected through the Builder.
type StoreConfig struct {
	// Backend is "auto" (redis when a client is supplied, memory otherwise), "memory",
	// "redis" or "postgres".
	Backend          string
	RedisPrefix      string
	RevocationPrefix string
	PostgresDSN      string
	AutoMigrate      bool
}

/*
====================================
SWEEP / AUDIT / METRICS
====================================
*/

// SweepConfig controls the background sweeper.
type SweepConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration. Signing keys must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Session: SessionConfig{
			MaxPerPrincipal: 1,
			Overflow:        session.EvictOldest.String(),
			RedisPrefix:     "gr:ses",
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			MaxAttempts:   5,
			Window:        15 * time.Minute,
			BlockDuration: 15 * time.Minute,
			KeyStrategy:   rate.KeyByOriginAndPrincipal.String(),
			RedisPrefix:   "gr:lim",
		},
		Permission: PermissionConfig{
			CacheSize: 1024,
		},
		Store: StoreConfig{
			Backend:          "auto",
			RedisPrefix:      "gr:rec",
			RevocationPrefix: "gr:rev",
		},
		Sweep: SweepConfig{
			Enabled:   false,
			Interval:  10 * time.Minute,
			Retention: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be greater than AccessTTL")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}
	if c.Token.Audience != "" && strings.TrimSpace(c.Token.Audience) == "" {
		return errors.New("Token Audience must not be blank")
	}
	switch c.Token.SigningMethod {
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported Token signing method")
	}

	// Session
	if c.Session.MaxPerPrincipal <= 0 {
		return errors.New("Session MaxPerPrincipal must be > 0")
	}
	if _, err := parseOverflow(c.Session.Overflow); err != nil {
		return err
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if err := c.RateLimit.limiterConfig().Validate(); err != nil {
			return fmt.Errorf("RateLimit: %w", err)
		}
		if _, err := rate.ParseKeyStrategy(c.RateLimit.KeyStrategy); err != nil {
			return fmt.Errorf("RateLimit: %w", err)
		}
		if strings.TrimSpace(c.RateLimit.RedisPrefix) == "" {
			return errors.New("RateLimit RedisPrefix must not be empty")
		}
	}

	// Permission
	if c.Permission.CacheSize < 0 {
		return errors.New("Permission CacheSize must be >= 0")
	}

	// Store
	switch c.Store.Backend {
	case "", "auto", "memory", "redis":
	case "postgres":
		// A DSN is optional: Builder.WithPostgres supplies an open pool instead.
	default:
		return fmt.Errorf("unsupported Store backend %q", c.Store.Backend)
	}
	if strings.TrimSpace(c.Store.RedisPrefix) == "" || strings.TrimSpace(c.Store.RevocationPrefix) == "" {
		return errors.New("Store prefixes must not be empty")
	}
	if c.Store.RedisPrefix == c.Store.RevocationPrefix ||
		c.Store.RedisPrefix == c.Session.RedisPrefix ||
		c.Store.RevocationPrefix == c.Session.RedisPrefix {
		return errors.New("Store, revocation and session prefixes must differ")
	}

	// Sweep
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return errors.New("Sweep Interval must be > 0 when enabled")
	}
	if c.Sweep.Retention < 0 {
		return errors.New("Sweep Retention must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func (c RateLimitConfig) limiterConfig() rate.Config {
	strategy, _ := rate.ParseKeyStrategy(c.KeyStrategy)
	return rate.Config{
		MaxAttempts:   c.MaxAttempts,
		Window:        c.Window,
		BlockDuration: c.BlockDuration,
		Strategy:      strategy,
	}
}

func parseOverflow(v string) (session.OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", session.EvictOldest.String():
		return session.EvictOldest, nil
	case session.RejectNew.String():
		return session.RejectNew, nil
	default:
		return 0, fmt.Errorf("unsupported Session Overflow %q", v)
	}
}
