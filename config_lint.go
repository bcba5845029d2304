package goRotate

import (
	"fmt"
	"time"
)

// LintSeverity ranks a [LintWarning].
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "info"
	case LintWarn:
		return "warn"
	case LintHigh:
		return "high"
	default:
		return "unknown"
	}
}

// LintWarning flags a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// AtLeast returns the warnings at or above sev.
func (r LintResult) AtLeast(sev LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= sev {
			out = append(out, w)
		}
	}
	return out
}

// Lint reports settings that pass Validate but weaken the rotation guarantees.
func (c Config) Lint() LintResult {
	var out LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		out = append(out, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if c.Token.AccessTTL > 15*time.Minute {
		add("access_ttl_long", LintWarn,
			"access tokens outlive a revoked family by up to %s", c.Token.AccessTTL)
	}
	if c.Token.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh TTL %s exceeds 30 days", c.Token.RefreshTTL)
	}
	if c.Token.Leeway > 30*time.Second {
		add("leeway_large", LintInfo, "token leeway %s is above 30s", c.Token.Leeway)
	}
	if c.Token.SigningMethod == "hs256" {
		add("symmetric_signing", LintInfo, "hs256 shares the signing secret with every verifier")
	}
	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintHigh, "login attempts are not limited")
	} else if c.RateLimit.KeyStrategy == "principal" {
		add("principal_only_key", LintWarn,
			"keying on principal alone lets an attacker lock out any known account")
	}
	if c.Session.Overflow == "reject_new" {
		add("reject_new_overflow", LintInfo,
			"a stolen session blocks the owner's next login until it expires")
	}
	if c.Store.Backend == "memory" {
		add("memory_store", LintWarn, "records are lost on restart and not shared across instances")
	}
	if !c.Sweep.Enabled && c.Store.Backend == "postgres" {
		add("sweep_disabled", LintWarn, "expired records accumulate without a sweeper")
	}
	if c.Audit.Enabled && !c.Audit.DropIfFull {
		add("audit_blocking", LintWarn, "a slow audit sink blocks request paths")
	}
	return out
}

// HighSecurityConfig returns a default config tightened for internet-facing use.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.Token.AccessTTL = 2 * time.Minute
	cfg.Token.RefreshTTL = 24 * time.Hour
	cfg.RateLimit.MaxAttempts = 3
	cfg.RateLimit.Window = time.Minute
	cfg.RateLimit.BlockDuration = 5 * time.Minute
	cfg.RateLimit.FailClosed = true
	cfg.Sweep.Enabled = true
	cfg.Audit.Enabled = true
	return cfg
}
