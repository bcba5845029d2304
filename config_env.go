package goRotate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is the default variable prefix read by [LoadConfigFromEnv].
const EnvPrefix = "GOROTATE"

// LoadConfigFromEnv loads optional .env files (".env" when none are named) into the
// process environment, then overlays PREFIX_* variables on [DefaultConfig]. Missing
// files are ignored. The result is validated.
//
// Signing keys are base64 (std encoding) in PREFIX_TOKEN_PRIVATE_KEY and
// PREFIX_TOKEN_PUBLIC_KEY; PREFIX_TOKEN_SECRET carries a raw hs256 secret.
func LoadConfigFromEnv(prefix string, files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	return configFromLookup(prefix, os.LookupEnv)
}

// LoadConfigFromFile reads one .env file without touching the process environment.
func LoadConfigFromFile(prefix, path string) (Config, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return Config{}, fmt.Errorf("read env file: %w", err)
	}
	return configFromLookup(prefix, func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
}

type envReader struct {
	prefix string
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) raw(name string) (string, bool) {
	v, ok := r.lookup(r.prefix + "_" + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.raw(name); ok {
		*dst = v
	}
}

func (r *envReader) integer(name string, dst *int) {
	if v, ok := r.raw(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s_%s: %w", r.prefix, name, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) int64(name string, dst *int64) {
	if v, ok := r.raw(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s_%s: %w", r.prefix, name, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if v, ok := r.raw(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s_%s: %w", r.prefix, name, err))
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.raw(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s_%s: %w", r.prefix, name, err))
			return
		}
		*dst = d
	}
}

func (r *envReader) base64(name string, dst *[]byte) {
	if v, ok := r.raw(name); ok {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s_%s: %w", r.prefix, name, err))
			return
		}
		*dst = b
	}
}

func configFromLookup(prefix string, lookup func(string) (string, bool)) (Config, error) {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "_")
	if prefix == "" {
		prefix = EnvPrefix
	}
	cfg := defaultConfig()
	r := &envReader{prefix: prefix, lookup: lookup}

	r.duration("TOKEN_ACCESS_TTL", &cfg.Token.AccessTTL)
	r.duration("TOKEN_REFRESH_TTL", &cfg.Token.RefreshTTL)
	r.str("TOKEN_SIGNING_METHOD", &cfg.Token.SigningMethod)
	r.base64("TOKEN_PRIVATE_KEY", &cfg.Token.PrivateKey)
	r.base64("TOKEN_PUBLIC_KEY", &cfg.Token.PublicKey)
	if secret, ok := r.raw("TOKEN_SECRET"); ok {
		cfg.Token.PrivateKey = []byte(secret)
	}
	r.str("TOKEN_ISSUER", &cfg.Token.Issuer)
	r.str("TOKEN_AUDIENCE", &cfg.Token.Audience)
	r.str("TOKEN_KEY_ID", &cfg.Token.KeyID)
	r.duration("TOKEN_LEEWAY", &cfg.Token.Leeway)
	cfg.Token.SigningMethod = strings.ToLower(cfg.Token.SigningMethod)

	r.integer("SESSION_MAX_PER_PRINCIPAL", &cfg.Session.MaxPerPrincipal)
	r.str("SESSION_OVERFLOW", &cfg.Session.Overflow)
	r.str("SESSION_REDIS_PREFIX", &cfg.Session.RedisPrefix)

	r.boolean("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	r.integer("RATE_LIMIT_MAX_ATTEMPTS", &cfg.RateLimit.MaxAttempts)
	r.duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	r.duration("RATE_LIMIT_BLOCK", &cfg.RateLimit.BlockDuration)
	r.str("RATE_LIMIT_KEY_STRATEGY", &cfg.RateLimit.KeyStrategy)
	r.str("RATE_LIMIT_REDIS_PREFIX", &cfg.RateLimit.RedisPrefix)
	r.boolean("RATE_LIMIT_FAIL_CLOSED", &cfg.RateLimit.FailClosed)

	r.int64("PERMISSION_CACHE_SIZE", &cfg.Permission.CacheSize)

	r.str("STORE_BACKEND", &cfg.Store.Backend)
	r.str("STORE_REDIS_PREFIX", &cfg.Store.RedisPrefix)
	r.str("STORE_REVOCATION_PREFIX", &cfg.Store.RevocationPrefix)
	r.str("STORE_POSTGRES_DSN", &cfg.Store.PostgresDSN)
	r.boolean("STORE_AUTO_MIGRATE", &cfg.Store.AutoMigrate)

	r.boolean("SWEEP_ENABLED", &cfg.Sweep.Enabled)
	r.duration("SWEEP_INTERVAL", &cfg.Sweep.Interval)
	r.duration("SWEEP_RETENTION", &cfg.Sweep.Retention)

	r.boolean("AUDIT_ENABLED", &cfg.Audit.Enabled)
	r.integer("AUDIT_BUFFER_SIZE", &cfg.Audit.BufferSize)
	r.boolean("AUDIT_DROP_IF_FULL", &cfg.Audit.DropIfFull)

	r.boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	r.boolean("METRICS_LATENCY_HISTOGRAMS", &cfg.Metrics.EnableLatencyHistograms)

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
