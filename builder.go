package goRotate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/flows"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/permission"
	"github.com/MrEthical07/goRotate/record"
	"github.com/MrEthical07/goRotate/revocation"
	"github.com/MrEthical07/goRotate/session"
)

// Role declares one role for [Builder.WithRoles].
type Role = permission.Role

// Builder composes an [Engine] from explicit collaborators. Every port has a default:
// Redis-backed adapters when a client is supplied, in-memory ones otherwise.
//
// Builder instances are single-use; Build may be called once.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	postgres *sql.DB

	store    record.Store
	index    revocation.Index
	sessions session.Registry

	clock      clock.Clock
	logger     zerolog.Logger
	auditSink  AuditSink
	roleSource RoleSource

	permissions []string
	roles       []Role

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used by every Redis adapter that is not injected explicitly.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies an open database for the "postgres" store backend. The caller
// keeps ownership of db.
func (b *Builder) WithPostgres(db *sql.DB) *Builder {
	b.postgres = db
	return b
}

// WithRecordStore injects a refresh-record store, overriding Config.Store.Backend.
func (b *Builder) WithRecordStore(store record.Store) *Builder {
	b.store = store
	return b
}

// WithRevocationIndex injects the access-token revocation index.
func (b *Builder) WithRevocationIndex(index revocation.Index) *Builder {
	b.index = index
	return b
}

// WithSessionRegistry injects the session registry. Its own limits apply; Config.Session
// is then only reported, not enforced.
func (b *Builder) WithSessionRegistry(reg session.Registry) *Builder {
	b.sessions = reg
	return b
}

// WithClock overrides the time source used by every component.
func (b *Builder) WithClock(clk clock.Clock) *Builder {
	b.clock = clk
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the destination of audit events. Config.Audit.Enabled must be
// true for events to be dispatched.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRoleSource sets where principal roles come from.
func (b *Builder) WithRoleSource(src RoleSource) *Builder {
	b.roleSource = src
	return b
}

// WithPermissions registers the known "resource:action" permissions.
func (b *Builder) WithPermissions(perms ...string) *Builder {
	b.permissions = append(b.permissions, perms...)
	return b
}

// WithRoles registers roles. Included roles and permissions must themselves be registered.
func (b *Builder) WithRoles(roles ...Role) *Builder {
	b.roles = append(b.roles, roles...)
	return b
}

// WithSigningKeys sets the access-token signing method and keys.
func (b *Builder) WithSigningKeys(method string, privateKey, publicKey []byte) *Builder {
	b.config.Token.SigningMethod = method
	b.config.Token.PrivateKey = cloneBytes(privateKey)
	b.config.Token.PublicKey = cloneBytes(publicKey)
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the rotate-latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. It opens a Postgres pool
// only when the "postgres" backend is selected with a DSN and no WithPostgres database.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(b.permissions) == 0 {
		return nil, errors.New("permissions must be provided")
	}
	if len(b.roles) == 0 {
		return nil, errors.New("roles must be provided")
	}
	if b.roleSource == nil {
		return nil, errors.New("role source required")
	}

	clk := b.clock
	if clk == nil {
		clk = clock.System{}
	}

	// -------- PERMISSIONS --------
	registry := permission.NewRegistry()
	for _, p := range b.permissions {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	roleManager := permission.NewRoleManager(registry)
	for _, r := range b.roles {
		if err := roleManager.RegisterRole(r); err != nil {
			return nil, err
		}
	}
	if err := roleManager.Freeze(); err != nil {
		return nil, err
	}

	resolver, err := permission.NewResolver(roleManager, cfg.Permission.CacheSize)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		clock:       clk,
		logger:      b.logger,
		registry:    registry,
		roleManager: roleManager,
		resolver:    resolver,
		roleSource:  b.roleSource,
		metrics:     NewMetrics(cfg.Metrics),
	}

	fail := func(err error) (*Engine, error) {
		engine.releaseResources()
		return nil, err
	}

	// -------- SIGNER / ISSUER --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		KeyID:         cfg.Token.KeyID,
		Leeway:        cfg.Token.Leeway,
		Clock:         clk,
	})
	if err != nil {
		return fail(err)
	}
	engine.jwtManager = jm
	engine.issuer = flows.NewIssuer(jm, cfg.Token.RefreshTTL, clk)

	// -------- RECORD STORE --------
	if err := b.buildStore(engine); err != nil {
		return fail(err)
	}

	// -------- REVOCATION INDEX --------
	switch {
	case b.index != nil:
		engine.index = b.index
	case b.redis != nil:
		engine.index = revocation.NewRedisIndex(b.redis, cfg.Store.RevocationPrefix, clk)
	default:
		engine.index = revocation.NewMemoryIndex(clk)
	}

	// -------- SESSION REGISTRY --------
	overflow, _ := parseOverflow(cfg.Session.Overflow)
	sessionCfg := session.Config{MaxPerPrincipal: cfg.Session.MaxPerPrincipal, Overflow: overflow}
	switch {
	case b.sessions != nil:
		engine.sessions = b.sessions
	case b.redis != nil:
		engine.sessions = session.NewRedisRegistry(b.redis, cfg.Session.RedisPrefix, sessionCfg, clk)
	default:
		engine.sessions = session.NewMemoryRegistry(sessionCfg, clk)
	}

	// -------- LOGIN LIMITER --------
	if cfg.RateLimit.Enabled {
		var limiter *rate.Limiter
		if b.redis != nil {
			limiter, err = rate.NewRedis(b.redis, cfg.RateLimit.RedisPrefix, cfg.RateLimit.limiterConfig(), clk)
			engine.limiterBackend = "redis"
		} else {
			limiter, err = rate.NewMemory(cfg.RateLimit.limiterConfig(), clk)
			engine.limiterBackend = "memory"
		}
		if err != nil {
			return fail(err)
		}
		engine.limiter = limiter
	}

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine.wireFlows()

	// -------- SWEEPER --------
	if cfg.Sweep.Enabled {
		engine.sweeper = newSweeper(engine, cfg.Sweep.Interval)
		engine.sweeper.Start()
	}

	b.built = true
	engine.logger.Info().
		Str("store", engine.storeBackend).
		Str("signing", cfg.Token.SigningMethod).
		Int("max_sessions", cfg.Session.MaxPerPrincipal).
		Str("overflow", cfg.Session.Overflow).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Msg("rotation engine ready")

	return engine, nil
}

func (b *Builder) buildStore(engine *Engine) error {
	cfg := engine.config
	if b.store != nil {
		engine.store = b.store
		engine.storeBackend = "custom"
		return nil
	}

	backend := cfg.Store.Backend
	if backend == "" || backend == "auto" {
		backend = "memory"
		if b.redis != nil {
			backend = "redis"
		}
	}

	switch backend {
	case "memory":
		engine.store = record.NewMemoryStore()
	case "redis":
		if b.redis == nil {
			return errors.New("redis store backend requires a redis client")
		}
		engine.store = record.NewRedisStore(b.redis, cfg.Store.RedisPrefix, cfg.Sweep.Retention)
	case "postgres":
		db := b.postgres
		if db == nil {
			if cfg.Store.PostgresDSN == "" {
				return errors.New("postgres store backend requires WithPostgres or Store.PostgresDSN")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			opened, err := record.OpenPostgres(ctx, cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			db = opened
			engine.closers = append(engine.closers, opened.Close)
		}
		pg := record.NewPostgresStore(db)
		if cfg.Store.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate record store: %w", err)
			}
		}
		engine.store = pg
	default:
		return fmt.Errorf("unsupported Store backend %q", backend)
	}
	engine.storeBackend = backend
	return nil
}
