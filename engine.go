package goRotate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

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

// Engine issues, rotates and revokes credential pairs and gates login attempts.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
type Engine struct {
	config Config
	clock  clock.Clock
	logger zerolog.Logger

	registry    *permission.Registry
	roleManager *permission.RoleManager
	resolver    *permission.Resolver
	roleSource  RoleSource

	jwtManager *jwt.Manager
	issuer     *flows.Issuer

	store          record.Store
	storeBackend   string
	index          revocation.Index
	sessions       session.Registry
	limiter        *rate.Limiter
	limiterBackend string

	audit   *audit.Dispatcher
	metrics *Metrics
	sweeper *sweeper
	flows   flows.Deps

	closers   []func() error
	closed    atomic.Bool
	closeOnce sync.Once
}

func (e *Engine) wireFlows() {
	var sink audit.Sink
	if e.audit != nil {
		sink = e.audit
	}
	rolesOf := func(ctx context.Context, principal string) ([]string, error) {
		return e.roleSource.RolesOf(ctx, principal)
	}
	resolve := func(roles []string) []string {
		return e.resolver.Resolve(roles).List()
	}
	accessTTL := e.config.Token.AccessTTL

	e.flows = flows.Deps{
		Login: flows.LoginDeps{
			Store:     e.store,
			Index:     e.index,
			Sessions:  e.sessions,
			RolesOf:   rolesOf,
			Resolve:   resolve,
			Issuer:    e.issuer,
			AccessTTL: accessTTL,
			Clock:     e.clock,
			Metrics:   e.metrics,
			Audit:     sink,
			Logger:    e.logger,
		},
		Gate: flows.GateDeps{
			Limiter: e.limiter,
			Clock:   e.clock,
			Metrics: e.metrics,
			Audit:   sink,
			Logger:  e.logger,
		},
		Rotate: flows.RotateDeps{
			Store:     e.store,
			Index:     e.index,
			Sessions:  e.sessions,
			RolesOf:   rolesOf,
			Resolve:   resolve,
			Issuer:    e.issuer,
			AccessTTL: accessTTL,
			Clock:     e.clock,
			Metrics:   e.metrics,
			Audit:     sink,
			Logger:    e.logger,
		},
		Logout: flows.LogoutDeps{
			Store:     e.store,
			Index:     e.index,
			Sessions:  e.sessions,
			AccessTTL: accessTTL,
			Clock:     e.clock,
			Metrics:   e.metrics,
			Audit:     sink,
			Logger:    e.logger,
		},
		Validate: flows.ValidateDeps{
			ParseAccess: e.jwtManager.ParseAccess,
			Index:       e.index,
			Metrics:     e.metrics,
		},
	}
}

func (e *Engine) ready() bool {
	return e != nil && e.issuer != nil && !e.closed.Load()
}

/*
====================================
LOGIN
====================================
*/

// GateLoginAttempt counts one login attempt and reports whether it may proceed. Call
// it before checking credentials; every call counts, successful or not.
//
// A limiter backend failure returns [ErrLimiterUnavailable] together with an admitting
// verdict, or a blocking one when RateLimit.FailClosed is set. With rate limiting
// disabled every attempt is admitted.
func (e *Engine) GateLoginAttempt(ctx context.Context, attempt LoginAttempt) (Verdict, error) {
	if !e.ready() {
		return Verdict{}, ErrEngineNotReady
	}
	if e.limiter == nil {
		return rate.Allow, nil
	}
	origin := attempt.Origin
	if origin == "" {
		origin = originFromContext(ctx)
	}

	verdict, err := flows.RunGateLoginAttempt(ctx, origin, attempt.Principal, e.flows.Gate)
	if err != nil {
		if e.config.RateLimit.FailClosed {
			verdict = rate.Block(e.config.RateLimit.BlockDuration)
		}
		return verdict, fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	return verdict, nil
}

// ResetLoginAttempts clears the limiter bucket for attempt. Callers typically invoke it
// after a successful credential check.
func (e *Engine) ResetLoginAttempts(ctx context.Context, attempt LoginAttempt) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if e.limiter == nil {
		return nil
	}
	origin := attempt.Origin
	if origin == "" {
		origin = originFromContext(ctx)
	}
	if err := e.limiter.Reset(ctx, e.limiter.KeyFor(origin, attempt.Principal)); err != nil {
		return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	return nil
}

// IssueForLogin starts a new refresh family for an authenticated principal and
// registers it as a session. When the principal is at its session cap, the oldest
// sessions are evicted and their families revoked, unless the reject_new overflow
// policy is configured, in which case [ErrSessionLimitExceeded] is returned.
func (e *Engine) IssueForLogin(ctx context.Context, principal string) (IssuedPair, error) {
	if !e.ready() {
		return IssuedPair{}, ErrEngineNotReady
	}
	if strings.TrimSpace(principal) == "" {
		return IssuedPair{}, fmt.Errorf("%w: empty principal", ErrIssuanceFailed)
	}

	deps := e.flows.Login
	deps.Origin = originFromContext(ctx)
	res := flows.RunIssueForLogin(ctx, principal, deps)
	switch res.Failure {
	case flows.LoginFailureNone:
		return res.Pair, nil
	case flows.LoginFailureSessionLimit:
		return IssuedPair{}, ErrSessionLimitExceeded
	default:
		return IssuedPair{}, e.issuanceError(res.Failure.String(), principal, res.Err)
	}
}

/*
====================================
ROTATION
====================================
*/

// Rotate consumes the presented refresh token and issues its successor in the same
// family.
//
// Client-facing rejections (unknown, expired, reuse) are reported through
// [RotationOutcome.Rejected] with a nil error. A reuse rejection means the whole family
// has already been revoked. The error is reserved for issuance and storage failures,
// wrapped in [ErrIssuanceFailed]; the presented token is consumed and its family
// closed in that case, so the client must log in again.
func (e *Engine) Rotate(ctx context.Context, presented string) (RotationOutcome, error) {
	if !e.ready() {
		return RotationOutcome{}, ErrEngineNotReady
	}

	res := flows.RunRotate(ctx, presented, e.flows.Rotate)
	switch res.Failure {
	case flows.RotateFailureNone:
		pair := res.Pair
		return RotationOutcome{Pair: &pair}, nil
	case flows.RotateFailureUnknownToken:
		return RotationOutcome{Rejected: &Rejection{Reason: RejectUnknownToken}}, nil
	case flows.RotateFailureExpired:
		return RotationOutcome{Rejected: &Rejection{
			Reason:    RejectExpired,
			TokenID:   res.TokenID,
			FamilyID:  res.FamilyID,
			Principal: res.Principal,
		}}, nil
	case flows.RotateFailureReuse:
		return RotationOutcome{Rejected: &Rejection{
			Reason:    RejectReuseDetected,
			TokenID:   res.TokenID,
			FamilyID:  res.FamilyID,
			Principal: res.Principal,
		}}, nil
	default:
		return RotationOutcome{}, e.issuanceError(res.Failure.String(), res.Principal, res.Err)
	}
}

func (e *Engine) issuanceError(stage, principal string, err error) error {
	ev := e.logger.Error()
	if flows.IsStoreFailure(err) {
		ev = ev.Bool("backend", true)
	}
	ev.Err(err).Str("stage", stage).Str("principal", principal).Msg("credential issuance failed")
	if err == nil {
		return ErrIssuanceFailed
	}
	return fmt.Errorf("%w: %s: %w", ErrIssuanceFailed, stage, err)
}

/*
====================================
ACCESS VALIDATION
====================================
*/

// ValidateAccess verifies an access token and checks that neither the token nor its
// family has been revoked. Permissions are taken from the token itself.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunValidate(ctx, token, e.flows.Validate)
	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureIndex:
		return nil, fmt.Errorf("%w: %w", ErrRevocationUnavailable, res.Err)
	default:
		return nil, ErrUnauthorized
	}

	claims := res.Claims
	out := &AuthResult{
		Principal:   claims.Subject,
		FamilyID:    claims.FamilyID,
		TokenID:     claims.ID,
		Permissions: permission.NewSet(claims.Permissions...),
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// ResolvePermissions returns the sorted, deduplicated permissions granted by roles.
// Unknown roles contribute nothing.
func (e *Engine) ResolvePermissions(roles ...string) []string {
	if e == nil || e.resolver == nil {
		return nil
	}
	return e.resolver.Resolve(roles).List()
}

// Authorize resolves the principal's current roles and checks every perm against
// them, returning [ErrPermissionDenied] when one is missing.
func (e *Engine) Authorize(ctx context.Context, principal string, perms ...string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	roles, err := e.roleSource.RolesOf(ctx, principal)
	if err != nil {
		return err
	}
	if !e.resolver.Resolve(roles).HasAll(perms...) {
		return ErrPermissionDenied
	}
	return nil
}

/*
====================================
SESSIONS
====================================
*/

// RevokeSession logs out the session backing refreshToken: the family is revoked, its
// access tokens are marked in the revocation index, and the session entry is dropped.
// Revoking an already revoked session succeeds; an unknown token returns
// [ErrUnknownToken].
func (e *Engine) RevokeSession(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := flows.RunRevokeSession(ctx, refreshToken, e.flows.Logout)
	switch {
	case res.Err == nil:
		return nil
	case errors.Is(res.Err, record.ErrNotFound):
		return ErrUnknownToken
	default:
		return res.Err
	}
}

// RevokeAllSessions logs the principal out everywhere and returns how many sessions
// were revoked.
func (e *Engine) RevokeAllSessions(ctx context.Context, principal string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return flows.RunRevokeAllSessions(ctx, principal, e.flows.Logout)
}

// SessionCount returns the principal's live session count.
func (e *Engine) SessionCount(ctx context.Context, principal string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Count(ctx, principal)
}

// ListSessions returns the principal's live sessions, oldest login first.
func (e *Engine) ListSessions(ctx context.Context, principal string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.sessions.List(ctx, principal)
}

/*
====================================
LIFECYCLE
====================================
*/

// Close stops the sweeper, drains the audit dispatcher, releases the permission cache
// and any connection pool the builder opened. It is safe to call more than once; every
// other method returns [ErrEngineNotReady] afterwards.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		err = e.releaseResources()
	})
	return err
}

func (e *Engine) releaseResources() error {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.resolver != nil {
		e.resolver.Close()
	}
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// AuditDropped returns how many audit events were discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}
