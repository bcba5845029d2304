package flows

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/metrics"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/record"
	"github.com/MrEthical07/goRotate/revocation"
	"github.com/MrEthical07/goRotate/session"
)

// LoginFailureKind classifies login issuance failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRoles
	LoginFailureIssue
	LoginFailureStore
	LoginFailureSessionLimit
	LoginFailureSessionStore
)

// LoginResult carries the issued pair and any sessions displaced to admit it.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error
	Pair    IssuedPair
	Evicted []session.Entry
}

// LoginDeps captures login issuance dependencies.
type LoginDeps struct {
	Store     record.Store
	Index     revocation.Index
	Sessions  session.Registry
	RolesOf   func(ctx context.Context, principal string) ([]string, error)
	Resolve   func(roles []string) []string
	Issuer    *Issuer
	AccessTTL time.Duration
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Audit     audit.Sink
	Logger    zerolog.Logger
	Origin    string
}

// RunIssueForLogin starts a new family for an already authenticated principal.
//
// Sessions evicted to make room have their families closed before the result is
// returned, so their refresh tokens report reuse if presented again.
func RunIssueForLogin(ctx context.Context, principal string, deps LoginDeps) LoginResult {
	roles, err := deps.RolesOf(ctx, principal)
	if err != nil {
		return loginFailed(ctx, principal, LoginFailureRoles, err, deps)
	}

	pair, err := deps.Issuer.Issue(principal, deps.Resolve(roles), "", "")
	if err != nil {
		deps.Metrics.Inc(metrics.MetricIssuanceFailed)
		return loginFailed(ctx, principal, LoginFailureIssue, err, deps)
	}

	if err := deps.Store.Save(ctx, pair.Record); err != nil {
		deps.Metrics.Inc(metrics.MetricIssuanceFailed)
		return loginFailed(ctx, principal, LoginFailureStore, err, deps)
	}

	fdeps := familyDeps{
		Store:     deps.Store,
		Index:     deps.Index,
		AccessTTL: deps.AccessTTL,
		Clock:     deps.Clock,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}

	evicted, err := deps.Sessions.Register(ctx, session.Entry{
		Principal: principal,
		FamilyID:  pair.Record.FamilyID,
		TokenID:   pair.Record.ID,
		IssuedAt:  pair.Record.IssuedAt,
		ExpiresAt: pair.Record.ExpiresAt,
	})
	if err != nil {
		// The record is saved but has no session; close it so it cannot be rotated.
		_ = burnFamily(ctx, "", pair.Record.FamilyID, fdeps)
		if errors.Is(err, session.ErrSessionLimitExceeded) {
			return loginFailed(ctx, principal, LoginFailureSessionLimit, err, deps)
		}
		return loginFailed(ctx, principal, LoginFailureSessionStore, err, deps)
	}

	deps.Metrics.Inc(metrics.MetricLoginIssued)
	deps.Metrics.Inc(metrics.MetricSessionCreated)

	for _, ev := range evicted {
		// The registry already dropped the entry; only the record and the index remain.
		if err := burnFamily(ctx, "", ev.FamilyID, fdeps); err != nil {
			deps.Logger.Warn().
				Err(err).
				Str("principal", principal).
				Str("family_id", ev.FamilyID).
				Msg("evicted session family not fully revoked")
		}
		deps.Metrics.Inc(metrics.MetricSessionEvicted)
		emit(ctx, deps.Audit, deps.Clock, audit.Event{
			EventType: audit.EventSessionEvicted,
			Principal: principal,
			FamilyID:  ev.FamilyID,
			Origin:    deps.Origin,
			Success:   true,
			Reason:    "session_limit",
			Metadata: map[string]string{
				"replaced_by": pair.Record.FamilyID,
			},
		})
	}

	emit(ctx, deps.Audit, deps.Clock, audit.Event{
		EventType: audit.EventLoginIssued,
		Principal: principal,
		FamilyID:  pair.Record.FamilyID,
		Origin:    deps.Origin,
		Success:   true,
	})

	return LoginResult{Pair: pair, Evicted: evicted}
}

func loginFailed(ctx context.Context, principal string, kind LoginFailureKind, err error, deps LoginDeps) LoginResult {
	deps.Metrics.Inc(metrics.MetricLoginRejected)
	emit(ctx, deps.Audit, deps.Clock, audit.Event{
		EventType: audit.EventLoginIssued,
		Principal: principal,
		Origin:    deps.Origin,
		Reason:    kind.String(),
		Error:     errString(err),
	})
	return LoginResult{Failure: kind, Err: err}
}

// String returns the reason code used in audit events.
func (k LoginFailureKind) String() string {
	switch k {
	case LoginFailureNone:
		return "none"
	case LoginFailureRoles:
		return "role_lookup_failed"
	case LoginFailureIssue:
		return "issuance_failed"
	case LoginFailureStore:
		return "store_failed"
	case LoginFailureSessionLimit:
		return "session_limit_exceeded"
	case LoginFailureSessionStore:
		return "session_store_failed"
	default:
		return "unknown"
	}
}

// GateDeps captures login-attempt limiter dependencies.
type GateDeps struct {
	Limiter *rate.Limiter
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Audit   audit.Sink
	Logger  zerolog.Logger
}

// RunGateLoginAttempt counts one attempt against the key derived from origin and
// principal. A limiter backend failure is returned with an Allow verdict; the caller
// decides whether to fail open.
func RunGateLoginAttempt(ctx context.Context, origin, principal string, deps GateDeps) (rate.Verdict, error) {
	key := deps.Limiter.KeyFor(origin, principal)
	verdict, err := deps.Limiter.RegisterAttempt(ctx, key)
	if err != nil {
		deps.Logger.Error().Err(err).Str("key", key).Msg("login limiter unavailable")
		return rate.Allow, err
	}
	if verdict.Allowed {
		return verdict, nil
	}

	deps.Metrics.Inc(metrics.MetricLoginRateLimited)
	emit(ctx, deps.Audit, deps.Clock, audit.Event{
		EventType: audit.EventLoginRateLimited,
		Principal: principal,
		Origin:    origin,
		Reason:    "too_many_attempts",
		Metadata: map[string]string{
			"key":         key,
			"retry_after": verdict.RetryAfter.String(),
		},
	})
	return verdict, nil
}
