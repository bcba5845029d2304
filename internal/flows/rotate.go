package flows

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/MrEthical07/goRotate/internal"
	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/metrics"
	"github.com/MrEthical07/goRotate/record"
	"github.com/MrEthical07/goRotate/revocation"
	"github.com/MrEthical07/goRotate/session"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureUnknownToken
	RotateFailureExpired
	RotateFailureReuse
	RotateFailureRoles
	RotateFailureIssue
	RotateFailureStore
)

// RotateResult carries either the new pair or failure metadata.
type RotateResult struct {
	Failure   RotateFailureKind
	Err       error
	TokenID   string
	FamilyID  string
	Principal string
	// LostRace is set when reuse was detected because a concurrent rotation consumed
	// the token first.
	LostRace bool
	Pair     IssuedPair
}

// RotateDeps captures rotation dependencies.
type RotateDeps struct {
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
}

// RunRotate consumes presented and issues its successor in the same family.
//
// Exactly one of any number of concurrent calls presenting the same active token
// passes the consumption step. Every other call, and every later presentation of a
// consumed token, revokes the whole family.
func RunRotate(ctx context.Context, presented string, deps RotateDeps) RotateResult {
	start := deps.Clock.Now()
	res := runRotate(ctx, presented, deps)
	deps.Metrics.Observe(metrics.MetricRotateLatency, deps.Clock.Now().Sub(start))

	if res.Failure == RotateFailureNone {
		deps.Metrics.Inc(metrics.MetricRefreshSuccess)
		emit(ctx, deps.Audit, deps.Clock, audit.Event{
			EventType: audit.EventRefreshRotated,
			Principal: res.Principal,
			FamilyID:  res.FamilyID,
			Success:   true,
		})
		return res
	}

	deps.Metrics.Inc(metrics.MetricRefreshFailure)
	switch res.Failure {
	case RotateFailureUnknownToken:
		deps.Metrics.Inc(metrics.MetricRefreshUnknownToken)
	case RotateFailureExpired:
		deps.Metrics.Inc(metrics.MetricRefreshExpired)
	case RotateFailureReuse:
		// Reuse carries its own event from burnFamily.
		return res
	case RotateFailureIssue, RotateFailureRoles, RotateFailureStore:
		deps.Metrics.Inc(metrics.MetricIssuanceFailed)
	}
	emit(ctx, deps.Audit, deps.Clock, audit.Event{
		EventType: audit.EventRefreshRejected,
		Principal: res.Principal,
		FamilyID:  res.FamilyID,
		Reason:    res.Failure.String(),
		Error:     errString(res.Err),
	})
	return res
}

func runRotate(ctx context.Context, presented string, deps RotateDeps) RotateResult {
	if !internal.WellFormedTokenID(presented) {
		return RotateResult{Failure: RotateFailureUnknownToken, Err: record.ErrNotFound}
	}

	rec, err := deps.Store.FindByID(ctx, presented)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return RotateResult{Failure: RotateFailureUnknownToken, Err: err, TokenID: presented}
		}
		return RotateResult{Failure: RotateFailureStore, Err: err, TokenID: presented}
	}

	res := RotateResult{
		TokenID:   rec.ID,
		FamilyID:  rec.FamilyID,
		Principal: rec.Principal,
	}

	if rec.Revoked {
		return reuseDetected(ctx, rec, false, deps)
	}

	now := deps.Clock.Now()
	if rec.ExpiredAt(now) {
		res.Failure = RotateFailureExpired
		return res
	}

	consumed, err := deps.Store.SetRevoked(ctx, rec.ID)
	if err != nil {
		res.Failure = RotateFailureStore
		res.Err = err
		return res
	}
	if !consumed {
		deps.Metrics.Inc(metrics.MetricRefreshConsumeRace)
		return reuseDetected(ctx, rec, true, deps)
	}

	// The presented token is spent from here on. Any failure below leaves the session
	// without a usable refresh token, so the family is closed rather than left dangling.
	roles, err := deps.RolesOf(ctx, rec.Principal)
	if err != nil {
		abandonFamily(ctx, rec, deps)
		res.Failure = RotateFailureRoles
		res.Err = err
		return res
	}

	pair, err := deps.Issuer.Issue(rec.Principal, deps.Resolve(roles), rec.FamilyID, rec.ID)
	if err != nil {
		abandonFamily(ctx, rec, deps)
		res.Failure = RotateFailureIssue
		res.Err = err
		return res
	}

	if err := deps.Store.Save(ctx, pair.Record); err != nil {
		abandonFamily(ctx, rec, deps)
		res.Failure = RotateFailureStore
		res.Err = err
		return res
	}

	err = deps.Sessions.Replace(ctx, rec.Principal, rec.FamilyID, rec.ID, pair.Record.ID, pair.Record.ExpiresAt)
	if err != nil {
		// The session was evicted or revoked while this rotation was in flight. The
		// new pair is returned but its family is already dead.
		deps.Logger.Warn().
			Err(err).
			Str("principal", rec.Principal).
			Str("family_id", rec.FamilyID).
			Msg("session replace failed after consumption; closing family")
		abandonFamily(ctx, rec, deps)
	}

	res.Pair = pair
	return res
}

func reuseDetected(ctx context.Context, rec record.Record, lostRace bool, deps RotateDeps) RotateResult {
	reason := "revoked_token_presented"
	if lostRace {
		reason = "concurrent_consumption"
	}

	burnErr := burnFamily(ctx, rec.Principal, rec.FamilyID, familyDeps{
		Store:     deps.Store,
		Index:     deps.Index,
		Sessions:  deps.Sessions,
		AccessTTL: deps.AccessTTL,
		Clock:     deps.Clock,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	})

	deps.Metrics.Inc(metrics.MetricRefreshReuseDetected)
	deps.Logger.Warn().
		Str("principal", rec.Principal).
		Str("family_id", rec.FamilyID).
		Str("reason", reason).
		Msg("refresh token reuse detected")
	emit(ctx, deps.Audit, deps.Clock, audit.Event{
		EventType: audit.EventRefreshReuseDetected,
		Principal: rec.Principal,
		FamilyID:  rec.FamilyID,
		Reason:    reason,
		Error:     errString(burnErr),
	})

	return RotateResult{
		Failure:   RotateFailureReuse,
		Err:       burnErr,
		TokenID:   rec.ID,
		FamilyID:  rec.FamilyID,
		Principal: rec.Principal,
		LostRace:  lostRace,
	}
}

func abandonFamily(ctx context.Context, rec record.Record, deps RotateDeps) {
	_ = burnFamily(ctx, rec.Principal, rec.FamilyID, familyDeps{
		Store:     deps.Store,
		Index:     deps.Index,
		Sessions:  deps.Sessions,
		AccessTTL: deps.AccessTTL,
		Clock:     deps.Clock,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	})
}

// String returns the reason code used in audit events.
func (k RotateFailureKind) String() string {
	switch k {
	case RotateFailureNone:
		return "none"
	case RotateFailureUnknownToken:
		return "unknown_token"
	case RotateFailureExpired:
		return "expired"
	case RotateFailureReuse:
		return "reuse_detected"
	case RotateFailureRoles:
		return "role_lookup_failed"
	case RotateFailureIssue:
		return "issuance_failed"
	case RotateFailureStore:
		return "store_failed"
	default:
		return "unknown"
	}
}
