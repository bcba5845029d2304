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

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Store     record.Store
	Index     revocation.Index
	Sessions  session.Registry
	AccessTTL time.Duration
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Audit     audit.Sink
	Logger    zerolog.Logger
}

func (d LogoutDeps) family() familyDeps {
	return familyDeps{
		Store:     d.Store,
		Index:     d.Index,
		Sessions:  d.Sessions,
		AccessTTL: d.AccessTTL,
		Clock:     d.Clock,
		Metrics:   d.Metrics,
		Logger:    d.Logger,
	}
}

// LogoutResult identifies the closed session.
type LogoutResult struct {
	Principal string
	FamilyID  string
	Err       error
}

// RunRevokeSession closes the family the presented refresh token belongs to. It is
// idempotent: revoking an already closed family succeeds. Unknown tokens report
// record.ErrNotFound.
func RunRevokeSession(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	if !internal.WellFormedTokenID(refreshToken) {
		return LogoutResult{Err: record.ErrNotFound}
	}
	rec, err := deps.Store.FindByID(ctx, refreshToken)
	if err != nil {
		return LogoutResult{Err: err}
	}

	res := LogoutResult{Principal: rec.Principal, FamilyID: rec.FamilyID}
	res.Err = burnFamily(ctx, rec.Principal, rec.FamilyID, deps.family())
	if res.Err == nil {
		deps.Metrics.Inc(metrics.MetricSessionRevoked)
	}
	emit(ctx, deps.Audit, deps.Clock, audit.Event{
		EventType: audit.EventSessionRevoked,
		Principal: rec.Principal,
		FamilyID:  rec.FamilyID,
		Success:   res.Err == nil,
		Error:     errString(res.Err),
	})
	return res
}

// RunRevokeAllSessions closes every session family of principal and returns how many
// were live.
func RunRevokeAllSessions(ctx context.Context, principal string, deps LogoutDeps) (int, error) {
	entries, err := deps.Sessions.RevokeAll(ctx, principal)
	if err != nil {
		return 0, err
	}

	fdeps := deps.family()
	// Entries are already gone from the registry.
	fdeps.Sessions = nil

	var errs []error
	for _, e := range entries {
		if err := burnFamily(ctx, principal, e.FamilyID, fdeps); err != nil {
			errs = append(errs, err)
		}
	}

	deps.Metrics.Inc(metrics.MetricLogoutAll)
	joined := errors.Join(errs...)
	emit(ctx, deps.Audit, deps.Clock, audit.Event{
		EventType: audit.EventSessionsRevokedAll,
		Principal: principal,
		Success:   joined == nil,
		Error:     errString(joined),
		Metadata: map[string]string{
			"sessions": itoa(len(entries)),
		},
	})
	return len(entries), joined
}
