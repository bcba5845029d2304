package flows

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/metrics"
	"github.com/MrEthical07/goRotate/record"
	"github.com/MrEthical07/goRotate/revocation"
	"github.com/MrEthical07/goRotate/session"
)

type familyDeps struct {
	Store     record.Store
	Index     revocation.Index
	Sessions  session.Registry
	AccessTTL time.Duration
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// burnFamily closes a family everywhere it is tracked: every refresh record, every
// access token still in flight (via the revocation index) and the session entry.
// All three steps run even when an earlier one fails; the first error is returned.
func burnFamily(ctx context.Context, principal, familyID string, deps familyDeps) error {
	var errs []error

	n, err := deps.Store.RevokeFamily(ctx, familyID)
	if err != nil {
		errs = append(errs, err)
		deps.Logger.Error().Err(err).Str("family_id", familyID).Msg("family revocation failed")
	} else if n > 0 {
		deps.Metrics.Inc(metrics.MetricFamilyRevoked)
	}

	if deps.Index != nil {
		until := deps.Clock.Now().Add(deps.AccessTTL)
		if err := deps.Index.MarkRevoked(ctx, familyID, until); err != nil {
			errs = append(errs, err)
			deps.Logger.Error().Err(err).Str("family_id", familyID).Msg("revocation index update failed")
		}
	}

	if deps.Sessions != nil && principal != "" {
		if err := deps.Sessions.RevokeFamily(ctx, principal, familyID); err != nil {
			errs = append(errs, err)
			deps.Logger.Error().Err(err).Str("family_id", familyID).Msg("session removal failed")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

func emit(ctx context.Context, sink audit.Sink, clk clock.Clock, event audit.Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = clk.Now()
	}
	sink.Emit(ctx, event)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsStoreFailure reports whether err came from a backing store rather than from
// the token state itself.
func IsStoreFailure(err error) bool {
	return errors.Is(err, record.ErrStoreUnavailable) ||
		errors.Is(err, session.ErrRedisUnavailable) ||
		errors.Is(err, revocation.ErrIndexUnavailable)
}
