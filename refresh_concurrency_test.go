package goRotate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcurrentRotationSingleWinner(t *testing.T) {
	const racers = 16

	forEachBackend(t, func(t *testing.T, backend string) {
		env := newTestEnv(t, backend, nil, nil)
		ctx := context.Background()

		pair, err := env.engine.IssueForLogin(ctx, "alice")
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			outcomes = make([]RotationOutcome, racers)
			errs     = make([]error, racers)
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				outcomes[i], errs[i] = env.engine.Rotate(ctx, pair.RefreshToken)
			}(i)
		}
		close(start)
		wg.Wait()

		var (
			winners []*IssuedPair
			reused  int
		)
		for i := 0; i < racers; i++ {
			require.NoError(t, errs[i])
			switch {
			case outcomes[i].OK():
				winners = append(winners, outcomes[i].Pair)
			case outcomes[i].Rejected.Reason == RejectReuseDetected:
				reused++
			default:
				t.Fatalf("unexpected outcome %+v", outcomes[i].Rejected)
			}
		}
		require.Len(t, winners, 1)
		require.Equal(t, racers-1, reused)

		// The race itself is reuse: the winner's family is closed.
		_, err = env.engine.ValidateAccess(ctx, winners[0].AccessToken)
		require.ErrorIs(t, err, ErrUnauthorized)
		out, err := env.engine.Rotate(ctx, winners[0].RefreshToken)
		requireRejected(t, out, err, RejectReuseDetected)

		n, err := env.engine.SessionCount(ctx, "alice")
		require.NoError(t, err)
		require.Zero(t, n)

		require.EqualValues(t, 1, env.engine.MetricsSnapshot().Counters[MetricRefreshSuccess])
	})
}

func TestConcurrentLoginsRespectSessionCap(t *testing.T) {
	const logins = 12

	forEachBackend(t, func(t *testing.T, backend string) {
		env := newTestEnv(t, backend, nil, nil)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, logins)
		for i := 0; i < logins; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.engine.IssueForLogin(ctx, "alice")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		n, err := env.engine.SessionCount(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.EqualValues(t, logins-2, env.engine.MetricsSnapshot().Counters[MetricSessionEvicted])
	})
}
