package goRotate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goRotate/record"
)

func TestRotationChainIntegrity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		env := newTestEnv(t, backend, nil, nil)
		ctx := context.Background()

		pair, err := env.engine.IssueForLogin(ctx, "alice")
		require.NoError(t, err)
		familyID := pair.Record.FamilyID

		current := pair
		for i := 0; i < 5; i++ {
			env.clk.Advance(time.Second)
			out, err := env.engine.Rotate(ctx, current.RefreshToken)
			require.NoError(t, err)
			require.True(t, out.OK())
			current = *out.Pair
		}

		members, err := env.engine.store.FamilyMembers(ctx, familyID)
		require.NoError(t, err)
		require.Len(t, members, 6)

		require.True(t, members[0].IsRoot())
		for i, m := range members {
			require.Equal(t, familyID, m.FamilyID)
			require.Equal(t, "alice", m.Principal)
			if i == 0 {
				continue
			}
			prev := members[i-1]
			require.Equal(t, prev.ID, m.PreviousID)
			require.True(t, m.IssuedAt.After(prev.IssuedAt))
			require.False(t, m.ExpiresAt.Before(prev.ExpiresAt))
			require.True(t, prev.Revoked, "consumed member %d must be revoked", i-1)
		}
		require.False(t, members[5].Revoked)
		require.Equal(t, current.RefreshToken, members[5].ID)
	})
}

func TestRevokedFamilyStaysClosed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		env := newTestEnv(t, backend, nil, nil)
		ctx := context.Background()

		pair, err := env.engine.IssueForLogin(ctx, "alice")
		require.NoError(t, err)
		out, err := env.engine.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)

		out, err = env.engine.Rotate(ctx, pair.RefreshToken)
		requireRejected(t, out, err, RejectReuseDetected)

		members, err := env.engine.store.FamilyMembers(ctx, pair.Record.FamilyID)
		require.NoError(t, err)
		for _, m := range members {
			require.True(t, m.Revoked)
		}

		// A late save into the family is stored revoked.
		env.clk.Advance(time.Second)
		late := record.Record{
			ID:         "late-member-00000000000000000000000000000",
			FamilyID:   pair.Record.FamilyID,
			PreviousID: members[len(members)-1].ID,
			Principal:  "alice",
			IssuedAt:   env.clk.Now(),
			ExpiresAt:  env.clk.Now().Add(time.Hour),
		}
		require.NoError(t, env.engine.store.Save(ctx, late))
		got, err := env.engine.store.FindByID(ctx, late.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)
	})
}

func TestExpiredTokenIsNeverConsumed(t *testing.T) {
	env := newTestEnv(t, "memory", nil, nil)
	ctx := context.Background()

	pair, err := env.engine.IssueForLogin(ctx, "alice")
	require.NoError(t, err)

	env.clk.Set(pair.Record.ExpiresAt)
	out, err := env.engine.Rotate(ctx, pair.RefreshToken)
	requireRejected(t, out, err, RejectExpired)

	got, err := env.engine.store.FindByID(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.False(t, got.Revoked)
}

func TestPermissionResolutionIsDeterministic(t *testing.T) {
	env := newTestEnv(t, "memory", nil, nil)

	user := env.engine.ResolvePermissions("USER")
	admin := env.engine.ResolvePermissions("ADMIN")
	require.Subset(t, admin, user)

	for i := 0; i < 10; i++ {
		require.Equal(t, admin, env.engine.ResolvePermissions("ADMIN"))
	}
	require.Equal(t, env.engine.ResolvePermissions("USER", "ADMIN"), env.engine.ResolvePermissions("ADMIN", "USER"))
	require.Equal(t, admin, env.engine.ResolvePermissions("ADMIN", "ADMIN", "USER"))
	require.Equal(t, []string{"profile:read", "users:manage", "users:read"}, admin)
}

func TestAccessTokenCarriesPermissionsAtIssue(t *testing.T) {
	env := newTestEnv(t, "memory", nil, nil)
	ctx := context.Background()

	pair, err := env.engine.IssueForLogin(ctx, "alice")
	require.NoError(t, err)

	auth, err := env.engine.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.True(t, auth.Can("profile:read"))
	require.False(t, auth.Can("users:manage"))
	require.False(t, auth.Can("profile:read", "users:manage"))
}
