package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var start = time.UnixMilli(1_700_000_000_000)

type registryFactory func(t *testing.T, cfg Config, clk clock.Clock) Registry

func newRedisRegistryTest(t *testing.T, cfg Config, clk clock.Clock) Registry {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisRegistry(rdb, "rs", cfg, clk)
}

func newMemoryRegistryTest(t *testing.T, cfg Config, clk clock.Clock) Registry {
	return NewMemoryRegistry(cfg, clk)
}

func entryAt(principal string, n int, issued time.Time) Entry {
	return Entry{
		Principal: principal,
		FamilyID:  fmt.Sprintf("fam-%d", n),
		TokenID:   fmt.Sprintf("tok-%d", n),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	}
}

func runRegistryContract(t *testing.T, factory registryFactory) {
	t.Run("DefaultLimitEvictsPrevious", func(t *testing.T) {
		clk := clock.NewManual(start)
		reg := factory(t, Config{}, clk)
		ctx := context.Background()

		evicted, err := reg.Register(ctx, entryAt("alice", 1, clk.Now()))
		require.NoError(t, err)
		require.Empty(t, evicted)

		clk.Advance(time.Second)
		evicted, err = reg.Register(ctx, entryAt("alice", 2, clk.Now()))
		require.NoError(t, err)
		require.Len(t, evicted, 1)
		require.Equal(t, "fam-1", evicted[0].FamilyID)
		require.Equal(t, "tok-1", evicted[0].TokenID)

		n, err := reg.Count(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("EvictsOldestLogin", func(t *testing.T) {
		clk := clock.NewManual(start)
		reg := factory(t, Config{MaxPerPrincipal: 2}, clk)
		ctx := context.Background()

		for i := 1; i <= 2; i++ {
			_, err := reg.Register(ctx, entryAt("bob", i, clk.Now()))
			require.NoError(t, err)
			clk.Advance(time.Second)
		}
		// Rotating the oldest session must not make it look young.
		require.NoError(t, reg.Replace(ctx, "bob", "fam-1", "tok-1", "tok-1b", clk.Now().Add(time.Hour)))

		evicted, err := reg.Register(ctx, entryAt("bob", 3, clk.Now()))
		require.NoError(t, err)
		require.Len(t, evicted, 1)
		require.Equal(t, "fam-1", evicted[0].FamilyID)
		require.Equal(t, "tok-1b", evicted[0].TokenID)

		live, err := reg.List(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, live, 2)
		require.Equal(t, "fam-2", live[0].FamilyID)
		require.Equal(t, "fam-3", live[1].FamilyID)
	})

	t.Run("ExpiredEntriesDoNotCount", func(t *testing.T) {
		clk := clock.NewManual(start)
		reg := factory(t, Config{MaxPerPrincipal: 1}, clk)
		ctx := context.Background()

		_, err := reg.Register(ctx, entryAt("carol", 1, clk.Now()))
		require.NoError(t, err)
		clk.Advance(2 * time.Hour)

		n, err := reg.Count(ctx, "carol")
		require.NoError(t, err)
		require.Zero(t, n)

		evicted, err := reg.Register(ctx, entryAt("carol", 2, clk.Now()))
		require.NoError(t, err)
		require.Empty(t, evicted)
	})

	t.Run("RejectNewPolicy", func(t *testing.T) {
		clk := clock.NewManual(start)
		reg := factory(t, Config{MaxPerPrincipal: 1, Overflow: RejectNew}, clk)
		ctx := context.Background()

		_, err := reg.Register(ctx, entryAt("dave", 1, clk.Now()))
		require.NoError(t, err)
		_, err = reg.Register(ctx, entryAt("dave", 2, clk.Now()))
		require.ErrorIs(t, err, ErrSessionLimitExceeded)

		live, err := reg.List(ctx, "dave")
		require.NoError(t, err)
		require.Len(t, live, 1)
		require.Equal(t, "fam-1", live[0].FamilyID)
	})

	t.Run("ReplaceRequiresCurrentToken", func(t *testing.T) {
		clk := clock.NewManual(start)
		reg := factory(t, Config{MaxPerPrincipal: 3}, clk)
		ctx := context.Background()

		_, err := reg.Register(ctx, entryAt("erin", 1, clk.Now()))
		require.NoError(t, err)

		require.NoError(t, reg.Replace(ctx, "erin", "fam-1", "tok-1", "tok-2", clk.Now().Add(2*time.Hour)))
		require.ErrorIs(t, reg.Replace(ctx, "erin", "fam-1", "tok-1", "tok-3", clk.Now().Add(2*time.Hour)), ErrSessionNotFound)
		require.ErrorIs(t, reg.Replace(ctx, "erin", "fam-x", "tok-2", "tok-3", clk.Now().Add(2*time.Hour)), ErrSessionNotFound)

		live, err := reg.List(ctx, "erin")
		require.NoError(t, err)
		require.Len(t, live, 1)
		require.Equal(t, "tok-2", live[0].TokenID)
		require.True(t, live[0].IssuedAt.Equal(start))
		require.True(t, live[0].ExpiresAt.Equal(start.Add(2*time.Hour)))
	})

	t.Run("ReplaceTreatsExpiredEntryAsMissing", func(t *testing.T) {
		clk := clock.NewManual(start)
		reg := factory(t, Config{MaxPerPrincipal: 3}, clk)
		ctx := context.Background()

		_, err := reg.Register(ctx, entryAt("erin", 1, clk.Now()))
		require.NoError(t, err)

		clk.Advance(time.Hour)
		err = reg.Replace(ctx, "erin", "fam-1", "tok-1", "tok-2", clk.Now().Add(time.Hour))
		require.ErrorIs(t, err, ErrSessionNotFound)

		n, err := reg.Count(ctx, "erin")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("RevokeVariants", func(t *testing.T) {
		clk := clock.NewManual(start)
		reg := factory(t, Config{MaxPerPrincipal: 5}, clk)
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			_, err := reg.Register(ctx, entryAt("frank", i, clk.Now().Add(time.Duration(i)*time.Millisecond)))
			require.NoError(t, err)
		}

		require.NoError(t, reg.Revoke(ctx, "frank", "tok-1"))
		require.NoError(t, reg.Revoke(ctx, "frank", "tok-1"))
		require.NoError(t, reg.RevokeFamily(ctx, "frank", "fam-2"))

		n, err := reg.Count(ctx, "frank")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		removed, err := reg.RevokeAll(ctx, "frank")
		require.NoError(t, err)
		require.Len(t, removed, 1)
		require.Equal(t, "fam-3", removed[0].FamilyID)

		n, err = reg.Count(ctx, "frank")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("BoundHoldsUnderConcurrentLogins", func(t *testing.T) {
		clk := clock.NewManual(start)
		const limit = 3
		reg := factory(t, Config{MaxPerPrincipal: limit}, clk)
		ctx := context.Background()

		const logins = 24
		var wg sync.WaitGroup
		var mu sync.Mutex
		evictedTotal := 0
		begin := make(chan struct{})
		for i := 0; i < logins; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-begin
				evicted, err := reg.Register(ctx, entryAt("grace", i, start.Add(time.Duration(i)*time.Millisecond)))
				if err != nil {
					t.Errorf("register: %v", err)
					return
				}
				mu.Lock()
				evictedTotal += len(evicted)
				mu.Unlock()
			}(i)
		}
		close(begin)
		wg.Wait()

		n, err := reg.Count(ctx, "grace")
		require.NoError(t, err)
		require.Equal(t, limit, n)
		require.Equal(t, logins-limit, evictedTotal)
	})
}

func TestMemoryRegistryContract(t *testing.T) {
	runRegistryContract(t, newMemoryRegistryTest)
}

func TestRedisRegistryContract(t *testing.T) {
	runRegistryContract(t, newRedisRegistryTest)
}

func TestOverflowPolicyString(t *testing.T) {
	require.Equal(t, "evict_oldest", EvictOldest.String())
	require.Equal(t, "reject_new", RejectNew.String())
}
