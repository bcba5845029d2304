package record

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStoreTest(t *testing.T, retention time.Duration) (*RedisStore, *miniredis.Miniredis) {
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
	return NewRedisStore(rdb, "rt", retention), mr
}

func TestRedisStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newRedisStoreTest(t, 0)
		return s
	})
}

func TestRedisStoreSweepBatches(t *testing.T) {
	s, mr := newRedisStoreTest(t, 0)
	s.sweepBatch = 3
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		rec := testRecord(string(rune('a'+i)), "fam", "", base)
		require.NoError(t, s.Save(ctx, rec))
	}

	n, err := s.DeleteExpiredBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.False(t, mr.Exists("rt:f:fam"))
}

func TestRedisStoreRetentionSetsKeyExpiry(t *testing.T) {
	s, mr := newRedisStoreTest(t, 24*time.Hour)
	mr.SetTime(base)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, testRecord("r1", "fam", "", base)))
	_, err := s.RevokeFamily(ctx, "fam")
	require.NoError(t, err)

	require.Positive(t, mr.TTL("rt:r:r1"))
	require.Positive(t, mr.TTL("rt:ft:fam"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newRedisStoreTest(t, 0)
	mr.SetError("ERR injected failure")

	_, err := s.FindByID(context.Background(), "r1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = s.SetRevoked(context.Background(), "r1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}
