package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// base is millisecond aligned so Redis round-trips compare equal.
var base = time.UnixMilli(1_700_000_000_000)

func testRecord(id, family, prev string, issued time.Time) Record {
	return Record{
		ID:         id,
		FamilyID:   family,
		PreviousID: prev,
		Principal:  "user-1",
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(time.Hour),
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveFindRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := testRecord("r1", "f1", "", base)
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.FindByID(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, rec.ID, got.ID)
		require.Equal(t, rec.FamilyID, got.FamilyID)
		require.Equal(t, rec.Principal, got.Principal)
		require.True(t, got.IsRoot())
		require.False(t, got.Revoked)
		require.True(t, rec.IssuedAt.Equal(got.IssuedAt))
		require.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("DuplicateIDRejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, testRecord("dup", "f1", "", base)))
		err := s.Save(ctx, testRecord("dup", "f2", "", base))
		require.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("InvalidRecordRejected", func(t *testing.T) {
		s := newStore(t)
		rec := testRecord("bad", "f1", "", base)
		rec.ExpiresAt = rec.IssuedAt
		require.ErrorIs(t, s.Save(context.Background(), rec), ErrInvalidRecord)
	})

	t.Run("UnknownID", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByID(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.SetRevoked(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetRevokedIsMonotonic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, testRecord("r1", "f1", "", base)))

		ok, err := s.SetRevoked(ctx, "r1")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.SetRevoked(ctx, "r1")
		require.NoError(t, err)
		require.False(t, ok)

		got, err := s.FindByID(ctx, "r1")
		require.NoError(t, err)
		require.True(t, got.Revoked)
	})

	t.Run("SetRevokedExactlyOnceUnderContention", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, testRecord("hot", "f1", "", base)))

		const workers = 32
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := s.SetRevoked(ctx, "hot")
				if err != nil {
					t.Errorf("set revoked: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})

	t.Run("RevokeFamilyIsStickyForLaterSaves", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, testRecord("a", "fam", "", base)))
		require.NoError(t, s.Save(ctx, testRecord("b", "fam", "a", base.Add(time.Second))))
		require.NoError(t, s.Save(ctx, testRecord("other", "fam2", "", base)))

		n, err := s.RevokeFamily(ctx, "fam")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		n, err = s.RevokeFamily(ctx, "fam")
		require.NoError(t, err)
		require.Zero(t, n)

		require.NoError(t, s.Save(ctx, testRecord("c", "fam", "b", base.Add(2*time.Second))))
		members, err := s.FamilyMembers(ctx, "fam")
		require.NoError(t, err)
		require.Len(t, members, 3)
		for _, m := range members {
			require.Truef(t, m.Revoked, "member %s should be revoked", m.ID)
		}

		untouched, err := s.FindByID(ctx, "other")
		require.NoError(t, err)
		require.False(t, untouched.Revoked)
	})

	t.Run("FamilyMembersOrderedByIssuance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		prev := ""
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("n%d", i)
			require.NoError(t, s.Save(ctx, testRecord(id, "chain", prev, base.Add(time.Duration(i)*time.Minute))))
			prev = id
		}
		members, err := s.FamilyMembers(ctx, "chain")
		require.NoError(t, err)
		require.Len(t, members, 4)
		require.True(t, members[0].IsRoot())
		for i := 1; i < len(members); i++ {
			require.Equal(t, members[i-1].ID, members[i].PreviousID)
		}
	})

	t.Run("DeleteExpiredBefore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, testRecord("old", "f-old", "", base)))
		require.NoError(t, s.Save(ctx, testRecord("new", "f-new", "", base.Add(3*time.Hour))))
		_, err := s.RevokeFamily(ctx, "f-old")
		require.NoError(t, err)

		n, err := s.DeleteExpiredBefore(ctx, base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = s.FindByID(ctx, "old")
		require.True(t, errors.Is(err, ErrNotFound))
		_, err = s.FindByID(ctx, "new")
		require.NoError(t, err)

		// The tombstone goes with its last member, so the family id can be reused.
		require.NoError(t, s.Save(ctx, testRecord("reborn", "f-old", "", base.Add(3*time.Hour))))
		got, err := s.FindByID(ctx, "reborn")
		require.NoError(t, err)
		require.False(t, got.Revoked)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestRecordValidate(t *testing.T) {
	ok := testRecord("id", "fam", "", base)
	require.NoError(t, ok.Validate())

	self := ok
	self.PreviousID = "id"
	require.ErrorIs(t, self.Validate(), ErrInvalidRecord)

	noPrincipal := ok
	noPrincipal.Principal = ""
	require.ErrorIs(t, noPrincipal.Validate(), ErrInvalidRecord)
}

func TestRecordExpiredAtBoundary(t *testing.T) {
	rec := testRecord("id", "fam", "", base)
	require.False(t, rec.ExpiredAt(rec.ExpiresAt.Add(-time.Millisecond)))
	require.True(t, rec.ExpiredAt(rec.ExpiresAt))
}
