package permission

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPolicy(t *testing.T) (*RoleManager, *Resolver) {
	t.Helper()
	reg := NewRegistry()
	for _, p := range []string{
		"profile:read", "profile:write",
		"orders:read", "orders:write",
		"billing:read",
	} {
		require.NoError(t, reg.Register(p))
	}
	reg.Freeze()

	rm := NewRoleManager(reg)
	require.NoError(t, rm.RegisterRole(Role{
		Name:        "USER",
		Permissions: []string{"profile:read", "profile:write", "orders:read"},
	}))
	require.NoError(t, rm.RegisterRole(Role{
		Name:            "ADMIN",
		Includes:        []string{"USER"},
		ElevatedActions: []string{"read", "write", "manage"},
	}))
	require.NoError(t, rm.RegisterRole(Role{
		Name:        "BILLING",
		Permissions: []string{"billing:read"},
	}))
	require.NoError(t, rm.Freeze())

	res, err := NewResolver(rm, 64)
	require.NoError(t, err)
	t.Cleanup(res.Close)
	return rm, res
}

func TestParsePermission(t *testing.T) {
	p, err := Parse("orders:write")
	require.NoError(t, err)
	require.Equal(t, Permission{Resource: "orders", Action: "write"}, p)

	for _, bad := range []string{"", "orders", ":write", "orders:", "a:b:c"} {
		_, err := Parse(bad)
		require.ErrorIsf(t, err, ErrInvalidPermission, "input %q", bad)
	}
}

func TestRegistryRejectsDuplicatesAndFrozenWrites(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("a:read"))
	require.ErrorIs(t, reg.Register("a:read"), ErrDuplicatePermission)
	reg.Freeze()
	require.ErrorIs(t, reg.Register("b:read"), ErrRegistryFrozen)
	require.Equal(t, []string{"a"}, reg.Resources())
	require.Equal(t, 1, reg.Count())
}

func TestRoleManagerValidation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("a:read"))
	rm := NewRoleManager(reg)

	require.Error(t, rm.RegisterRole(Role{Name: ""}))
	require.Error(t, rm.RegisterRole(Role{Name: "A,B"}))
	require.Error(t, rm.RegisterRole(Role{Name: "X", Permissions: []string{"nope:read"}}))
	require.NoError(t, rm.RegisterRole(Role{Name: "X", Includes: []string{"GHOST"}}))
	require.ErrorIs(t, rm.Freeze(), ErrUnknownRole)
}

func TestResolverRequiresFrozenRoles(t *testing.T) {
	rm := NewRoleManager(NewRegistry())
	_, err := NewResolver(rm, 0)
	require.ErrorIs(t, err, ErrNotFrozen)
}

func TestResolveEmptyAndUnknownRoles(t *testing.T) {
	_, res := newTestPolicy(t)
	require.Zero(t, res.Resolve(nil).Len())
	require.Zero(t, res.Resolve([]string{"GHOST"}).Len())
}

func TestResolveExpandsElevatedActionsOnEveryResource(t *testing.T) {
	_, res := newTestPolicy(t)
	admin := res.Resolve([]string{"ADMIN"})

	for _, resource := range []string{"profile", "orders", "billing"} {
		for _, action := range []string{"read", "write", "manage"} {
			require.Truef(t, admin.Has(resource+":"+action), "missing %s:%s", resource, action)
		}
	}
}

func TestAdminIsSupersetOfUser(t *testing.T) {
	_, res := newTestPolicy(t)
	user := res.Resolve([]string{"USER"})
	admin := res.Resolve([]string{"ADMIN"})

	require.True(t, admin.HasAll(user.List()...))
	require.Greater(t, admin.Len(), user.Len())
}

func TestResolveIsOrderInsensitiveAndDeterministic(t *testing.T) {
	_, res := newTestPolicy(t)
	a := res.Resolve([]string{"USER", "BILLING"})
	res.Wait()
	b := res.Resolve([]string{"BILLING", "USER", "USER"})
	require.Equal(t, a.List(), b.List())
	require.Equal(t, "BILLING,USER", CacheKey([]string{"USER", "BILLING", "USER"}))
	require.True(t, b.Has("billing:read"))
	require.False(t, b.Has("orders:write"))
}

func TestResolveIgnoresCommaJoinedRoleNames(t *testing.T) {
	_, res := newTestPolicy(t)

	require.Zero(t, res.Resolve([]string{"GUEST,ADMIN"}).Len())
	require.Zero(t, res.Resolve([]string{"ADMIN,USER"}).Len())

	mixed := res.Resolve([]string{"GUEST,ADMIN", "BILLING"})
	require.Equal(t, []string{"billing:read"}, mixed.List())
	require.False(t, mixed.Has("orders:manage"))

	require.Equal(t, "BILLING", CacheKey([]string{"GUEST,ADMIN", "BILLING"}))
	require.NotEqual(t, CacheKey([]string{"A,B"}), CacheKey([]string{"A", "B"}))
}

func TestResolveCacheIsNotSharedAcrossCommaVariants(t *testing.T) {
	_, res := newTestPolicy(t)

	admin := res.Resolve([]string{"ADMIN", "USER"})
	res.Wait()
	require.Greater(t, admin.Len(), 0)

	// A single name spelling the same key must not hit the cached entry.
	require.Zero(t, res.Resolve([]string{"ADMIN,USER"}).Len())
	require.Equal(t, admin.List(), res.Resolve([]string{"USER", "ADMIN"}).List())
}

func TestResolveConcurrent(t *testing.T) {
	_, res := newTestPolicy(t)
	want := res.Resolve([]string{"ADMIN"}).List()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := res.Resolve([]string{"ADMIN"}).List()
				if len(got) != len(want) {
					t.Errorf("resolve mismatch: got %d perms, want %d", len(got), len(want))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSetListIsACopy(t *testing.T) {
	s := NewSet("b:read", "a:read", "a:read")
	list := s.List()
	list[0] = "mutated"
	require.Equal(t, []string{"a:read", "b:read"}, s.List())
}
