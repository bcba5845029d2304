package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrNotFrozen is returned by NewResolver when the role manager is still mutable.
var ErrNotFrozen = errors.New("role manager not frozen")

const defaultCacheSize = 1024

// Set is an immutable, sorted, duplicate-free permission list.
type Set struct {
	names []string
}

// NewSet builds a Set from arbitrary names.
func NewSet(names ...string) Set {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return Set{names: sortedKeys(set)}
}

// Has reports whether perm is in the set.
func (s Set) Has(perm string) bool {
	i := sort.SearchStrings(s.names, perm)
	return i < len(s.names) && s.names[i] == perm
}

// HasAll reports whether every perm is in the set.
func (s Set) HasAll(perms ...string) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Len returns the number of permissions.
func (s Set) Len() int { return len(s.names) }

// List returns a copy of the sorted names.
func (s Set) List() []string {
	return append([]string(nil), s.names...)
}

// Resolver turns role lists into permission sets, memoizing by role combination.
type Resolver struct {
	roles *RoleManager
	cache *ristretto.Cache[string, []string]
}

// NewResolver creates a [Resolver] over a frozen role manager. cacheSize bounds the
// number of distinct role combinations kept; non-positive selects a default.
func NewResolver(roles *RoleManager, cacheSize int64) (*Resolver, error) {
	if roles == nil || !roles.Frozen() {
		return nil, ErrNotFrozen
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []string]{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize permission cache: %w", err)
	}

	return &Resolver{roles: roles, cache: cache}, nil
}

// CacheKey is the canonical key for a role list: sorted, deduplicated, comma-joined.
// Names that are empty or contain a comma can never be registered and are skipped.
func CacheKey(roles []string) string {
	return strings.Join(canonicalRoles(roles, nil), ",")
}

// canonicalRoles sorts and deduplicates roles, dropping names that cannot be registered.
// When known is non-nil, names it rejects are dropped as well.
func canonicalRoles(roles []string, known func(string) bool) []string {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r == "" || strings.Contains(r, ",") {
			continue
		}
		if known != nil && !known(r) {
			continue
		}
		set[r] = struct{}{}
	}
	return sortedKeys(set)
}

// Resolve returns the union of the roles' expansions. Empty input yields an empty set;
// unknown roles contribute nothing.
func (r *Resolver) Resolve(roles []string) Set {
	expansions := make(map[string][]string, len(roles))
	names := canonicalRoles(roles, func(name string) bool {
		perms, ok := r.roles.Expand(name)
		if ok {
			expansions[name] = perms
		}
		return ok
	})
	if len(names) == 0 {
		return Set{}
	}

	key := strings.Join(names, ",")
	if cached, ok := r.cache.Get(key); ok {
		return Set{names: cached}
	}

	union := make(map[string]struct{})
	for _, name := range names {
		for _, p := range expansions[name] {
			union[p] = struct{}{}
		}
	}
	perms := sortedKeys(union)
	r.cache.Set(key, perms, 1)
	return Set{names: perms}
}

// Wait blocks until pending cache writes are applied.
func (r *Resolver) Wait() {
	r.cache.Wait()
}

// Close releases the cache.
func (r *Resolver) Close() {
	r.cache.Close()
}
