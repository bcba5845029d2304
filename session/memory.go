package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goRotate/clock"
)

// MemoryRegistry is an in-process [Registry] guarded by one mutex.
type MemoryRegistry struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string][]Entry
}

// NewMemoryRegistry returns an empty [MemoryRegistry].
func NewMemoryRegistry(cfg Config, clk clock.Clock) *MemoryRegistry {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryRegistry{
		cfg:      cfg,
		clock:    clk,
		sessions: make(map[string][]Entry),
	}
}

// Register purges, evicts or rejects, then inserts.
func (r *MemoryRegistry) Register(_ context.Context, entry Entry) ([]Entry, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.purgeLocked(entry.Principal, now)
	limit := r.cfg.limit()

	var evicted []Entry
	if len(live) >= limit {
		if r.cfg.Overflow == RejectNew {
			return nil, ErrSessionLimitExceeded
		}
		cut := len(live) - limit + 1
		evicted = append(evicted, live[:cut]...)
		live = append([]Entry(nil), live[cut:]...)
	}

	live = append(live, entry)
	sortOldestFirst(live)
	r.sessions[entry.Principal] = live
	return evicted, nil
}

// Replace moves the family's entry to newTokenID. An expired entry counts as missing.
func (r *MemoryRegistry) Replace(_ context.Context, principal, familyID, oldTokenID, newTokenID string, expiresAt time.Time) error {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sessions[principal]
	for i := range entries {
		if entries[i].FamilyID != familyID {
			continue
		}
		if entries[i].TokenID != oldTokenID || !entries[i].LiveAt(now) {
			return ErrSessionNotFound
		}
		entries[i].TokenID = newTokenID
		entries[i].ExpiresAt = expiresAt
		return nil
	}
	return ErrSessionNotFound
}

// Revoke drops the entry holding tokenID.
func (r *MemoryRegistry) Revoke(_ context.Context, principal, tokenID string) error {
	r.removeWhere(principal, func(e Entry) bool { return e.TokenID == tokenID })
	return nil
}

// RevokeFamily drops the family's entry.
func (r *MemoryRegistry) RevokeFamily(_ context.Context, principal, familyID string) error {
	r.removeWhere(principal, func(e Entry) bool { return e.FamilyID == familyID })
	return nil
}

// RevokeAll drops every entry of principal.
func (r *MemoryRegistry) RevokeAll(_ context.Context, principal string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.sessions[principal]
	delete(r.sessions, principal)
	return removed, nil
}

// List returns live entries oldest first.
func (r *MemoryRegistry) List(_ context.Context, principal string) ([]Entry, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.purgeLocked(principal, now)
	return append([]Entry(nil), live...), nil
}

// Count returns the number of live entries.
func (r *MemoryRegistry) Count(ctx context.Context, principal string) (int, error) {
	live, err := r.List(ctx, principal)
	return len(live), err
}

func (r *MemoryRegistry) purgeLocked(principal string, now time.Time) []Entry {
	entries := r.sessions[principal]
	live := entries[:0]
	for _, e := range entries {
		if e.LiveAt(now) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		delete(r.sessions, principal)
		return nil
	}
	r.sessions[principal] = live
	return live
}

func (r *MemoryRegistry) removeWhere(principal string, match func(Entry) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sessions[principal]
	kept := entries[:0]
	for _, e := range entries {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.sessions, principal)
		return
	}
	r.sessions[principal] = kept
}

func sortOldestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].IssuedAt.Before(entries[j].IssuedAt)
	})
}
