package record

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process [Store]. A single mutex serializes every mutation, which
// makes SetRevoked a true compare-and-set and keeps family tombstones consistent with
// concurrent saves.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]Record
	families   map[string]map[string]struct{}
	tombstones map[string]time.Time
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]Record),
		families:   make(map[string]map[string]struct{}),
		tombstones: make(map[string]time.Time),
	}
}

// Save inserts rec, revoking it when its family is tombstoned.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicateID
	}
	if horizon, revoked := s.tombstones[rec.FamilyID]; revoked {
		rec.Revoked = true
		if rec.ExpiresAt.After(horizon) {
			s.tombstones[rec.FamilyID] = rec.ExpiresAt
		}
	}

	s.records[rec.ID] = rec
	members, ok := s.families[rec.FamilyID]
	if !ok {
		members = make(map[string]struct{})
		s.families[rec.FamilyID] = members
	}
	members[rec.ID] = struct{}{}
	return nil
}

// FindByID returns a copy of the stored record.
func (s *MemoryStore) FindByID(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// SetRevoked performs the single-consumption transition.
func (s *MemoryStore) SetRevoked(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	s.records[id] = rec
	return true, nil
}

// RevokeFamily revokes all members and tombstones the family.
func (s *MemoryStore) RevokeFamily(_ context.Context, familyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := s.tombstones[familyID]
	transitioned := 0
	for id := range s.families[familyID] {
		rec := s.records[id]
		if rec.ExpiresAt.After(horizon) {
			horizon = rec.ExpiresAt
		}
		if rec.Revoked {
			continue
		}
		rec.Revoked = true
		s.records[id] = rec
		transitioned++
	}
	s.tombstones[familyID] = horizon
	return transitioned, nil
}

// FamilyMembers returns the family ordered by issuance.
func (s *MemoryStore) FamilyMembers(_ context.Context, familyID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.families[familyID]))
	for id := range s.families[familyID] {
		out = append(out, s.records[id])
	}
	sortByIssuance(out)
	return out, nil
}

// DeleteExpiredBefore drops expired records and tombstones whose members are all gone.
func (s *MemoryStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, rec := range s.records {
		if !rec.ExpiresAt.Before(cutoff) {
			continue
		}
		delete(s.records, id)
		if members, ok := s.families[rec.FamilyID]; ok {
			delete(members, id)
			if len(members) == 0 {
				delete(s.families, rec.FamilyID)
			}
		}
		deleted++
	}
	for familyID, horizon := range s.tombstones {
		if _, live := s.families[familyID]; !live && horizon.Before(cutoff) {
			delete(s.tombstones, familyID)
		}
	}
	return deleted, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func sortByIssuance(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].IssuedAt.Equal(recs[j].IssuedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].IssuedAt.Before(recs[j].IssuedAt)
	})
}
