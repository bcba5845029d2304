package record

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("refresh record not found")
	// ErrDuplicateID is returned by Save when the id is already stored.
	ErrDuplicateID = errors.New("refresh record id already exists")
	// ErrInvalidRecord is returned by Save for records violating the model invariants.
	ErrInvalidRecord = errors.New("invalid refresh record")
	// ErrStoreUnavailable wraps backend failures (network, driver, script errors).
	ErrStoreUnavailable = errors.New("refresh record store unavailable")
)

// Record is the server-side state of one refresh token.
//
// PreviousID is empty for the root of a family. ID is the opaque value handed to the
// client, so it never carries principal or family information itself.
type Record struct {
	ID         string
	FamilyID   string
	PreviousID string
	Principal  string
	Revoked    bool
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Validate checks the structural invariants every stored record must hold.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty id"))
	case r.FamilyID == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty family id"))
	case r.Principal == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty principal"))
	case r.PreviousID == r.ID:
		return errors.Join(ErrInvalidRecord, errors.New("record cannot precede itself"))
	case !r.ExpiresAt.After(r.IssuedAt):
		return errors.Join(ErrInvalidRecord, errors.New("expiry must be after issuance"))
	}
	return nil
}

// ExpiredAt reports whether the record is expired at now. The expiry instant itself
// counts as expired.
func (r Record) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsRoot reports whether the record starts its family chain.
func (r Record) IsRoot() bool {
	return r.PreviousID == ""
}

// Store persists refresh records.
//
// SetRevoked is the single-consumption primitive: across any number of concurrent
// callers presenting the same id, at most one observes true. Implementations must make
// that guarantee without relying on callers to serialize.
type Store interface {
	// Save inserts a new record. A record whose family has been revoked is stored revoked.
	Save(ctx context.Context, rec Record) error
	// FindByID returns the record for id or ErrNotFound.
	FindByID(ctx context.Context, id string) (Record, error)
	// SetRevoked flips Revoked from false to true. It reports false when the record was
	// already revoked and ErrNotFound when it does not exist.
	SetRevoked(ctx context.Context, id string) (bool, error)
	// RevokeFamily revokes every member of the family, marks the family so later saves
	// are revoked, and returns the number of records that transitioned.
	RevokeFamily(ctx context.Context, familyID string) (int, error)
	// FamilyMembers returns the family's records ordered by IssuedAt.
	FamilyMembers(ctx context.Context, familyID string) ([]Record, error)
	// DeleteExpiredBefore removes records whose ExpiresAt is before cutoff and returns
	// how many were removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
