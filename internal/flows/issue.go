package flows

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/MrEthical07/goRotate/internal"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/record"
)

var (
	errNoSigner     = errors.New("access signer not configured")
	errNoRefreshTTL = errors.New("refresh ttl must be > 0")
)

// AccessSigner signs access tokens. *jwt.Manager satisfies it.
type AccessSigner interface {
	CreateAccess(in jwt.AccessInput) (string, time.Time, error)
}

// IssuedPair is one access/refresh credential pair plus the record backing the refresh half.
type IssuedPair struct {
	AccessToken     string
	AccessJTI       string
	AccessExpiresAt time.Time
	RefreshToken    string
	Permissions     []string
	Record          record.Record
}

// Issuer mints credential pairs. It does not persist anything.
type Issuer struct {
	Signer     AccessSigner
	RefreshTTL time.Duration
	Clock      clock.Clock

	NewTokenID  func() (string, error)
	NewFamilyID func() (string, error)
	NewJTI      func() (string, error)
}

// NewIssuer returns an Issuer using the default random id sources.
func NewIssuer(signer AccessSigner, refreshTTL time.Duration, clk clock.Clock) *Issuer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Issuer{
		Signer:      signer,
		RefreshTTL:  refreshTTL,
		Clock:       clk,
		NewTokenID:  internal.NewTokenID,
		NewFamilyID: internal.NewFamilyID,
		NewJTI:      internal.NewJTI,
	}
}

// Issue mints a pair for principal. An empty familyID starts a new family (login);
// rotation passes the existing family and the id of the consumed predecessor.
func (i *Issuer) Issue(principal string, permissions []string, familyID, previousID string) (IssuedPair, error) {
	if i == nil || i.Signer == nil {
		return IssuedPair{}, errNoSigner
	}
	if i.RefreshTTL <= 0 {
		return IssuedPair{}, errNoRefreshTTL
	}

	if familyID == "" {
		fid, err := i.NewFamilyID()
		if err != nil {
			return IssuedPair{}, fmt.Errorf("family id: %w", err)
		}
		familyID = fid
	}

	tokenID, err := i.NewTokenID()
	if err != nil {
		return IssuedPair{}, fmt.Errorf("refresh token id: %w", err)
	}
	jti, err := i.NewJTI()
	if err != nil {
		return IssuedPair{}, fmt.Errorf("access jti: %w", err)
	}

	perms := append([]string(nil), permissions...)
	sort.Strings(perms)

	access, accessExp, err := i.Signer.CreateAccess(jwt.AccessInput{
		Principal:   principal,
		JTI:         jti,
		FamilyID:    familyID,
		Permissions: perms,
	})
	if err != nil {
		return IssuedPair{}, err
	}

	now := i.Clock.Now()
	rec := record.Record{
		ID:         tokenID,
		FamilyID:   familyID,
		PreviousID: previousID,
		Principal:  principal,
		IssuedAt:   now,
		ExpiresAt:  now.Add(i.RefreshTTL),
	}
	if err := rec.Validate(); err != nil {
		return IssuedPair{}, err
	}

	return IssuedPair{
		AccessToken:     access,
		AccessJTI:       jti,
		AccessExpiresAt: accessExp,
		RefreshToken:    tokenID,
		Permissions:     perms,
		Record:          rec,
	}, nil
}
