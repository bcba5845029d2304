package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

const tokenIDRawSize = 32

// tokenIDEncodedLen is base64url without padding of tokenIDRawSize bytes.
var tokenIDEncodedLen = base64.RawURLEncoding.EncodedLen(tokenIDRawSize)

// NewTokenID returns an opaque refresh-token id: 32 random bytes, base64url, no
// padding. The value carries no principal or family information.
func NewTokenID() (string, error) {
	var raw [tokenIDRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// WellFormedTokenID reports whether s could have been produced by NewTokenID. Callers
// use it to reject garbage before touching a store.
func WellFormedTokenID(s string) bool {
	if len(s) != tokenIDEncodedLen {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(raw) == tokenIDRawSize
}

// NewFamilyID returns a fresh rotation family id.
func NewFamilyID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate family id: %w", err)
	}
	return id.String(), nil
}

// NewJTI returns a fresh access-token id. Version 7 keeps ids time ordered.
func NewJTI() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	return id.String(), nil
}
