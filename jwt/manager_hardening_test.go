package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goRotate/clock"
	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func testInput() AccessInput {
	return AccessInput{
		Principal:   "user-1",
		JTI:         "jti-1",
		FamilyID:    "fam-1",
		Permissions: []string{"orders:read", "profile:read"},
	}
}

func TestCreateAndParseRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	clk := clock.NewManual(time.Now())
	m, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "gorotate",
		KeyID:         "k1",
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, exp, err := m.CreateAccess(testInput())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if !exp.Equal(clk.Now().Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "user-1" || claims.ID != "jti-1" || claims.FamilyID != "fam-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[0] != "orders:read" {
		t.Fatalf("unexpected permissions: %v", claims.Permissions)
	}

	clk.Advance(6 * time.Minute)
	if _, err := m.ParseAccess(token); !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{FamilyID: "f1", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u",
		ID:        "j",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessRequiresRotationClaims(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: secret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	noFamily := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u",
		ID:        "j",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, noFamily).SignedString(secret)
	if _, err := m.ParseAccess(token); !errors.Is(err, gjwt.ErrTokenInvalidClaims) {
		t.Fatalf("expected invalid claims, got %v", err)
	}

	noExpiry := AccessClaims{FamilyID: "f", RegisteredClaims: gjwt.RegisteredClaims{Subject: "u", ID: "j"}}
	token, _ = gjwt.NewWithClaims(gjwt.SigningMethodHS256, noExpiry).SignedString(secret)
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestParseAccessIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "gorotate",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess(testInput())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	sign := func(c AccessClaims) string {
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := func(iss, aud string, exp time.Time) AccessClaims {
		return AccessClaims{FamilyID: "f", RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u",
			ID:        "j",
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			ExpiresAt: gjwt.NewNumericDate(exp),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
	}

	if _, err := m.ParseAccess(sign(base("other", "api", time.Now().Add(time.Minute)))); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.ParseAccess(sign(base("gorotate", "other-api", time.Now().Add(time.Minute)))); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
	if _, err := m.ParseAccess(sign(base("gorotate", "api", time.Now().Add(-15*time.Second)))); err != nil {
		t.Fatalf("expected token within leeway to parse: %v", err)
	}
	if _, err := m.ParseAccess(sign(base("gorotate", "api", time.Now().Add(-45*time.Second)))); err == nil {
		t.Fatal("expected token beyond leeway to fail")
	}
}

func TestKeyRotationVerifyKeys(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	oldSigner, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: oldPriv, PublicKey: oldPub, KeyID: "old"})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	verifier, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "new",
		VerifyKeys:    map[string][]byte{"old": oldPub, "new": newPub},
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	oldToken, _, err := oldSigner.CreateAccess(testInput())
	if err != nil {
		t.Fatalf("create old: %v", err)
	}
	if _, err := verifier.ParseAccess(oldToken); err != nil {
		t.Fatalf("expected old-key token to verify: %v", err)
	}
	newToken, _, err := verifier.CreateAccess(testInput())
	if err != nil {
		t.Fatalf("create new: %v", err)
	}
	if _, err := verifier.ParseAccess(newToken); err != nil {
		t.Fatalf("expected new-key token to verify: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, _ := newEdKeys(t)
	cases := []Config{
		{AccessTTL: 0, SigningMethod: MethodEd25519, PublicKey: pub},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, Leeway: time.Hour},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PublicKey: pub},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, VerifyKeys: map[string][]byte{"a": pub}, KeyID: "b"},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config to be rejected", i)
		}
	}
}

func TestCreateAccessWithoutPrivateKeyFails(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, _, err := m.CreateAccess(testInput()); !errors.Is(err, ErrSigningFailed) {
		t.Fatalf("expected ErrSigningFailed, got %v", err)
	}
}
