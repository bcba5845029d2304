package internal

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewTokenIDIsWellFormedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := NewTokenID()
		if err != nil {
			t.Fatalf("new token id: %v", err)
		}
		if !WellFormedTokenID(id) {
			t.Fatalf("token id %q not well formed", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate token id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestFamilyAndJTIAreUUIDs(t *testing.T) {
	fid, err := NewFamilyID()
	if err != nil {
		t.Fatalf("family id: %v", err)
	}
	if _, err := uuid.Parse(fid); err != nil {
		t.Fatalf("family id not a uuid: %v", err)
	}
	jti, err := NewJTI()
	if err != nil {
		t.Fatalf("jti: %v", err)
	}
	parsed, err := uuid.Parse(jti)
	if err != nil {
		t.Fatalf("jti not a uuid: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected v7 jti, got v%d", parsed.Version())
	}
}

// FuzzWellFormedTokenID exercises the token id pre-check with arbitrary strings.
// Goal: no panics; anything accepted must decode to exactly 32 bytes.
func FuzzWellFormedTokenID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	f.Add("!!!not-base64!!!")
	if id, err := NewTokenID(); err == nil {
		f.Add(id)
	}

	f.Fuzz(func(t *testing.T, input string) {
		if !WellFormedTokenID(input) {
			return
		}
		if len(input) != 43 {
			t.Fatalf("accepted id of length %d", len(input))
		}
	})
}
