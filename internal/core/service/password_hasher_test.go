package service

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	for _, pw := range []string{"pw1", "correct horse battery staple", "ünïcødé"} {
		hash, err := h.Hash(pw)
		if err != nil {
			t.Fatalf("Hash(%q): %v", pw, err)
		}
		if hash == pw {
			t.Fatalf("expected password to be hashed")
		}
		if !h.Verify(pw, hash) {
			t.Fatalf("Verify(%q) = false, want true", pw)
		}
		if h.Verify(pw+"x", hash) || h.Verify("", hash) {
			t.Fatalf("Verify accepted a different password for %q", pw)
		}
	}
}

func TestBcryptHasher_SaltedPerCall(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Fatalf("expected distinct hashes for the same password")
	}
}

func TestBcryptHasher_MalformedHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	for _, hash := range []string{"", "not-a-hash", "$2a$04$short"} {
		if h.Verify("pw", hash) {
			t.Fatalf("Verify accepted malformed hash %q", hash)
		}
	}
}

func TestBcryptHasher_CostFallback(t *testing.T) {
	if got := NewBcryptHasher(99).cost; got != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", got)
	}
	hash, _ := NewBcryptHasher(bcrypt.MinCost).Hash("pw")
	if cost, err := bcrypt.Cost([]byte(hash)); err != nil || cost != bcrypt.MinCost {
		t.Fatalf("expected cost %d, got %d (%v)", bcrypt.MinCost, cost, err)
	}
}
