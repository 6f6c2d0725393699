package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}
	if err := h.Compare(hash, "correct horse"); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	if err := h.Compare(hash, "wrong horse"); err == nil {
		t.Error("expected mismatch")
	}
}

func TestBcryptHasher_TooShort(t *testing.T) {
	if _, err := NewBcryptHasher(bcrypt.MinCost).Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestNewBcryptHasher_ClampsCost(t *testing.T) {
	h := NewBcryptHasher(1000).(*bcryptHasher)
	if h.cost != bcrypt.DefaultCost {
		t.Errorf("expected default cost, got %d", h.cost)
	}
}

func TestSecrets(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	b, _ := GenerateSecret()
	if a == b || len(a) != 64 {
		t.Errorf("unexpected secrets %q %q", a, b)
	}
	if HashSecret(a) == a || HashSecret(a) != HashSecret(a) {
		t.Error("hash must be deterministic and differ from input")
	}
}
