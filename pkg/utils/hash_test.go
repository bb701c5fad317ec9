package utils

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword("s3cret-pass", hash) {
		t.Fatal("expected matching password to verify")
	}
	if CheckPassword("wrong-pass", hash) {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestHashPassword_Salted(t *testing.T) {
	a, _ := HashPassword("same")
	b, _ := HashPassword("same")
	if a == b {
		t.Fatal("expected two hashes of the same password to differ")
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	_, err := HashPassword(strings.Repeat("x", 73))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestCheckPassword_EmptyHash(t *testing.T) {
	if CheckPassword("", "") {
		t.Fatal("empty hash must never verify")
	}
}
