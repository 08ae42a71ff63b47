package aead

import (
	"bytes"
	"testing"
)

func key(b byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte("navigation.position delta payload")
	sealed, err := Seal(key(1), plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := Open(key(1), sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestWrongKeyFailsAuthentication(t *testing.T) {
	sealed, err := Seal(key(1), []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(key(2), sealed); err == nil {
		t.Fatalf("expected authentication failure with wrong key")
	}
}

func TestBadKeySize(t *testing.T) {
	if _, err := Seal([]byte("short"), []byte("x")); err != ErrBadKeySize {
		t.Fatalf("expected ErrBadKeySize, got %v", err)
	}
}
