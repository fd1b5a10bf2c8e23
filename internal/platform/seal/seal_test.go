package seal

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestNew_RejectsBadKeySize(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Error("expected error for short master key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := New(testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plaintext := []byte("blood type O-, allergic to penicillin")
	env, err := s.SealRecord(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(env, plaintext) {
		t.Error("envelope contains plaintext")
	}

	got, err := s.OpenRecord(env)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestSealRecord_FreshKeyPerRecord(t *testing.T) {
	s, _ := New(testKey(t))
	plaintext := []byte("same content")

	a, err := s.SealRecord(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b, err := s.SealRecord(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("expected distinct envelopes for the same plaintext")
	}
}

func TestOpenRecord_RejectsTampering(t *testing.T) {
	s, _ := New(testKey(t))
	env, err := s.SealRecord([]byte("record"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	env[len(env)-1] ^= 0xFF
	if _, err := s.OpenRecord(env); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}

func TestOpenRecord_RejectsWrongMasterKey(t *testing.T) {
	a, _ := New(testKey(t))
	b, _ := New(testKey(t))

	env, err := a.SealRecord([]byte("record"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.OpenRecord(env); err == nil {
		t.Error("expected error opening with a different master key")
	}
}

func TestOpenRecord_RejectsGarbage(t *testing.T) {
	s, _ := New(testKey(t))

	for _, data := range [][]byte{nil, []byte("x"), []byte("NOPE....."), append([]byte("EDAV"), 0x09, 0, 4, 1, 2)} {
		if _, err := s.OpenRecord(data); !errors.Is(err, ErrInvalidEnvelope) {
			t.Errorf("expected ErrInvalidEnvelope for %q, got %v", data, err)
		}
	}
}
