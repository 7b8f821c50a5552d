package soft

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestU_KeyWrap_RFC3394Vector(t *testing.T) {
	kek := mustHex(t, "000102030405060708090A0B0C0D0E0F")
	key := mustHex(t, "00112233445566778899AABBCCDDEEFF")
	expected := mustHex(t, "1FA68B0A8112B447AEF34BD8FB5A7B829D3E862371D2CFE5")

	wrapped, err := keyWrap(kek, key)
	if err != nil {
		t.Fatalf("keyWrap() error = %v", err)
	}
	if !bytes.Equal(wrapped, expected) {
		t.Errorf("keyWrap() = %x, want %x", wrapped, expected)
	}

	unwrapped, err := keyUnwrap(kek, wrapped)
	if err != nil {
		t.Fatalf("keyUnwrap() error = %v", err)
	}
	if !bytes.Equal(unwrapped, key) {
		t.Errorf("keyUnwrap() = %x, want %x", unwrapped, key)
	}
}

func TestU_KeyWrap_RFC5649Vectors(t *testing.T) {
	kek := mustHex(t, "5840df6e29b02af1ab493b705bf16ea1ae8338f4dcc176a8")

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			"[Unit] KeyWrapPad: 20-octet key",
			"c37b7e6492584340bed12207808941155068f738",
			"138bdeaa9b8fa7fc61f97742e72248ee5ae6ae5360d1ae6a5f54f373fa543b6a",
		},
		{
			"[Unit] KeyWrapPad: 7-octet key (single block)",
			"466f7250617369",
			"afbeb0f07dfbf5419200f2ccb50bb24f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := mustHex(t, tt.key)
			wrapped, err := keyWrapPad(kek, key)
			if err != nil {
				t.Fatalf("keyWrapPad() error = %v", err)
			}
			if hex.EncodeToString(wrapped) != tt.expected {
				t.Errorf("keyWrapPad() = %x, want %s", wrapped, tt.expected)
			}

			unwrapped, err := keyUnwrapPad(kek, wrapped)
			if err != nil {
				t.Fatalf("keyUnwrapPad() error = %v", err)
			}
			if !bytes.Equal(unwrapped, key) {
				t.Errorf("keyUnwrapPad() = %x, want %x", unwrapped, key)
			}
		})
	}
}

func TestU_KeyWrap_Integrity(t *testing.T) {
	kek := bytes.Repeat([]byte{0x42}, 32)
	key := bytes.Repeat([]byte{0x17}, 32)

	t.Run("[Unit] KeyWrap: tampered ciphertext fails", func(t *testing.T) {
		wrapped, err := keyWrap(kek, key)
		if err != nil {
			t.Fatalf("keyWrap() error = %v", err)
		}
		wrapped[10] ^= 0x01
		if _, err := keyUnwrap(kek, wrapped); !errors.Is(err, errKWIntegrity) {
			t.Errorf("expected errKWIntegrity, got %v", err)
		}
	})

	t.Run("[Unit] KeyWrapPad: wrong key fails", func(t *testing.T) {
		wrapped, err := keyWrapPad(kek, key[:5])
		if err != nil {
			t.Fatalf("keyWrapPad() error = %v", err)
		}
		other := bytes.Repeat([]byte{0x43}, 32)
		if _, err := keyUnwrapPad(other, wrapped); !errors.Is(err, errKWIntegrity) {
			t.Errorf("expected errKWIntegrity, got %v", err)
		}
	})

	t.Run("[Unit] KeyWrap: unaligned input rejected", func(t *testing.T) {
		if _, err := keyWrap(kek, key[:9]); !errors.Is(err, errKWInput) {
			t.Errorf("expected errKWInput, got %v", err)
		}
	})

	t.Run("[Unit] KeyWrapPad: empty input rejected", func(t *testing.T) {
		if _, err := keyWrapPad(kek, nil); err == nil {
			t.Error("expected error for empty input")
		}
	})

	t.Run("[Unit] KeyWrap: bad KEK size", func(t *testing.T) {
		if _, err := keyWrap(kek[:7], key); err == nil {
			t.Error("expected error for 7-byte KEK")
		}
	})
}
