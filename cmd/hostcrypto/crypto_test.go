package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"strings"
	"testing"
)

// =============================================================================
// Encrypt / Decrypt Tests
// =============================================================================

func TestF_Encrypt_Decrypt_AESGCM(t *testing.T) {
	tc := newTestContext(t)
	tc.genKey("aes-256", "k")

	plain := []byte("attack at dawn")
	inPath := tc.path("plain.txt")
	ctPath := tc.path("plain.enc")
	ptPath := tc.path("plain.dec")
	assertNoError(t, os.WriteFile(inPath, plain, 0600))

	_, err := tc.run("encrypt", "--key", "k", "--in", inPath, "--out", ctPath)
	assertNoError(t, err)

	ct, err := os.ReadFile(ctPath)
	assertNoError(t, err)
	// IV prefix, ciphertext, 16-byte tag
	if want := gcmIVSize + len(plain) + 16; len(ct) != want {
		t.Errorf("ciphertext length = %d, want %d", len(ct), want)
	}

	_, err = tc.run("decrypt", "--key", "k", "--in", ctPath, "--out", ptPath)
	assertNoError(t, err)
	got, err := os.ReadFile(ptPath)
	assertNoError(t, err)
	if !bytes.Equal(got, plain) {
		t.Errorf("decrypted %q, want %q", got, plain)
	}
}

func TestF_Encrypt_Decrypt_ExplicitIV(t *testing.T) {
	tc := newTestContext(t)
	tc.genKey("aes-128", "k")

	iv := strings.Repeat("ab", 12)
	aad := hex.EncodeToString([]byte("header"))
	ctPath := tc.path("data.enc")

	_, err := tc.runWithInput([]byte("payload"), "encrypt", "--key", "k", "--iv", iv, "--aad", aad, "--out", ctPath)
	assertNoError(t, err)

	out, err := tc.run("decrypt", "--key", "k", "--iv", iv, "--aad", aad, "--in", ctPath)
	assertNoError(t, err)
	if out != "payload" {
		t.Errorf("decrypted %q, want payload", out)
	}

	t.Run("[Functional] Decrypt: wrong AAD", func(t *testing.T) {
		_, err := tc.run("decrypt", "--key", "k", "--iv", iv, "--in", ctPath)
		assertError(t, err)
	})
}

func TestF_Encrypt_Errors(t *testing.T) {
	tc := newTestContext(t)
	tc.genKey("aes-256", "k")
	tc.genKey("hmac-sha256", "mac")

	tests := []struct {
		name string
		args []string
	}{
		{"[Functional] Encrypt: unknown key", []string{"encrypt", "--key", "missing"}},
		{"[Functional] Encrypt: unknown algorithm", []string{"encrypt", "--key", "k", "--alg", "aes-cbc"}},
		{"[Functional] Encrypt: bad IV hex", []string{"encrypt", "--key", "k", "--iv", "zz"}},
		{"[Functional] Encrypt: HMAC key", []string{"encrypt", "--key", "mac"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tc.runWithInput([]byte("data"), tt.args...)
			assertError(t, err)
		})
	}
}

func TestF_Decrypt_ShortInput(t *testing.T) {
	tc := newTestContext(t)
	tc.genKey("aes-256", "k")

	_, err := tc.runWithInput([]byte("short"), "decrypt", "--key", "k")
	assertError(t, err)
}

// =============================================================================
// Sign / Verify Tests
// =============================================================================

func TestF_Sign_Verify(t *testing.T) {
	tests := []struct {
		name string
		alg  string
		args []string
	}{
		{"[Functional] Sign: ECDSA P-256", "p-256", []string{"--alg", "ecdsa"}},
		{"[Functional] Sign: ECDSA P-384 SHA-384", "p-384", []string{"--alg", "ecdsa", "--hash", "sha-384"}},
		{"[Functional] Sign: HMAC", "hmac-sha256", []string{"--alg", "hmac"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			tc.genKey(tt.alg, "signer")

			docPath := tc.writeFile("doc.txt", "the document")
			sigPath := tc.path("doc.sig")

			_, err := tc.run(append([]string{"sign", "--key", "signer", "--in", docPath, "--out", sigPath}, tt.args...)...)
			assertNoError(t, err)
			assertFileNotEmpty(t, sigPath)

			out, err := tc.run(append([]string{"verify", "--key", "signer", "--in", docPath, "--sig", sigPath}, tt.args...)...)
			assertNoError(t, err)
			if !strings.Contains(out, "Signature: VALID") {
				t.Errorf("verify output = %q", out)
			}

			tampered := tc.writeFile("tampered.txt", "another document")
			out, err = tc.run(append([]string{"verify", "--key", "signer", "--in", tampered, "--sig", sigPath}, tt.args...)...)
			assertError(t, err)
			if !strings.Contains(out, "INVALID") {
				t.Errorf("verify output = %q, want INVALID", out)
			}
		})
	}
}

func TestF_Verify_HexSignature(t *testing.T) {
	tc := newTestContext(t)
	tc.genKey("p-256", "signer")
	docPath := tc.writeFile("doc.txt", "the document")

	// Without --out the signature is printed in hex.
	out, err := tc.run("sign", "--key", "signer", "--in", docPath)
	assertNoError(t, err)
	sigPath := tc.writeFile("doc.sig.hex", out)

	out, err = tc.run("verify", "--key", "signer", "--in", docPath, "--sig", sigPath)
	assertNoError(t, err)
	if !strings.Contains(out, "Signature: VALID") {
		t.Errorf("verify output = %q", out)
	}
}

func TestF_Sign_UnknownAlgorithm(t *testing.T) {
	tc := newTestContext(t)

	_, err := tc.runWithInput([]byte("data"), "sign", "--key", "signer", "--alg", "dsa")
	assertError(t, err)
}

// =============================================================================
// Digest / Random Tests
// =============================================================================

func TestF_Digest(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want string
	}{
		{"[Functional] Digest: SHA-256", "sha-256", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"[Functional] Digest: SHA-1", "sha1", "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{"[Functional] Digest: SHA3-256", "sha3-256", "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			out, err := tc.runWithInput([]byte("abc"), "digest", "--hash", tt.hash)
			assertNoError(t, err)
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("digest = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestF_Digest_UnknownHash(t *testing.T) {
	tc := newTestContext(t)

	_, err := tc.runWithInput([]byte("abc"), "digest", "--hash", "md5")
	assertError(t, err)
}

func TestF_Random(t *testing.T) {
	tc := newTestContext(t)

	out, err := tc.run("random", "-n", "16")
	assertNoError(t, err)
	data, err := hex.DecodeString(strings.TrimSpace(out))
	assertNoError(t, err)
	if len(data) != 16 {
		t.Errorf("random returned %d bytes, want 16", len(data))
	}

	outPath := tc.path("seed.bin")
	_, err = tc.run("random", "-n", "64", "--out", outPath)
	assertNoError(t, err)
	seed, err := os.ReadFile(outPath)
	assertNoError(t, err)
	if len(seed) != 64 {
		t.Errorf("random wrote %d bytes, want 64", len(seed))
	}
}

func TestF_Random_InvalidLength(t *testing.T) {
	tc := newTestContext(t)

	_, err := tc.run("random", "-n", "0")
	assertError(t, err)
}
