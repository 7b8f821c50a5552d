package soft

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math"
	"testing"

	"golang.org/x/crypto/hkdf"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// =============================================================================
// Helpers
// =============================================================================

func meta(t *testing.T, v any) string {
	t.Helper()
	s, err := wire.Encode(v)
	if err != nil {
		t.Fatalf("Encode(%T) error = %v", v, err)
	}
	return s
}

func usages(names ...string) []uint8 { return wire.UsageIDs(names) }

func decodeKey(t *testing.T, data []byte) subtle.CryptoKey {
	t.Helper()
	var key subtle.CryptoKey
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("descriptor %q does not decode: %v", data, err)
	}
	return key
}

var sha256Meta = wire.ShaMetadata{AlgoID: wire.Sha2, Length: wire.DigestBits256}

type keySpec struct {
	alg  wire.KeyAlgorithm
	meta any
}

var (
	aes256Spec = keySpec{wire.KeyAlgorithmAes, wire.AesMetadata{Length: wire.AesBits256}}
	p256Spec   = keySpec{wire.KeyAlgorithmSecpR1, wire.SecpR1Metadata{Length: wire.SecpR1Bits256}}
	k1Spec     = keySpec{wire.KeyAlgorithmSecpK1, wire.SecpK1Metadata{Length: wire.SecpK1Bits256}}
	rsaSpec    = keySpec{wire.KeyAlgorithmRsa, wire.RsaMetadata{Modulus: wire.RsaBits2048, PublicExponent: 65537, ShaMetadata: sha256Meta}}
	hmacSpec   = keySpec{wire.KeyAlgorithmHmac, wire.HmacMetadata{ShaMetadata: sha256Meta, Length: 256}}
)

func generateKey(t *testing.T, eng *Engine, spec keySpec, extractable bool, use ...string) subtle.CryptoKey {
	t.Helper()
	data, err := eng.GenerateKey("", uint32(spec.alg), meta(t, spec.meta), extractable, usages(use...))
	if err != nil {
		t.Fatalf("GenerateKey(%s) error = %v", spec.alg, err)
	}
	return decodeKey(t, data)
}

func gcmMeta(t *testing.T) string {
	return meta(t, wire.AesGcmEncryptionMetadata{
		IV:             make(wire.Bytes, 12),
		AdditionalData: wire.Bytes("header"),
		TagLength:      wire.Tag128,
	})
}

// =============================================================================
// Generation and descriptors
// =============================================================================

func TestU_Engine_GenerateKey(t *testing.T) {
	eng := New(nil)

	tests := []struct {
		name      string
		spec      keySpec
		usages    []string
		keyType   string
		family    string
		algorithm string
	}{
		{"[Unit] GenerateKey: AES-256", aes256Spec, []string{"encrypt", "decrypt"}, "secret", "aes", "AES-256"},
		{"[Unit] GenerateKey: P-256", p256Spec, []string{"sign"}, "private", "ecc", "P-256"},
		{"[Unit] GenerateKey: secp256k1", k1Spec, []string{"sign", "derive_key"}, "private", "ecc", "secp256k1"},
		{"[Unit] GenerateKey: RSA-2048", rsaSpec, []string{"sign", "decrypt"}, "private", "rsa", "RSA-2048"},
		{"[Unit] GenerateKey: HMAC", hmacSpec, []string{"sign", "verify"}, "secret", "hmac", "HMAC-sha2-256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := generateKey(t, eng, tt.spec, true, tt.usages...)
			if key.ID == "" {
				t.Error("descriptor has empty id")
			}
			if key.Alias != nil {
				t.Errorf("fresh key has alias %q", *key.Alias)
			}
			if key.Type != tt.keyType || key.Family != tt.family || key.Algorithm != tt.algorithm {
				t.Errorf("descriptor = %+v", key)
			}
			if len(key.Usages) != len(tt.usages) {
				t.Errorf("usages = %v, want %v", key.Usages, tt.usages)
			}
		})
	}
}

func TestU_Engine_GenerateKeyErrors(t *testing.T) {
	eng := New(nil)

	t.Run("[Unit] GenerateKey: unknown usage id rejected", func(t *testing.T) {
		_, err := eng.GenerateKey("", uint32(wire.KeyAlgorithmAes), meta(t, aes256Spec.meta), false, []uint8{0, 255})
		if !errors.Is(err, engine.ErrUnknownUsage) {
			t.Errorf("expected ErrUnknownUsage, got %v", err)
		}
	})

	t.Run("[Unit] GenerateKey: usage not valid for kind", func(t *testing.T) {
		_, err := eng.GenerateKey("", uint32(wire.KeyAlgorithmAes), meta(t, aes256Spec.meta), false, usages("sign"))
		if !errors.Is(err, engine.ErrUnknownUsage) {
			t.Errorf("expected ErrUnknownUsage, got %v", err)
		}
	})

	t.Run("[Unit] GenerateKey: malformed metadata", func(t *testing.T) {
		_, err := eng.GenerateKey("", uint32(wire.KeyAlgorithmAes), `{"length":100}`, false, nil)
		if !errors.Is(err, engine.ErrInvalidMetadata) {
			t.Errorf("expected ErrInvalidMetadata, got %v", err)
		}
	})

	t.Run("[Unit] GenerateKey: unknown algorithm id", func(t *testing.T) {
		_, err := eng.GenerateKey("", 42, "{}", false, nil)
		if !errors.Is(err, engine.ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("[Unit] GenerateKey: caller-chosen id must be free", func(t *testing.T) {
		if _, err := eng.GenerateKey("fixed", uint32(wire.KeyAlgorithmAes), meta(t, aes256Spec.meta), false, nil); err != nil {
			t.Fatalf("first GenerateKey() error = %v", err)
		}
		_, err := eng.GenerateKey("fixed", uint32(wire.KeyAlgorithmAes), meta(t, aes256Spec.meta), false, nil)
		if !errors.Is(err, engine.ErrKeyExists) {
			t.Errorf("expected ErrKeyExists, got %v", err)
		}
	})

	t.Run("[Unit] GenerateKey: unsupported RSA exponent", func(t *testing.T) {
		m := wire.RsaMetadata{Modulus: wire.RsaBits2048, PublicExponent: 3, ShaMetadata: sha256Meta}
		_, err := eng.GenerateKey("", uint32(wire.KeyAlgorithmRsa), meta(t, m), false, nil)
		if !errors.Is(err, engine.ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})
}

// =============================================================================
// Encryption
// =============================================================================

func TestU_Engine_AesGcm(t *testing.T) {
	eng := New(nil)
	key := generateKey(t, eng, aes256Spec, false, "encrypt", "decrypt")
	m := gcmMeta(t)

	ct, err := eng.Encrypt(key.ID, uint32(wire.EncryptionAesGcm), m, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(ct) != len("hello")+16 {
		t.Errorf("ciphertext length = %d, want %d", len(ct), len("hello")+16)
	}

	pt, err := eng.Decrypt(key.ID, uint32(wire.EncryptionAesGcm), m, ct)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(pt) != "hello" {
		t.Errorf("Decrypt() = %q", pt)
	}

	t.Run("[Unit] AesGcm: tampered tag fails", func(t *testing.T) {
		bad := bytes.Clone(ct)
		bad[len(bad)-1] ^= 1
		if _, err := eng.Decrypt(key.ID, uint32(wire.EncryptionAesGcm), m, bad); err == nil {
			t.Error("expected authentication failure")
		}
	})

	t.Run("[Unit] AesGcm: 96-bit tag", func(t *testing.T) {
		short := meta(t, wire.AesGcmEncryptionMetadata{IV: make(wire.Bytes, 12), TagLength: wire.Tag96})
		ct, err := eng.Encrypt(key.ID, uint32(wire.EncryptionAesGcm), short, []byte("x"))
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if len(ct) != 1+12 {
			t.Errorf("ciphertext length = %d, want 13", len(ct))
		}
	})

	t.Run("[Unit] AesGcm: empty nonce rejected", func(t *testing.T) {
		empty := meta(t, wire.AesGcmEncryptionMetadata{TagLength: wire.Tag128})
		_, err := eng.Encrypt(key.ID, uint32(wire.EncryptionAesGcm), empty, []byte("x"))
		if !errors.Is(err, engine.ErrInvalidMetadata) {
			t.Errorf("expected ErrInvalidMetadata, got %v", err)
		}
	})

	t.Run("[Unit] AesGcm: RSA-OAEP on an AES key", func(t *testing.T) {
		_, err := eng.Encrypt(key.ID, uint32(wire.EncryptionRsaOaep), `{"label":[]}`, []byte("x"))
		if !errors.Is(err, engine.ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})
}

func TestU_Engine_RsaEncryption(t *testing.T) {
	eng := New(nil)
	key := generateKey(t, eng, rsaSpec, false, "decrypt")

	tests := []struct {
		name string
		alg  wire.EncryptionAlgorithm
		meta string
	}{
		{"[Unit] RSA: OAEP with label", wire.EncryptionRsaOaep, `{"label":[1,2,3]}`},
		{"[Unit] RSA: PKCS#1 v1.5", wire.EncryptionRsaPkcs1V1_5, "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A private key with decrypt also encrypts through its public half.
			ct, err := eng.Encrypt(key.ID, uint32(tt.alg), tt.meta, []byte("secret"))
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			pt, err := eng.Decrypt(key.ID, uint32(tt.alg), tt.meta, ct)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if string(pt) != "secret" {
				t.Errorf("Decrypt() = %q", pt)
			}
		})
	}
}

func TestU_Engine_UsageEnforcement(t *testing.T) {
	eng := New(nil)
	encOnly := generateKey(t, eng, aes256Spec, false, "encrypt")
	signer := generateKey(t, eng, p256Spec, false, "sign")

	t.Run("[Unit] Usage: decrypt without decrypt usage", func(t *testing.T) {
		_, err := eng.Decrypt(encOnly.ID, uint32(wire.EncryptionAesGcm), gcmMeta(t), make([]byte, 32))
		if !errors.Is(err, engine.ErrUnknownUsage) {
			t.Errorf("expected ErrUnknownUsage, got %v", err)
		}
	})

	t.Run("[Unit] Usage: private sign key verifies", func(t *testing.T) {
		m := meta(t, wire.EcdsaSignatureMetadata{ShaMetadata: sha256Meta})
		sig, err := eng.Sign(signer.ID, uint32(wire.SigningEcdsa), m, []byte("msg"))
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		ok, err := eng.Verify(signer.ID, uint32(wire.SigningEcdsa), m, []byte("msg"), sig)
		if err != nil || !ok {
			t.Errorf("Verify() = %v, %v", ok, err)
		}
	})

	t.Run("[Unit] Usage: unknown key", func(t *testing.T) {
		_, err := eng.Sign("missing", uint32(wire.SigningEcdsa), "{}", []byte("msg"))
		if !errors.Is(err, engine.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})
}

// =============================================================================
// Signatures
// =============================================================================

func TestU_Engine_SignVerify(t *testing.T) {
	eng := New(nil)
	ecdsaMeta := meta(t, wire.EcdsaSignatureMetadata{ShaMetadata: sha256Meta})

	tests := []struct {
		name    string
		spec    keySpec
		alg     wire.SigningAlgorithm
		meta    string
		sigSize int
	}{
		{"[Unit] Sign: ECDSA P-256", p256Spec, wire.SigningEcdsa, ecdsaMeta, 64},
		{"[Unit] Sign: ECDSA P-384", keySpec{wire.KeyAlgorithmSecpR1, wire.SecpR1Metadata{Length: wire.SecpR1Bits384}}, wire.SigningEcdsa, ecdsaMeta, 96},
		{"[Unit] Sign: ECDSA P-521", keySpec{wire.KeyAlgorithmSecpR1, wire.SecpR1Metadata{Length: wire.SecpR1Bits521}}, wire.SigningEcdsa, ecdsaMeta, 132},
		{"[Unit] Sign: ECDSA secp256k1", k1Spec, wire.SigningEcdsa, ecdsaMeta, 64},
		{"[Unit] Sign: Schnorr secp256k1", k1Spec, wire.SigningSchnorr, ecdsaMeta, 64},
		{"[Unit] Sign: RSA-PSS", rsaSpec, wire.SigningRsaPss, `{"saltLength":32}`, 256},
		{"[Unit] Sign: RSA-PSS empty salt", rsaSpec, wire.SigningRsaPss, `{"saltLength":0}`, 256},
		{"[Unit] Sign: HMAC-SHA-256", hmacSpec, wire.SigningHmac, meta(t, wire.HmacSignatureMetadata{ShaMetadata: sha256Meta}), 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := generateKey(t, eng, tt.spec, false, "sign", "verify")
			data := []byte("the quick brown fox")

			sig, err := eng.Sign(key.ID, uint32(tt.alg), tt.meta, data)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if len(sig) != tt.sigSize {
				t.Errorf("signature length = %d, want %d", len(sig), tt.sigSize)
			}

			ok, err := eng.Verify(key.ID, uint32(tt.alg), tt.meta, data, sig)
			if err != nil || !ok {
				t.Fatalf("Verify() = %v, %v", ok, err)
			}

			ok, err = eng.Verify(key.ID, uint32(tt.alg), tt.meta, []byte("tampered"), sig)
			if err != nil {
				t.Fatalf("Verify(tampered) error = %v", err)
			}
			if ok {
				t.Error("Verify(tampered) = true")
			}

			ok, err = eng.Verify(key.ID, uint32(tt.alg), tt.meta, data, sig[:len(sig)-1])
			if err != nil || ok {
				t.Errorf("Verify(truncated) = %v, %v; want false, nil", ok, err)
			}
		})
	}
}

func TestU_Engine_SignWithPublicKey(t *testing.T) {
	eng := New(nil)
	key := generateKey(t, eng, p256Spec, false, "sign")

	desc, err := eng.GetPublicKeyAsCryptoKey(key.ID)
	if err != nil {
		t.Fatalf("GetPublicKeyAsCryptoKey() error = %v", err)
	}
	pub := decodeKey(t, []byte(desc))
	if pub.Type != "public" || pub.ID == key.ID {
		t.Fatalf("public descriptor = %+v", pub)
	}
	if len(pub.Usages) != 1 || pub.Usages[0] != "verify" {
		t.Errorf("public usages = %v, want [verify]", pub.Usages)
	}

	m := meta(t, wire.EcdsaSignatureMetadata{ShaMetadata: sha256Meta})
	if _, err := eng.Sign(pub.ID, uint32(wire.SigningEcdsa), m, []byte("x")); !errors.Is(err, engine.ErrUnknownUsage) {
		t.Errorf("Sign(public) error = %v, want ErrUnknownUsage", err)
	}

	sig, err := eng.Sign(key.ID, uint32(wire.SigningEcdsa), m, []byte("x"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	ok, err := eng.Verify(pub.ID, uint32(wire.SigningEcdsa), m, []byte("x"), sig)
	if err != nil || !ok {
		t.Errorf("Verify(public) = %v, %v", ok, err)
	}

	again, err := eng.GetPublicKeyAsCryptoKey(pub.ID)
	if err != nil {
		t.Fatalf("GetPublicKeyAsCryptoKey(public) error = %v", err)
	}
	if decodeKey(t, []byte(again)).ID != pub.ID {
		t.Error("public half of a public key should be the key itself")
	}
}

// =============================================================================
// Digest and random
// =============================================================================

func TestU_Engine_Digest(t *testing.T) {
	eng := New(nil)

	tests := []struct {
		name     string
		alg      wire.HashAlgorithm
		meta     string
		expected string
	}{
		{
			"[Unit] Digest: SHA-256 abc",
			wire.HashSha, `{"algo_id":1,"length":256}`,
			"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
		{
			"[Unit] Digest: SHA-1 abc",
			wire.HashSha, `{"algo_id":3,"length":160}`,
			"a9993e364706816aba3e25717850c26c9cd0d89d",
		},
		{
			"[Unit] Digest: SHA3-256 abc",
			wire.HashSha, `{"algo_id":2,"length":256}`,
			"3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := eng.Digest(uint32(tt.alg), tt.meta, []byte("abc"))
			if err != nil {
				t.Fatalf("Digest() error = %v", err)
			}
			if hex.EncodeToString(sum) != tt.expected {
				t.Errorf("Digest() = %x, want %s", sum, tt.expected)
			}
		})
	}

	t.Run("[Unit] Digest: tagged SHA-256", func(t *testing.T) {
		sum, err := eng.Digest(uint32(wire.HashTagged), `{"algo_id":1,"length":256,"tag":"BIP0340/challenge"}`, []byte("abc"))
		if err != nil {
			t.Fatalf("Digest() error = %v", err)
		}
		tag := sha256.Sum256([]byte("BIP0340/challenge"))
		h := sha256.New()
		h.Write(tag[:])
		h.Write(tag[:])
		h.Write([]byte("abc"))
		if !bytes.Equal(sum, h.Sum(nil)) {
			t.Errorf("tagged digest = %x, want %x", sum, h.Sum(nil))
		}
	})

	t.Run("[Unit] Digest: unsupported size", func(t *testing.T) {
		_, err := eng.Digest(uint32(wire.HashSha), `{"algo_id":3,"length":256}`, []byte("abc"))
		if !errors.Is(err, engine.ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})
}

func TestU_Engine_GetRandomBytes(t *testing.T) {
	eng := New(nil)
	a, err := eng.GetRandomBytes(32)
	if err != nil || len(a) != 32 {
		t.Fatalf("GetRandomBytes(32) = %d bytes, %v", len(a), err)
	}
	b, _ := eng.GetRandomBytes(32)
	if bytes.Equal(a, b) {
		t.Error("two random draws are equal")
	}
	for _, n := range []int{0, -1, engine.MaxRandomBytes + 1, math.MaxInt} {
		if _, err := eng.GetRandomBytes(n); !errors.Is(err, engine.ErrInvalidMetadata) {
			t.Errorf("GetRandomBytes(%d) error = %v, want ErrInvalidMetadata", n, err)
		}
	}
}

// =============================================================================
// Import and export
// =============================================================================

func TestU_Engine_ExportImportRoundTrip(t *testing.T) {
	eng := New(nil)

	tests := []struct {
		name   string
		spec   keySpec
		format wire.KeyFormat
		usages []string
	}{
		{"[Unit] Export: AES raw", aes256Spec, wire.FormatRaw, []string{"encrypt"}},
		{"[Unit] Export: HMAC raw", hmacSpec, wire.FormatRaw, []string{"sign"}},
		{"[Unit] Export: RSA pkcs8", rsaSpec, wire.FormatPkcs8, []string{"sign"}},
		{"[Unit] Export: RSA pkcs1", rsaSpec, wire.FormatPkcs1, []string{"sign"}},
		{"[Unit] Export: P-256 pkcs8", p256Spec, wire.FormatPkcs8, []string{"sign"}},
		{"[Unit] Export: P-256 sec1", p256Spec, wire.FormatSec1, []string{"sign"}},
		{"[Unit] Export: secp256k1 pkcs8", k1Spec, wire.FormatPkcs8, []string{"sign"}},
		{"[Unit] Export: secp256k1 sec1", k1Spec, wire.FormatSec1, []string{"sign"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := generateKey(t, eng, tt.spec, true, tt.usages...)
			exported, err := eng.ExportKey(key.ID, uint32(tt.format))
			if err != nil {
				t.Fatalf("ExportKey() error = %v", err)
			}

			data, err := eng.ImportKey("", uint32(tt.format), exported, uint32(tt.spec.alg), meta(t, tt.spec.meta), true, usages(tt.usages...))
			if err != nil {
				t.Fatalf("ImportKey() error = %v", err)
			}
			imported := decodeKey(t, data)
			if imported.Type != key.Type || imported.Algorithm != key.Algorithm {
				t.Errorf("imported = %+v, original = %+v", imported, key)
			}

			again, err := eng.ExportKey(imported.ID, uint32(tt.format))
			if err != nil {
				t.Fatalf("ExportKey(imported) error = %v", err)
			}
			if !bytes.Equal(exported, again) {
				t.Error("re-export differs from the original export")
			}
		})
	}
}

func TestU_Engine_PublicFormats(t *testing.T) {
	eng := New(nil)

	for _, spec := range []keySpec{p256Spec, k1Spec, rsaSpec} {
		t.Run("[Unit] PublicFormats: "+spec.alg.String(), func(t *testing.T) {
			key := generateKey(t, eng, spec, false, "sign")

			spki, err := eng.GetPublicKey(key.ID)
			if err != nil {
				t.Fatalf("GetPublicKey() error = %v", err)
			}
			exported, err := eng.ExportKey(key.ID, uint32(wire.FormatSpki))
			if err != nil {
				t.Fatalf("ExportKey(spki) of a non-extractable key error = %v", err)
			}
			if !bytes.Equal(spki, exported) {
				t.Error("GetPublicKey and spki export differ")
			}

			data, err := eng.ImportKey("", uint32(wire.FormatSpki), spki, uint32(spec.alg), meta(t, spec.meta), true, usages("verify"))
			if err != nil {
				t.Fatalf("ImportKey(spki) error = %v", err)
			}
			if pub := decodeKey(t, data); pub.Type != "public" {
				t.Errorf("imported spki type = %s", pub.Type)
			}
		})
	}

	t.Run("[Unit] PublicFormats: P-256 raw point", func(t *testing.T) {
		key := generateKey(t, eng, p256Spec, false, "sign")
		raw, err := eng.ExportKey(key.ID, uint32(wire.FormatRaw))
		if err != nil {
			t.Fatalf("ExportKey(raw) error = %v", err)
		}
		if len(raw) != 65 || raw[0] != 0x04 {
			t.Fatalf("raw point = %x", raw)
		}
		if _, err := eng.ImportKey("", uint32(wire.FormatRaw), raw, uint32(p256Spec.alg), meta(t, p256Spec.meta), true, usages("verify")); err != nil {
			t.Errorf("ImportKey(raw) error = %v", err)
		}
	})

	t.Run("[Unit] PublicFormats: secret keys have no public half", func(t *testing.T) {
		key := generateKey(t, eng, aes256Spec, false, "encrypt")
		if _, err := eng.GetPublicKey(key.ID); !errors.Is(err, engine.ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})
}

func TestU_Engine_ExportErrors(t *testing.T) {
	eng := New(nil)

	t.Run("[Unit] Export: non-extractable secret", func(t *testing.T) {
		key := generateKey(t, eng, aes256Spec, false, "encrypt")
		if _, err := eng.ExportKey(key.ID, uint32(wire.FormatRaw)); !errors.Is(err, engine.ErrNotExtractable) {
			t.Errorf("expected ErrNotExtractable, got %v", err)
		}
	})

	t.Run("[Unit] Export: jwk unsupported", func(t *testing.T) {
		key := generateKey(t, eng, aes256Spec, true, "encrypt")
		if _, err := eng.ExportKey(key.ID, uint32(wire.FormatJwk)); !errors.Is(err, engine.ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("[Unit] Import: AES length mismatch", func(t *testing.T) {
		_, err := eng.ImportKey("", uint32(wire.FormatRaw), make([]byte, 16), uint32(wire.KeyAlgorithmAes), meta(t, aes256Spec.meta), true, nil)
		if !errors.Is(err, engine.ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})

	t.Run("[Unit] Import: garbage pkcs8", func(t *testing.T) {
		_, err := eng.ImportKey("", uint32(wire.FormatPkcs8), []byte{1, 2, 3}, uint32(wire.KeyAlgorithmRsa), meta(t, rsaSpec.meta), true, nil)
		if !errors.Is(err, engine.ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})

	t.Run("[Unit] Import: P-256 key declared as P-384", func(t *testing.T) {
		key := generateKey(t, eng, p256Spec, true, "sign")
		der, err := eng.ExportKey(key.ID, uint32(wire.FormatPkcs8))
		if err != nil {
			t.Fatalf("ExportKey() error = %v", err)
		}
		m := meta(t, wire.SecpR1Metadata{Length: wire.SecpR1Bits384})
		_, err = eng.ImportKey("", uint32(wire.FormatPkcs8), der, uint32(wire.KeyAlgorithmSecpR1), m, true, nil)
		if !errors.Is(err, engine.ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})
}

// =============================================================================
// Wrap and unwrap
// =============================================================================

func TestU_Engine_WrapUnwrap(t *testing.T) {
	eng := New(nil)
	aesKEK := generateKey(t, eng, aes256Spec, false, "wrap_key", "unwrap_key")
	rsaKEK := generateKey(t, eng, rsaSpec, false, "unwrap_key")
	target := generateKey(t, eng, aes256Spec, true, "encrypt", "decrypt")

	original, err := eng.ExportKey(target.ID, uint32(wire.FormatRaw))
	if err != nil {
		t.Fatalf("ExportKey() error = %v", err)
	}

	tests := []struct {
		name string
		kek  subtle.CryptoKey
		alg  wire.WrappingAlgorithm
		meta string
	}{
		{"[Unit] Wrap: AES-KW padded", aesKEK, wire.WrappingAesKw, `{"with_padding":true}`},
		{"[Unit] Wrap: AES-KW", aesKEK, wire.WrappingAesKw, `{"with_padding":false}`},
		{"[Unit] Wrap: AES-GCM", aesKEK, wire.WrappingAesGcm, gcmMeta(t)},
		{"[Unit] Wrap: RSA-OAEP", rsaKEK, wire.WrappingRsaOaep, `{"label":[]}`},
		{"[Unit] Wrap: RSA PKCS#1 v1.5", rsaKEK, wire.WrappingRsaPkcs1V1_5, "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped, err := eng.WrapKey(target.ID, uint32(wire.FormatRaw), tt.kek.ID, uint32(tt.alg), tt.meta)
			if err != nil {
				t.Fatalf("WrapKey() error = %v", err)
			}
			if bytes.Contains(wrapped, original) {
				t.Fatal("wrapped blob contains the plain key")
			}

			data, err := eng.UnwrapKey(tt.kek.ID, uint32(tt.alg), tt.meta, "", uint32(wire.FormatRaw), wrapped,
				uint32(wire.KeyAlgorithmAes), meta(t, aes256Spec.meta), true, usages("encrypt"))
			if err != nil {
				t.Fatalf("UnwrapKey() error = %v", err)
			}
			unwrapped := decodeKey(t, data)
			got, err := eng.ExportKey(unwrapped.ID, uint32(wire.FormatRaw))
			if err != nil {
				t.Fatalf("ExportKey(unwrapped) error = %v", err)
			}
			if !bytes.Equal(got, original) {
				t.Error("unwrapped key differs from the original")
			}
		})
	}

	t.Run("[Unit] Wrap: non-extractable key refused", func(t *testing.T) {
		locked := generateKey(t, eng, aes256Spec, false, "encrypt")
		_, err := eng.WrapKey(locked.ID, uint32(wire.FormatRaw), aesKEK.ID, uint32(wire.WrappingAesKw), `{"with_padding":true}`)
		if !errors.Is(err, engine.ErrNotExtractable) {
			t.Errorf("expected ErrNotExtractable, got %v", err)
		}
	})

	t.Run("[Unit] Wrap: wrapping key without wrap_key", func(t *testing.T) {
		plain := generateKey(t, eng, aes256Spec, false, "encrypt")
		_, err := eng.WrapKey(target.ID, uint32(wire.FormatRaw), plain.ID, uint32(wire.WrappingAesKw), `{"with_padding":true}`)
		if !errors.Is(err, engine.ErrUnknownUsage) {
			t.Errorf("expected ErrUnknownUsage, got %v", err)
		}
	})
}

// =============================================================================
// Derivation
// =============================================================================

func TestU_Engine_DeriveEcdh(t *testing.T) {
	for _, spec := range []keySpec{p256Spec, k1Spec} {
		t.Run("[Unit] ECDH: "+spec.alg.String(), func(t *testing.T) {
			eng := New(nil)
			alice := generateKey(t, eng, spec, false, "derive_key")
			bob := generateKey(t, eng, spec, false, "derive_key")

			alicePub, err := eng.GetPublicKeyAsCryptoKey(alice.ID)
			if err != nil {
				t.Fatalf("GetPublicKeyAsCryptoKey() error = %v", err)
			}
			bobPub, err := eng.GetPublicKeyAsCryptoKey(bob.ID)
			if err != nil {
				t.Fatalf("GetPublicKeyAsCryptoKey() error = %v", err)
			}

			derive := func(base, peer string) []byte {
				m := meta(t, wire.EcdhMetadata{PublicKey: peer})
				desc, err := eng.DeriveKey(base, uint32(wire.DerivationEcdh), m,
					uint32(wire.DerivedKeyAes), meta(t, aes256Spec.meta), true, usages("encrypt"))
				if err != nil {
					t.Fatalf("DeriveKey() error = %v", err)
				}
				raw, err := eng.ExportKey(decodeKey(t, []byte(desc)).ID, uint32(wire.FormatRaw))
				if err != nil {
					t.Fatalf("ExportKey() error = %v", err)
				}
				return raw
			}

			a := derive(alice.ID, decodeKey(t, []byte(bobPub)).ID)
			b := derive(bob.ID, decodeKey(t, []byte(alicePub)).ID)
			if len(a) != 32 || !bytes.Equal(a, b) {
				t.Errorf("shared keys differ: %x vs %x", a, b)
			}
		})
	}

	t.Run("[Unit] ECDH: curve mismatch", func(t *testing.T) {
		eng := New(nil)
		p := generateKey(t, eng, p256Spec, false, "derive_key")
		k := generateKey(t, eng, k1Spec, false, "derive_key")
		m := meta(t, wire.EcdhMetadata{PublicKey: k.ID})
		_, err := eng.DeriveKey(p.ID, uint32(wire.DerivationEcdh), m, uint32(wire.DerivedKeyAes), meta(t, aes256Spec.meta), true, nil)
		if !errors.Is(err, engine.ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("[Unit] ECDH: unknown peer", func(t *testing.T) {
		eng := New(nil)
		p := generateKey(t, eng, p256Spec, false, "derive_key")
		m := meta(t, wire.EcdhMetadata{PublicKey: "nobody"})
		_, err := eng.DeriveKey(p.ID, uint32(wire.DerivationEcdh), m, uint32(wire.DerivedKeyAes), meta(t, aes256Spec.meta), true, nil)
		if !errors.Is(err, engine.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("[Unit] ECDH: base key without derive usage", func(t *testing.T) {
		eng := New(nil)
		p := generateKey(t, eng, p256Spec, false, "sign")
		m := meta(t, wire.EcdhMetadata{PublicKey: p.ID})
		_, err := eng.DeriveKey(p.ID, uint32(wire.DerivationEcdh), m, uint32(wire.DerivedKeyAes), meta(t, aes256Spec.meta), true, nil)
		if !errors.Is(err, engine.ErrUnknownUsage) {
			t.Errorf("expected ErrUnknownUsage, got %v", err)
		}
	})
}

func TestU_Engine_DeriveHkdf(t *testing.T) {
	eng := New(nil)
	ikm := bytes.Repeat([]byte{0x0b}, 22)
	data, err := eng.ImportKey("", uint32(wire.FormatRaw), ikm, uint32(wire.KeyAlgorithmHmac),
		meta(t, hmacSpec.meta), false, usages("derive_key"))
	if err != nil {
		t.Fatalf("ImportKey() error = %v", err)
	}
	base := decodeKey(t, data)

	hm := wire.HkdfMetadata{Salt: wire.Bytes{0, 1, 2}, Info: wire.Bytes("ctx"), HashInfo: sha256Meta}
	desc, err := eng.DeriveKey(base.ID, uint32(wire.DerivationHkdf), meta(t, hm),
		uint32(wire.DerivedKeyHmac), meta(t, wire.HmacMetadata{ShaMetadata: sha256Meta, Length: 512}), true, usages("sign"))
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	derived := decodeKey(t, []byte(desc))
	if derived.Type != "secret" || derived.Family != "hmac" {
		t.Errorf("derived = %+v", derived)
	}

	got, err := eng.ExportKey(derived.ID, uint32(wire.FormatRaw))
	if err != nil {
		t.Fatalf("ExportKey() error = %v", err)
	}
	expected := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, []byte{0, 1, 2}, []byte("ctx")), expected); err != nil {
		t.Fatalf("hkdf error = %v", err)
	}
	if !bytes.Equal(got, expected) {
		t.Errorf("derived key = %x, want %x", got, expected)
	}
}

// =============================================================================
// Persistence
// =============================================================================

func TestU_Engine_SaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	eng := New(store)
	key := generateKey(t, eng, k1Spec, false, "sign")

	t.Run("[Unit] SaveKey: unknown id", func(t *testing.T) {
		if err := eng.SaveKey("missing"); !errors.Is(err, engine.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	params, _ := json.Marshal(wire.KeyPersistParams{KeyID: key.ID, KeyName: "wallet", KeyType: "private"})
	if err := eng.PersistKey(params); err != nil {
		t.Fatalf("PersistKey() error = %v", err)
	}
	if err := eng.PersistKey(params); !errors.Is(err, engine.ErrKeyExists) {
		t.Errorf("second PersistKey() error = %v, want ErrKeyExists", err)
	}

	t.Run("[Unit] PersistKey: type mismatch", func(t *testing.T) {
		p, _ := json.Marshal(wire.KeyPersistParams{KeyID: key.ID, KeyName: "other", KeyType: "secret"})
		if err := eng.PersistKey(p); !errors.Is(err, engine.ErrInvalidMetadata) {
			t.Errorf("expected ErrInvalidMetadata, got %v", err)
		}
	})

	m := meta(t, wire.EcdsaSignatureMetadata{ShaMetadata: sha256Meta})
	sig, err := eng.Sign(key.ID, uint32(wire.SigningEcdsa), m, []byte("tx"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// A second engine over the same directory sees the alias.
	other := New(store)
	exists, err := other.KeyExists("wallet")
	if err != nil || !exists {
		t.Fatalf("KeyExists(wallet) = %v, %v", exists, err)
	}
	desc, err := other.LoadKey("wallet")
	if err != nil {
		t.Fatalf("LoadKey() error = %v", err)
	}
	loaded := decodeKey(t, []byte(desc))
	if loaded.ID != key.ID || loaded.AliasName() != "wallet" || loaded.Extractable {
		t.Errorf("loaded = %+v", loaded)
	}
	ok, err := other.Verify(loaded.ID, uint32(wire.SigningEcdsa), m, []byte("tx"), sig)
	if err != nil || !ok {
		t.Errorf("Verify() with loaded key = %v, %v", ok, err)
	}

	if err := other.DeleteKey("wallet"); err != nil {
		t.Fatalf("DeleteKey() error = %v", err)
	}
	if exists, _ := other.KeyExists("wallet"); exists {
		t.Error("alias still exists after delete")
	}
	if _, err := other.LoadKey("wallet"); !errors.Is(err, engine.ErrKeyNotFound) {
		t.Errorf("LoadKey() after delete error = %v, want ErrKeyNotFound", err)
	}
	if err := other.DeleteKey("wallet"); !errors.Is(err, engine.ErrKeyNotFound) {
		t.Errorf("second DeleteKey() error = %v, want ErrKeyNotFound", err)
	}
}

func TestU_Engine_SaveKeyByName(t *testing.T) {
	eng := New(nil)
	if _, err := eng.GenerateKey("session", uint32(wire.KeyAlgorithmAes), meta(t, aes256Spec.meta), false, usages("encrypt")); err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if err := eng.SaveKey("session"); err != nil {
		t.Fatalf("SaveKey() error = %v", err)
	}
	aliases, err := eng.Aliases()
	if err != nil || len(aliases) != 1 || aliases[0] != "session" {
		t.Errorf("Aliases() = %v, %v", aliases, err)
	}
	if err := eng.SaveKey("session"); !errors.Is(err, engine.ErrKeyExists) {
		t.Errorf("second SaveKey() error = %v, want ErrKeyExists", err)
	}
}
