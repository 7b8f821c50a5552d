// Package wire defines the numeric algorithm catalog and the JSON metadata
// structures exchanged with the host crypto engine.
//
// Every enumeration is a closed set with an explicit numeric discriminant.
// Values encode as JSON numbers; decoding a number outside the set fails with
// ErrUnknownAlgorithmVariant, and so does encoding an undeclared value, so no
// invalid identifier ever crosses the host boundary.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownAlgorithmVariant is returned when a numeric identifier does not
// belong to its enumeration.
var ErrUnknownAlgorithmVariant = errors.New("unknown algorithm variant")

type enum interface{ ~uint32 }

func enumString[T enum](v T, names map[T]string) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(v))
}

func parseEnum[T enum](n uint32, names map[T]string, family string) (T, error) {
	v := T(n)
	if _, ok := names[v]; !ok {
		return 0, fmt.Errorf("%w: %s %d", ErrUnknownAlgorithmVariant, family, n)
	}
	return v, nil
}

func marshalEnum[T enum](v T, names map[T]string, family string) ([]byte, error) {
	if _, ok := names[v]; !ok {
		return nil, fmt.Errorf("%w: %s %d", ErrUnknownAlgorithmVariant, family, uint32(v))
	}
	return json.Marshal(uint32(v))
}

func unmarshalEnum[T enum](data []byte, names map[T]string, family string) (T, error) {
	var n uint32
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnknownAlgorithmVariant, family, err)
	}
	return parseEnum(n, names, family)
}

// =============================================================================
// Operation families
// =============================================================================

// KeyAlgorithm identifies the key type for generate, import and unwrap.
type KeyAlgorithm uint32

const (
	KeyAlgorithmSecpR1 KeyAlgorithm = 0
	KeyAlgorithmSecpK1 KeyAlgorithm = 1
	KeyAlgorithmAes    KeyAlgorithm = 2
	KeyAlgorithmRsa    KeyAlgorithm = 3
	KeyAlgorithmHmac   KeyAlgorithm = 4
)

var keyAlgorithmNames = map[KeyAlgorithm]string{
	KeyAlgorithmSecpR1: "secp-r1",
	KeyAlgorithmSecpK1: "secp-k1",
	KeyAlgorithmAes:    "aes",
	KeyAlgorithmRsa:    "rsa",
	KeyAlgorithmHmac:   "hmac",
}

// ParseKeyAlgorithm validates a host numeric identifier.
func ParseKeyAlgorithm(n uint32) (KeyAlgorithm, error) {
	return parseEnum(n, keyAlgorithmNames, "key algorithm")
}

func (a KeyAlgorithm) String() string { return enumString(a, keyAlgorithmNames) }

func (a KeyAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, keyAlgorithmNames, "key algorithm")
}

func (a *KeyAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, keyAlgorithmNames, "key algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// EncryptionAlgorithm identifies the cipher for encrypt and decrypt.
type EncryptionAlgorithm uint32

const (
	EncryptionAesGcm       EncryptionAlgorithm = 0
	EncryptionRsaOaep      EncryptionAlgorithm = 1
	EncryptionRsaPkcs1V1_5 EncryptionAlgorithm = 2
)

var encryptionAlgorithmNames = map[EncryptionAlgorithm]string{
	EncryptionAesGcm:       "AES-GCM",
	EncryptionRsaOaep:      "RSA-OAEP",
	EncryptionRsaPkcs1V1_5: "RSA-PKCS1-v1_5",
}

// ParseEncryptionAlgorithm validates a host numeric identifier.
func ParseEncryptionAlgorithm(n uint32) (EncryptionAlgorithm, error) {
	return parseEnum(n, encryptionAlgorithmNames, "encryption algorithm")
}

func (a EncryptionAlgorithm) String() string { return enumString(a, encryptionAlgorithmNames) }

func (a EncryptionAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, encryptionAlgorithmNames, "encryption algorithm")
}

func (a *EncryptionAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, encryptionAlgorithmNames, "encryption algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// WrappingAlgorithm identifies the transport algorithm for wrap and unwrap.
type WrappingAlgorithm uint32

const (
	WrappingAesKw        WrappingAlgorithm = 0
	WrappingAesGcm       WrappingAlgorithm = 1
	WrappingRsaOaep      WrappingAlgorithm = 2
	WrappingRsaPkcs1V1_5 WrappingAlgorithm = 3
)

var wrappingAlgorithmNames = map[WrappingAlgorithm]string{
	WrappingAesKw:        "AES-KW",
	WrappingAesGcm:       "AES-GCM",
	WrappingRsaOaep:      "RSA-OAEP",
	WrappingRsaPkcs1V1_5: "RSA-PKCS1-v1_5",
}

// ParseWrappingAlgorithm validates a host numeric identifier.
func ParseWrappingAlgorithm(n uint32) (WrappingAlgorithm, error) {
	return parseEnum(n, wrappingAlgorithmNames, "wrapping algorithm")
}

func (a WrappingAlgorithm) String() string { return enumString(a, wrappingAlgorithmNames) }

func (a WrappingAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, wrappingAlgorithmNames, "wrapping algorithm")
}

func (a *WrappingAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, wrappingAlgorithmNames, "wrapping algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// SigningAlgorithm identifies the scheme for sign and verify.
type SigningAlgorithm uint32

const (
	SigningEcdsa   SigningAlgorithm = 0
	SigningSchnorr SigningAlgorithm = 1
	SigningRsaPss  SigningAlgorithm = 2
	SigningHmac    SigningAlgorithm = 3
)

var signingAlgorithmNames = map[SigningAlgorithm]string{
	SigningEcdsa:   "ECDSA",
	SigningSchnorr: "Schnorr",
	SigningRsaPss:  "RSA-PSS",
	SigningHmac:    "HMAC",
}

// ParseSigningAlgorithm validates a host numeric identifier.
func ParseSigningAlgorithm(n uint32) (SigningAlgorithm, error) {
	return parseEnum(n, signingAlgorithmNames, "signing algorithm")
}

func (a SigningAlgorithm) String() string { return enumString(a, signingAlgorithmNames) }

func (a SigningAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, signingAlgorithmNames, "signing algorithm")
}

func (a *SigningAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, signingAlgorithmNames, "signing algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// DerivationAlgorithm identifies the key derivation function.
type DerivationAlgorithm uint32

const (
	DerivationEcdh DerivationAlgorithm = 0
	DerivationHkdf DerivationAlgorithm = 1
)

var derivationAlgorithmNames = map[DerivationAlgorithm]string{
	DerivationEcdh: "ECDH",
	DerivationHkdf: "HKDF",
}

// ParseDerivationAlgorithm validates a host numeric identifier.
func ParseDerivationAlgorithm(n uint32) (DerivationAlgorithm, error) {
	return parseEnum(n, derivationAlgorithmNames, "derivation algorithm")
}

func (a DerivationAlgorithm) String() string { return enumString(a, derivationAlgorithmNames) }

func (a DerivationAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, derivationAlgorithmNames, "derivation algorithm")
}

func (a *DerivationAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, derivationAlgorithmNames, "derivation algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// DerivedKeyUsageAlgorithm identifies the type of a derived key.
type DerivedKeyUsageAlgorithm uint32

const (
	DerivedKeyAes  DerivedKeyUsageAlgorithm = 0
	DerivedKeyHmac DerivedKeyUsageAlgorithm = 1
)

var derivedKeyUsageAlgorithmNames = map[DerivedKeyUsageAlgorithm]string{
	DerivedKeyAes:  "AES",
	DerivedKeyHmac: "HMAC",
}

// ParseDerivedKeyUsageAlgorithm validates a host numeric identifier.
func ParseDerivedKeyUsageAlgorithm(n uint32) (DerivedKeyUsageAlgorithm, error) {
	return parseEnum(n, derivedKeyUsageAlgorithmNames, "derived key algorithm")
}

func (a DerivedKeyUsageAlgorithm) String() string {
	return enumString(a, derivedKeyUsageAlgorithmNames)
}

func (a DerivedKeyUsageAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, derivedKeyUsageAlgorithmNames, "derived key algorithm")
}

func (a *DerivedKeyUsageAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, derivedKeyUsageAlgorithmNames, "derived key algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// HashAlgorithm identifies the hashing family used by digest.
type HashAlgorithm uint32

const (
	HashSha    HashAlgorithm = 0
	HashTagged HashAlgorithm = 1
)

var hashAlgorithmNames = map[HashAlgorithm]string{
	HashSha:    "sha",
	HashTagged: "tagged-sha",
}

// ParseHashAlgorithm validates a host numeric identifier.
func ParseHashAlgorithm(n uint32) (HashAlgorithm, error) {
	return parseEnum(n, hashAlgorithmNames, "hash algorithm")
}

func (a HashAlgorithm) String() string { return enumString(a, hashAlgorithmNames) }

func (a HashAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, hashAlgorithmNames, "hash algorithm")
}

func (a *HashAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, hashAlgorithmNames, "hash algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// =============================================================================
// Hash parameters
// =============================================================================

// ShaAlgorithm identifies the SHA generation.
type ShaAlgorithm uint32

const (
	ShaNone ShaAlgorithm = 0
	Sha2    ShaAlgorithm = 1
	Sha3    ShaAlgorithm = 2
	Sha1    ShaAlgorithm = 3
)

var shaAlgorithmNames = map[ShaAlgorithm]string{
	ShaNone: "none",
	Sha2:    "sha2",
	Sha3:    "sha3",
	Sha1:    "sha1",
}

func (a ShaAlgorithm) String() string { return enumString(a, shaAlgorithmNames) }

func (a ShaAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, shaAlgorithmNames, "sha algorithm")
}

func (a *ShaAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, shaAlgorithmNames, "sha algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// TaggedShaAlgorithm identifies the SHA generation of a tagged hash.
type TaggedShaAlgorithm uint32

const (
	TaggedShaNone TaggedShaAlgorithm = 0
	TaggedSha2    TaggedShaAlgorithm = 1
	TaggedSha3    TaggedShaAlgorithm = 2
)

var taggedShaAlgorithmNames = map[TaggedShaAlgorithm]string{
	TaggedShaNone: "none",
	TaggedSha2:    "sha2",
	TaggedSha3:    "sha3",
}

func (a TaggedShaAlgorithm) String() string { return enumString(a, taggedShaAlgorithmNames) }

func (a TaggedShaAlgorithm) MarshalJSON() ([]byte, error) {
	return marshalEnum(a, taggedShaAlgorithmNames, "tagged sha algorithm")
}

func (a *TaggedShaAlgorithm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, taggedShaAlgorithmNames, "tagged sha algorithm")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ShaDigestBitsize is a digest length in bits.
type ShaDigestBitsize uint32

const (
	DigestBits256 ShaDigestBitsize = 256
	DigestBits384 ShaDigestBitsize = 384
	DigestBits512 ShaDigestBitsize = 512
	DigestBits160 ShaDigestBitsize = 160
)

var shaDigestBitsizeNames = map[ShaDigestBitsize]string{
	DigestBits256: "256",
	DigestBits384: "384",
	DigestBits512: "512",
	DigestBits160: "160",
}

// Bytes returns the digest length in bytes.
func (b ShaDigestBitsize) Bytes() int { return int(b) / 8 }

func (b ShaDigestBitsize) String() string { return enumString(b, shaDigestBitsizeNames) }

func (b ShaDigestBitsize) MarshalJSON() ([]byte, error) {
	return marshalEnum(b, shaDigestBitsizeNames, "digest size")
}

func (b *ShaDigestBitsize) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, shaDigestBitsizeNames, "digest size")
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// =============================================================================
// Key sizes
// =============================================================================

// SecpR1KeyBitsize is a NIST prime curve size.
type SecpR1KeyBitsize uint32

const (
	SecpR1Bits256 SecpR1KeyBitsize = 256
	SecpR1Bits384 SecpR1KeyBitsize = 384
	SecpR1Bits521 SecpR1KeyBitsize = 521
)

var secpR1KeyBitsizeNames = map[SecpR1KeyBitsize]string{
	SecpR1Bits256: "P-256",
	SecpR1Bits384: "P-384",
	SecpR1Bits521: "P-521",
}

func (b SecpR1KeyBitsize) String() string { return enumString(b, secpR1KeyBitsizeNames) }

func (b SecpR1KeyBitsize) MarshalJSON() ([]byte, error) {
	return marshalEnum(b, secpR1KeyBitsizeNames, "secp-r1 size")
}

func (b *SecpR1KeyBitsize) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, secpR1KeyBitsizeNames, "secp-r1 size")
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// SecpK1KeyBitsize is a Koblitz curve size.
type SecpK1KeyBitsize uint32

const SecpK1Bits256 SecpK1KeyBitsize = 256

var secpK1KeyBitsizeNames = map[SecpK1KeyBitsize]string{
	SecpK1Bits256: "secp256k1",
}

func (b SecpK1KeyBitsize) String() string { return enumString(b, secpK1KeyBitsizeNames) }

func (b SecpK1KeyBitsize) MarshalJSON() ([]byte, error) {
	return marshalEnum(b, secpK1KeyBitsizeNames, "secp-k1 size")
}

func (b *SecpK1KeyBitsize) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, secpK1KeyBitsizeNames, "secp-k1 size")
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// AesKeyBitsize is an AES key length in bits.
type AesKeyBitsize uint32

const (
	AesBits128 AesKeyBitsize = 128
	AesBits192 AesKeyBitsize = 192
	AesBits256 AesKeyBitsize = 256
)

var aesKeyBitsizeNames = map[AesKeyBitsize]string{
	AesBits128: "128",
	AesBits192: "192",
	AesBits256: "256",
}

// Bytes returns the key length in bytes.
func (b AesKeyBitsize) Bytes() int { return int(b) / 8 }

func (b AesKeyBitsize) String() string { return enumString(b, aesKeyBitsizeNames) }

func (b AesKeyBitsize) MarshalJSON() ([]byte, error) {
	return marshalEnum(b, aesKeyBitsizeNames, "aes key size")
}

func (b *AesKeyBitsize) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, aesKeyBitsizeNames, "aes key size")
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// RsaKeyBitsize is an RSA modulus length in bits.
type RsaKeyBitsize uint32

const (
	RsaBits2048 RsaKeyBitsize = 2048
	RsaBits3072 RsaKeyBitsize = 3072
	RsaBits4096 RsaKeyBitsize = 4096
)

var rsaKeyBitsizeNames = map[RsaKeyBitsize]string{
	RsaBits2048: "2048",
	RsaBits3072: "3072",
	RsaBits4096: "4096",
}

func (b RsaKeyBitsize) String() string { return enumString(b, rsaKeyBitsizeNames) }

func (b RsaKeyBitsize) MarshalJSON() ([]byte, error) {
	return marshalEnum(b, rsaKeyBitsizeNames, "rsa modulus")
}

func (b *RsaKeyBitsize) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, rsaKeyBitsizeNames, "rsa modulus")
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// AesTagLength is a GCM authentication tag length. The wire value is the
// length in bytes.
type AesTagLength uint32

const (
	Tag96  AesTagLength = 12
	Tag104 AesTagLength = 13
	Tag112 AesTagLength = 14
	Tag120 AesTagLength = 15
	Tag128 AesTagLength = 16
)

var aesTagLengthNames = map[AesTagLength]string{
	Tag96:  "96",
	Tag104: "104",
	Tag112: "112",
	Tag120: "120",
	Tag128: "128",
}

// Bytes returns the tag length in bytes.
func (t AesTagLength) Bytes() int { return int(t) }

// Bits returns the tag length in bits.
func (t AesTagLength) Bits() int { return int(t) * 8 }

func (t AesTagLength) String() string { return enumString(t, aesTagLengthNames) }

func (t AesTagLength) MarshalJSON() ([]byte, error) {
	return marshalEnum(t, aesTagLengthNames, "aes tag length")
}

func (t *AesTagLength) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, aesTagLengthNames, "aes tag length")
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// =============================================================================
// Key formats
// =============================================================================

// KeyFormat identifies a key serialization for import, export and wrap.
type KeyFormat uint32

const (
	FormatRaw   KeyFormat = 0
	FormatSpki  KeyFormat = 1
	FormatPkcs8 KeyFormat = 2
	FormatJwk   KeyFormat = 3
	FormatSec1  KeyFormat = 4
	FormatPkcs1 KeyFormat = 5
)

var keyFormatNames = map[KeyFormat]string{
	FormatRaw:   "raw",
	FormatSpki:  "spki",
	FormatPkcs8: "pkcs8",
	FormatJwk:   "jwk",
	FormatSec1:  "sec1",
	FormatPkcs1: "pkcs1",
}

// ParseKeyFormat validates a host numeric identifier.
func ParseKeyFormat(n uint32) (KeyFormat, error) {
	return parseEnum(n, keyFormatNames, "key format")
}

func (f KeyFormat) String() string { return enumString(f, keyFormatNames) }

func (f KeyFormat) MarshalJSON() ([]byte, error) {
	return marshalEnum(f, keyFormatNames, "key format")
}

func (f *KeyFormat) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, keyFormatNames, "key format")
	if err != nil {
		return err
	}
	*f = v
	return nil
}
