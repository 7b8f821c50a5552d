package subtle

import (
	"fmt"
	"strings"

	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Metadata builders validate public parameters against the fixed catalog and
// map them to host wire metadata. They perform no I/O and run before every
// host call.

var shaByName = map[string]wire.ShaMetadata{
	"sha1":     {AlgoID: wire.Sha1, Length: wire.DigestBits160},
	"sha1-160": {AlgoID: wire.Sha1, Length: wire.DigestBits160},
	"sha-256":  {AlgoID: wire.Sha2, Length: wire.DigestBits256},
	"sha-384":  {AlgoID: wire.Sha2, Length: wire.DigestBits384},
	"sha-512":  {AlgoID: wire.Sha2, Length: wire.DigestBits512},
	"sha2-256": {AlgoID: wire.Sha2, Length: wire.DigestBits256},
	"sha2-384": {AlgoID: wire.Sha2, Length: wire.DigestBits384},
	"sha2-512": {AlgoID: wire.Sha2, Length: wire.DigestBits512},
	"sha3-256": {AlgoID: wire.Sha3, Length: wire.DigestBits256},
	"sha3-384": {AlgoID: wire.Sha3, Length: wire.DigestBits384},
	"sha3-512": {AlgoID: wire.Sha3, Length: wire.DigestBits512},
}

var secpR1ByCurve = map[string]wire.SecpR1KeyBitsize{
	"p-256": wire.SecpR1Bits256,
	"p-384": wire.SecpR1Bits384,
	"p-521": wire.SecpR1Bits521,
}

var formatByName = map[string]wire.KeyFormat{
	"raw":   wire.FormatRaw,
	"spki":  wire.FormatSpki,
	"pkcs8": wire.FormatPkcs8,
	"sec1":  wire.FormatSec1,
	"pkcs1": wire.FormatPkcs1,
}

// ShaMetadata maps a case-insensitive hash name (sha-256, sha2-384, sha3-512,
// sha1, ...) to host hash metadata.
func ShaMetadata(name string) (wire.ShaMetadata, error) {
	meta, ok := shaByName[strings.ToLower(name)]
	if !ok {
		return wire.ShaMetadata{}, fmt.Errorf("%w: %q", ErrInvalidHashAlgorithm, name)
	}
	return meta, nil
}

// RsaMetadata validates the modulus length and hash of an RSA key.
func RsaMetadata(p RsaHashedKeyGenParams) (wire.RsaMetadata, error) {
	var modulus wire.RsaKeyBitsize
	switch p.ModulusLength {
	case 2048:
		modulus = wire.RsaBits2048
	case 3072:
		modulus = wire.RsaBits3072
	case 4096:
		modulus = wire.RsaBits4096
	default:
		return wire.RsaMetadata{}, fmt.Errorf("%w: %d", ErrInvalidModulusLength, p.ModulusLength)
	}

	sha, err := ShaMetadata(p.Hash)
	if err != nil {
		return wire.RsaMetadata{}, err
	}

	return wire.RsaMetadata{
		Modulus:        modulus,
		PublicExponent: p.PublicExponent,
		ShaMetadata:    sha,
	}, nil
}

// IsSecpK1 reports whether the curve name designates secp256k1.
func IsSecpK1(curve string) bool {
	return strings.EqualFold(curve, "secp256k1")
}

// SecpR1Metadata accepts P-256, P-384 and P-521.
func SecpR1Metadata(p EcKeyGenParams) (wire.SecpR1Metadata, error) {
	size, ok := secpR1ByCurve[strings.ToLower(p.NamedCurve)]
	if !ok {
		return wire.SecpR1Metadata{}, fmt.Errorf("%w: %q", ErrInvalidCurveName, p.NamedCurve)
	}
	return wire.SecpR1Metadata{Length: size}, nil
}

// SecpK1Metadata accepts secp256k1 only.
func SecpK1Metadata(p EcKeyGenParams) (wire.SecpK1Metadata, error) {
	if !IsSecpK1(p.NamedCurve) {
		return wire.SecpK1Metadata{}, fmt.Errorf("%w: %q", ErrInvalidCurveName, p.NamedCurve)
	}
	return wire.SecpK1Metadata{Length: wire.SecpK1Bits256}, nil
}

// AesMetadata accepts 128, 192 and 256-bit keys.
func AesMetadata(p AesKeyGenParams) (wire.AesMetadata, error) {
	switch p.Length {
	case 128:
		return wire.AesMetadata{Length: wire.AesBits128}, nil
	case 192:
		return wire.AesMetadata{Length: wire.AesBits192}, nil
	case 256:
		return wire.AesMetadata{Length: wire.AesBits256}, nil
	}
	return wire.AesMetadata{}, fmt.Errorf("%w: %d", ErrInvalidAesKeyLength, p.Length)
}

// HmacMetadata sizes the HMAC key to the digest length of its hash.
func HmacMetadata(p HmacKeyGenParams) (wire.HmacMetadata, error) {
	sha, err := ShaMetadata(p.Hash)
	if err != nil {
		return wire.HmacMetadata{}, err
	}
	return wire.HmacMetadata{ShaMetadata: sha, Length: uint32(sha.Length)}, nil
}

// AesTagLength maps a GCM tag length in bits to its wire value.
func AesTagLength(bits uint32) (wire.AesTagLength, error) {
	switch bits {
	case 96:
		return wire.Tag96, nil
	case 104:
		return wire.Tag104, nil
	case 112:
		return wire.Tag112, nil
	case 120:
		return wire.Tag120, nil
	case 128:
		return wire.Tag128, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidTagLength, bits)
}

// KeyFormat maps a case-insensitive format name (raw, pkcs8, spki, sec1,
// pkcs1) to its wire value.
func KeyFormat(name string) (wire.KeyFormat, error) {
	format, ok := formatByName[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKeyFormat, name)
	}
	return format, nil
}

// AesGcmMetadata validates the tag length of GCM parameters.
func AesGcmMetadata(p AesGcmParams) (wire.AesGcmEncryptionMetadata, error) {
	tag, err := AesTagLength(p.TagLength)
	if err != nil {
		return wire.AesGcmEncryptionMetadata{}, err
	}
	return wire.AesGcmEncryptionMetadata{
		IV:             wire.Bytes(p.IV),
		AdditionalData: wire.Bytes(p.AdditionalData),
		TagLength:      tag,
	}, nil
}

// EcdhMetadata references the peer public key by its host identifier.
func EcdhMetadata(p EcdhKeyDeriveParams) (wire.EcdhMetadata, error) {
	if p.Public.ID == "" {
		return wire.EcdhMetadata{}, fmt.Errorf("%w: peer public key has no id", ErrInvalidKey)
	}
	return wire.EcdhMetadata{PublicKey: p.Public.ID}, nil
}

// HkdfMetadata validates the HKDF hash.
func HkdfMetadata(p HkdfParams) (wire.HkdfMetadata, error) {
	sha, err := ShaMetadata(p.Hash)
	if err != nil {
		return wire.HkdfMetadata{}, err
	}
	return wire.HkdfMetadata{
		Salt:     wire.Bytes(p.Salt),
		Info:     wire.Bytes(p.Info),
		HashInfo: sha,
	}, nil
}
