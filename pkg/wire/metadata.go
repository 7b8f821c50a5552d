package wire

import (
	"encoding/json"
	"fmt"
)

// ShaMetadata selects a SHA function.
type ShaMetadata struct {
	AlgoID ShaAlgorithm     `json:"algo_id"`
	Length ShaDigestBitsize `json:"length"`
}

// TaggedShaMetadata selects a domain-separated SHA function.
type TaggedShaMetadata struct {
	AlgoID TaggedShaAlgorithm `json:"algo_id"`
	Length ShaDigestBitsize   `json:"length"`
	Tag    string             `json:"tag"`
}

// HmacMetadata describes an HMAC key. Length is the key length in bits.
type HmacMetadata struct {
	ShaMetadata ShaMetadata `json:"sha_metadata"`
	Length      uint32      `json:"length"`
}

// SecpR1Metadata describes a NIST prime curve key.
type SecpR1Metadata struct {
	Length SecpR1KeyBitsize `json:"length"`
}

// SecpK1Metadata describes a secp256k1 key.
type SecpK1Metadata struct {
	Length SecpK1KeyBitsize `json:"length"`
}

// AesMetadata describes an AES key.
type AesMetadata struct {
	Length AesKeyBitsize `json:"length"`
}

// RsaMetadata describes an RSA key and the hash bound to it.
type RsaMetadata struct {
	Modulus        RsaKeyBitsize `json:"modulus"`
	PublicExponent uint32        `json:"public_exponent"`
	ShaMetadata    ShaMetadata   `json:"sha_metadata"`
}

// EcdsaSignatureMetadata selects the message hash for ECDSA.
type EcdsaSignatureMetadata struct {
	ShaMetadata ShaMetadata `json:"sha_metadata"`
}

// HmacSignatureMetadata selects the hash for an HMAC tag.
type HmacSignatureMetadata struct {
	ShaMetadata ShaMetadata `json:"sha_metadata"`
}

// RsaPssSignatureMetadata carries the PSS salt length in bytes.
type RsaPssSignatureMetadata struct {
	SaltLength uint64 `json:"saltLength"`
}

// AesGcmEncryptionMetadata carries the GCM nonce, associated data and tag length.
type AesGcmEncryptionMetadata struct {
	IV             Bytes        `json:"iv"`
	AdditionalData Bytes        `json:"additionalData"`
	TagLength      AesTagLength `json:"tagLength"`
}

// RsaOaepEncryptionMetadata carries the optional OAEP label.
type RsaOaepEncryptionMetadata struct {
	Label Bytes `json:"label"`
}

// AesKwWrappingMetadata selects RFC 3394 or, with padding, RFC 5649 key wrap.
type AesKwWrappingMetadata struct {
	WithPadding bool `json:"with_padding"`
}

// EcdhMetadata names the peer public key by its host identifier.
type EcdhMetadata struct {
	PublicKey string `json:"public_key"`
}

// HkdfMetadata carries the HKDF salt, info and hash.
type HkdfMetadata struct {
	Salt     Bytes       `json:"salt"`
	Info     Bytes       `json:"info"`
	HashInfo ShaMetadata `json:"hash_info"`
}

// KeyPersistParams binds a key to a persisted alias.
type KeyPersistParams struct {
	KeyID   string `json:"key_id"`
	KeyName string `json:"key_name"`
	KeyType string `json:"key_type"`
}

// Encode serializes a metadata structure to the JSON string sent to the host.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// Decode parses a metadata JSON string received by a host engine.
func Decode[T any](metadata string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(metadata), &v); err != nil {
		return v, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return v, nil
}
