// Package engine holds what every host crypto engine shares: error
// sentinels, hash selection, usage decoding and key descriptors.
//
// Concrete engines live in sub-packages (soft, pkcs11) and implement
// subtle.Host.
package engine

import (
	"crypto"
	"crypto/sha1" //nolint:gosec // SHA-1 is part of the host hash catalog
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"slices"

	"golang.org/x/crypto/sha3"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Sentinel errors returned by engines.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrKeyNotFound indicates that no key is known under the id or alias.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExists indicates that the id or alias is already taken.
	ErrKeyExists = errors.New("key already exists")

	// ErrUnsupported indicates an algorithm, format or key combination the
	// engine does not implement.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrInvalidMetadata indicates metadata that does not decode or does not
	// fit the algorithm.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrNotExtractable indicates an export or wrap of a non-extractable key.
	ErrNotExtractable = errors.New("key is not extractable")

	// ErrUnknownUsage indicates a usage identifier outside the catalog, or a
	// key used for an operation it was not created for.
	ErrUnknownUsage = errors.New("unknown or forbidden key usage")

	// ErrInvalidKeyMaterial indicates key bytes that do not parse or do not
	// match the declared algorithm.
	ErrInvalidKeyMaterial = errors.New("invalid key material")
)

// MaxRandomBytes bounds a single get_random_bytes request.
const MaxRandomBytes = 64 << 10

// CheckRandomLength rejects random lengths outside 1..MaxRandomBytes.
func CheckRandomLength(n int) error {
	if n <= 0 || n > MaxRandomBytes {
		return fmt.Errorf("%w: random length %d outside 1..%d", ErrInvalidMetadata, n, MaxRandomBytes)
	}
	return nil
}

// Key types reported in descriptors.
const (
	TypeSecret  = "secret"
	TypePrivate = "private"
	TypePublic  = "public"
)

// Hash resolves host hash metadata to a constructor and its crypto.Hash.
func Hash(meta wire.ShaMetadata) (func() hash.Hash, crypto.Hash, error) {
	switch meta.AlgoID {
	case wire.Sha2:
		switch meta.Length {
		case wire.DigestBits256:
			return sha256.New, crypto.SHA256, nil
		case wire.DigestBits384:
			return sha512.New384, crypto.SHA384, nil
		case wire.DigestBits512:
			return sha512.New, crypto.SHA512, nil
		}
	case wire.Sha3:
		switch meta.Length {
		case wire.DigestBits256:
			return sha3.New256, crypto.SHA3_256, nil
		case wire.DigestBits384:
			return sha3.New384, crypto.SHA3_384, nil
		case wire.DigestBits512:
			return sha3.New512, crypto.SHA3_512, nil
		}
	case wire.Sha1:
		if meta.Length == wire.DigestBits160 {
			return sha1.New, crypto.SHA1, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: hash %s/%s", ErrUnsupported, meta.AlgoID, meta.Length)
}

// Sum hashes data with the function described by meta.
func Sum(meta wire.ShaMetadata, data []byte) ([]byte, error) {
	newHash, _, err := Hash(meta)
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(data)
	return h.Sum(nil), nil
}

// TaggedSum computes H(H(tag) || H(tag) || data), the domain-separated hash
// of BIP-340.
func TaggedSum(meta wire.TaggedShaMetadata, data []byte) ([]byte, error) {
	var algo wire.ShaAlgorithm
	switch meta.AlgoID {
	case wire.TaggedSha2:
		algo = wire.Sha2
	case wire.TaggedSha3:
		algo = wire.Sha3
	default:
		return nil, fmt.Errorf("%w: tagged hash %s", ErrUnsupported, meta.AlgoID)
	}
	sha := wire.ShaMetadata{AlgoID: algo, Length: meta.Length}
	tagHash, err := Sum(sha, []byte(meta.Tag))
	if err != nil {
		return nil, err
	}
	newHash, _, _ := Hash(sha)
	h := newHash()
	h.Write(tagHash)
	h.Write(tagHash)
	h.Write(data)
	return h.Sum(nil), nil
}

// DecodeMetadata parses algorithm metadata, mapping failures to
// ErrInvalidMetadata.
func DecodeMetadata[T any](metadata string) (T, error) {
	v, err := wire.Decode[T](metadata)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return v, nil
}

// Usages decodes host usage identifiers. The unknown identifier is
// rejected.
func Usages(ids []uint8) ([]string, error) {
	names, err := wire.UsageNames(ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownUsage, err)
	}
	return names, nil
}

// counterpart is the usage a private key grants through its public half.
var counterpart = map[string]string{
	"encrypt":  "decrypt",
	"verify":   "sign",
	"wrap_key": "unwrap_key",
}

// Permits reports whether a key of keyType declaring usages may be used for
// usage. A private key also covers the public-half counterpart of its
// usages (verify for sign, encrypt for decrypt, wrap_key for unwrap_key).
func Permits(keyType string, usages []string, usage string) bool {
	for _, u := range usages {
		if u == usage {
			return true
		}
		if keyType == TypePrivate && counterpart[usage] == u {
			return true
		}
	}
	return false
}

// PublicUsages returns the usages of the public half of a private key.
func PublicUsages(private []string) []string {
	out := []string{}
	for pub, priv := range counterpart {
		if slices.Contains(private, priv) {
			out = append(out, pub)
		}
	}
	return sortUsages(out)
}

// sortUsages orders usages by their host identifier.
func sortUsages(usages []string) []string {
	ids := wire.UsageIDs(usages)
	slices.Sort(ids)
	names, _ := wire.UsageNames(ids)
	return names
}

// Descriptor encodes a key descriptor as the host returns it.
func Descriptor(key subtle.CryptoKey) ([]byte, error) {
	if key.Usages == nil {
		key.Usages = []string{}
	}
	data, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key descriptor: %w", err)
	}
	return data, nil
}
