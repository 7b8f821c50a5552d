package subtle

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Gateway is the only component that calls the Host. It translates usage
// tags, numeric identifiers and metadata strings into host calls, wraps host
// failures in HostError and malformed replies in DecodeError. It holds no
// cryptographic state.
type Gateway struct {
	host Host
}

// NewGateway creates a Gateway over the given host.
func NewGateway(host Host) *Gateway {
	return &Gateway{host: host}
}

func hostErr(op string, err error) error {
	if errors.Is(err, ErrMalformedReply) {
		return &DecodeError{Op: op, Err: err}
	}
	return &HostError{Op: op, Err: err}
}

// decodeKey parses a JSON key descriptor returned by the host.
func decodeKey(op string, data []byte) (CryptoKey, error) {
	if !utf8.Valid(data) {
		return CryptoKey{}, &DecodeError{Op: op, Err: errors.New("reply is not valid UTF-8")}
	}
	var key CryptoKey
	if err := json.Unmarshal(data, &key); err != nil {
		return CryptoKey{}, &DecodeError{Op: op, Err: err}
	}
	if key.ID == "" {
		return CryptoKey{}, &DecodeError{Op: op, Err: errors.New("key descriptor has no id")}
	}
	return key, nil
}

// KeyExists reports whether the host knows the name.
func (g *Gateway) KeyExists(name string) (bool, error) {
	exists, err := g.host.KeyExists(name)
	if err != nil {
		return false, hostErr("key_exists", err)
	}
	return exists, nil
}

// GenerateKey creates a key; name "" lets the host assign the id.
func (g *Gateway) GenerateKey(name string, alg wire.KeyAlgorithm, metadata string, extractable bool, usages []string) (CryptoKey, error) {
	out, err := g.host.GenerateKey(name, uint32(alg), metadata, extractable, wire.UsageIDs(usages))
	if err != nil {
		return CryptoKey{}, hostErr("generate_key", err)
	}
	return decodeKey("generate_key", out)
}

// Encrypt encrypts plaintext under the named key.
func (g *Gateway) Encrypt(keyName string, alg wire.EncryptionAlgorithm, metadata string, plaintext []byte) ([]byte, error) {
	out, err := g.host.Encrypt(keyName, uint32(alg), metadata, plaintext)
	if err != nil {
		return nil, hostErr("encrypt", err)
	}
	return out, nil
}

// Decrypt decrypts ciphertext under the named key.
func (g *Gateway) Decrypt(keyName string, alg wire.EncryptionAlgorithm, metadata string, ciphertext []byte) ([]byte, error) {
	out, err := g.host.Decrypt(keyName, uint32(alg), metadata, ciphertext)
	if err != nil {
		return nil, hostErr("decrypt", err)
	}
	return out, nil
}

// Sign signs data with the named key.
func (g *Gateway) Sign(keyName string, alg wire.SigningAlgorithm, metadata string, data []byte) ([]byte, error) {
	out, err := g.host.Sign(keyName, uint32(alg), metadata, data)
	if err != nil {
		return nil, hostErr("sign", err)
	}
	return out, nil
}

// Verify checks a signature. A mismatch is IsValid false, not an error.
func (g *Gateway) Verify(keyName string, alg wire.SigningAlgorithm, metadata string, data, signature []byte) (VerifySignResult, error) {
	ok, err := g.host.Verify(keyName, uint32(alg), metadata, data, signature)
	if err != nil {
		return VerifySignResult{}, hostErr("verify", err)
	}
	return VerifySignResult{IsValid: ok}, nil
}

// Digest hashes data; no key is involved.
func (g *Gateway) Digest(alg wire.HashAlgorithm, metadata string, data []byte) ([]byte, error) {
	out, err := g.host.Digest(uint32(alg), metadata, data)
	if err != nil {
		return nil, hostErr("digest", err)
	}
	return out, nil
}

// ImportKey imports key material; name "" lets the host assign the id.
func (g *Gateway) ImportKey(name string, format wire.KeyFormat, keyData []byte, alg wire.KeyAlgorithm, metadata string, extractable bool, usages []string) (CryptoKey, error) {
	out, err := g.host.ImportKey(name, uint32(format), keyData, uint32(alg), metadata, extractable, wire.UsageIDs(usages))
	if err != nil {
		return CryptoKey{}, hostErr("import_key", err)
	}
	return decodeKey("import_key", out)
}

// ExportKey serializes the named key.
func (g *Gateway) ExportKey(keyName string, format wire.KeyFormat) ([]byte, error) {
	out, err := g.host.ExportKey(keyName, uint32(format))
	if err != nil {
		return nil, hostErr("export_key", err)
	}
	return out, nil
}

// WrapKey exports keyName in format and encrypts it under wrappingKeyName.
func (g *Gateway) WrapKey(keyName string, format wire.KeyFormat, wrappingKeyName string, alg wire.WrappingAlgorithm, metadata string) ([]byte, error) {
	out, err := g.host.WrapKey(keyName, uint32(format), wrappingKeyName, uint32(alg), metadata)
	if err != nil {
		return nil, hostErr("wrap_key", err)
	}
	return out, nil
}

// UnwrapKey decrypts a wrapped key and imports it as a new key.
func (g *Gateway) UnwrapKey(unwrappingKeyName string, wrapAlg wire.WrappingAlgorithm, wrapMetadata string,
	format wire.KeyFormat, wrappedKey []byte, keyAlg wire.KeyAlgorithm, keyMetadata string,
	extractable bool, usages []string) (CryptoKey, error) {
	out, err := g.host.UnwrapKey(unwrappingKeyName, uint32(wrapAlg), wrapMetadata, "", uint32(format),
		wrappedKey, uint32(keyAlg), keyMetadata, extractable, wire.UsageIDs(usages))
	if err != nil {
		return CryptoKey{}, hostErr("unwrap_key", err)
	}
	return decodeKey("unwrap_key", out)
}

// GetPublicKey returns the encoded public half of the named key.
func (g *Gateway) GetPublicKey(keyName string) ([]byte, error) {
	out, err := g.host.GetPublicKey(keyName)
	if err != nil {
		return nil, hostErr("get_public_key", err)
	}
	return out, nil
}

// GetPublicKeyAsCryptoKey materializes the public half as its own key.
func (g *Gateway) GetPublicKeyAsCryptoKey(keyName string) (CryptoKey, error) {
	out, err := g.host.GetPublicKeyAsCryptoKey(keyName)
	if err != nil {
		return CryptoKey{}, hostErr("get_public_key_as_crypto_key", err)
	}
	return decodeKey("get_public_key_as_crypto_key", []byte(out))
}

// DeriveKey derives a new key from baseKeyName.
func (g *Gateway) DeriveKey(baseKeyName string, deriveAlg wire.DerivationAlgorithm, deriveMetadata string,
	derivedAlg wire.DerivedKeyUsageAlgorithm, derivedMetadata string, extractable bool, usages []string) (CryptoKey, error) {
	out, err := g.host.DeriveKey(baseKeyName, uint32(deriveAlg), deriveMetadata, uint32(derivedAlg), derivedMetadata,
		extractable, wire.UsageIDs(usages))
	if err != nil {
		return CryptoKey{}, hostErr("derive_key", err)
	}
	return decodeKey("derive_key", []byte(out))
}

// SaveKey persists the key whose id is name under the same alias.
func (g *Gateway) SaveKey(name string) error {
	if err := g.host.SaveKey(name); err != nil {
		return hostErr("save_key", err)
	}
	return nil
}

// PersistKey binds a key id to an alias.
func (g *Gateway) PersistKey(params wire.KeyPersistParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode persist params: %w", err)
	}
	if err := g.host.PersistKey(data); err != nil {
		return hostErr("persist_key", err)
	}
	return nil
}

// LoadKey returns the descriptor of a persisted alias.
func (g *Gateway) LoadKey(name string) (CryptoKey, error) {
	out, err := g.host.LoadKey(name)
	if err != nil {
		return CryptoKey{}, hostErr("load_key", err)
	}
	return decodeKey("load_key", []byte(out))
}

// DeleteKey destroys a persisted alias and its key.
func (g *Gateway) DeleteKey(name string) error {
	if err := g.host.DeleteKey(name); err != nil {
		return hostErr("delete_key", err)
	}
	return nil
}

// RandomBytes draws n bytes from the host random source.
func (g *Gateway) RandomBytes(n int) ([]byte, error) {
	out, err := g.host.GetRandomBytes(n)
	if err != nil {
		return nil, hostErr("get_random_bytes", err)
	}
	if len(out) != n {
		return nil, &DecodeError{Op: "get_random_bytes", Err: fmt.Errorf("expected %d bytes, got %d", n, len(out))}
	}
	return out, nil
}
