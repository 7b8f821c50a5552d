// Package subtle provides a WebCrypto-style API over a host crypto engine.
//
// The engine is reached through the Host interface and owns every key: this
// package never sees key material except where the caller explicitly
// exports, wraps or imports it. Keys are referenced through CryptoKey
// handles.
//
// Every operation validates its inputs against the fixed algorithm catalog
// before issuing exactly one host call (two for SaveKey, which checks the
// alias first). Failures are one of:
//
//   - *ValidationError: rejected locally, the host was not called
//   - *HostError: the host refused or failed, propagated verbatim
//   - *DecodeError: the host answered with an unexpected shape
//
// An operation that changed host state and then failed to write its audit
// event returns its result together with an *AuditError. The result is
// valid; check with IsAuditError before discarding it.
//
// Operations are never retried.
//
// Example:
//
//	client := subtle.New(host)
//	key, err := client.GenerateKey(subtle.AesKeyGenParams{Length: 256}, true,
//		[]string{"encrypt", "decrypt"})
//	if err != nil {
//		return err
//	}
//	ct, err := client.Encrypt(subtle.AesGcmParams{IV: iv, TagLength: 128}, key, data)
package subtle

import (
	"strings"

	"github.com/remiblancher/hostcrypto/internal/audit"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Client runs key lifecycle and cryptographic operations against a host.
// It holds no mutable state and is safe for concurrent use if the host is.
type Client struct {
	gw *Gateway
}

// New creates a Client over the given host.
func New(host Host) *Client {
	return &Client{gw: NewGateway(host)}
}

// Gateway exposes the raw host boundary, for callers that already hold
// numeric identifiers and encoded metadata.
func (c *Client) Gateway() *Gateway {
	return c.gw
}

func keyRef(k CryptoKey) audit.KeyRef {
	return audit.KeyRef{ID: k.ID, Alias: k.AliasName(), Kind: k.Type}
}

func requireKey(op string, k CryptoKey) error {
	if k.ID == "" {
		return invalid(op, ErrInvalidKey)
	}
	return nil
}

func requireInput(op string, data []byte) error {
	if len(data) == 0 {
		return invalid(op, ErrInvalidInput)
	}
	return nil
}

// GenerateKey creates an ephemeral key; the host assigns its id.
func (c *Client) GenerateKey(alg KeyGenAlgorithm, extractable bool, usages []string) (CryptoKey, error) {
	const op = "generate_key"

	id, meta, err := keyGenMetadata(alg)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}

	key, err := c.gw.GenerateKey("", id, meta, extractable, usages)
	if err != nil {
		return CryptoKey{}, err
	}

	return key, audited(op, audit.LogKeyCreated(audit.EventKeyGenerated, keyRef(key), algorithmName(alg), true))
}

// ImportKey imports key material in the named format (raw, pkcs8, spki,
// sec1, pkcs1) as an ephemeral key.
func (c *Client) ImportKey(format string, keyData []byte, alg KeyGenAlgorithm, extractable bool, usages []string) (CryptoKey, error) {
	const op = "import_key"

	if len(keyData) == 0 {
		return CryptoKey{}, invalid(op, ErrInvalidKeyData)
	}
	f, err := KeyFormat(format)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}
	id, meta, err := keyGenMetadata(alg)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}

	key, err := c.gw.ImportKey("", f, keyData, id, meta, extractable, usages)
	if err != nil {
		return CryptoKey{}, err
	}

	return key, audited(op, audit.LogKeyCreated(audit.EventKeyImported, keyRef(key), algorithmName(alg), true))
}

// Encrypt encrypts data under key.
func (c *Client) Encrypt(alg EncryptAlgorithm, key CryptoKey, data []byte) ([]byte, error) {
	const op = "encrypt"

	if err := requireInput(op, data); err != nil {
		return nil, err
	}
	if err := requireKey(op, key); err != nil {
		return nil, err
	}
	id, meta, err := encryptMetadata(alg)
	if err != nil {
		return nil, invalid(op, err)
	}

	return c.gw.Encrypt(key.ID, id, meta, data)
}

// Decrypt decrypts data under key.
func (c *Client) Decrypt(alg EncryptAlgorithm, key CryptoKey, data []byte) ([]byte, error) {
	const op = "decrypt"

	if err := requireInput(op, data); err != nil {
		return nil, err
	}
	if err := requireKey(op, key); err != nil {
		return nil, err
	}
	id, meta, err := encryptMetadata(alg)
	if err != nil {
		return nil, invalid(op, err)
	}

	return c.gw.Decrypt(key.ID, id, meta, data)
}

// Sign signs data with key.
func (c *Client) Sign(alg SignAlgorithm, key CryptoKey, data []byte) ([]byte, error) {
	const op = "sign"

	if err := requireInput(op, data); err != nil {
		return nil, err
	}
	if err := requireKey(op, key); err != nil {
		return nil, err
	}
	id, meta, err := signMetadata(alg)
	if err != nil {
		return nil, invalid(op, err)
	}

	return c.gw.Sign(key.ID, id, meta, data)
}

// Verify checks signature over data. A signature that does not match is
// reported through VerifySignResult.IsValid, not as an error.
func (c *Client) Verify(alg SignAlgorithm, key CryptoKey, data, signature []byte) (VerifySignResult, error) {
	const op = "verify"

	if err := requireInput(op, data); err != nil {
		return VerifySignResult{}, err
	}
	if err := requireInput(op, signature); err != nil {
		return VerifySignResult{}, err
	}
	if err := requireKey(op, key); err != nil {
		return VerifySignResult{}, err
	}
	id, meta, err := signMetadata(alg)
	if err != nil {
		return VerifySignResult{}, invalid(op, err)
	}

	return c.gw.Verify(key.ID, id, meta, data, signature)
}

// Digest hashes data with the named hash (SHA-256, SHA3-512, SHA1, ...).
func (c *Client) Digest(hash string, data []byte) ([]byte, error) {
	const op = "digest"

	if err := requireInput(op, data); err != nil {
		return nil, err
	}
	sha, err := ShaMetadata(hash)
	if err != nil {
		return nil, invalid(op, err)
	}
	meta, err := wire.Encode(sha)
	if err != nil {
		return nil, invalid(op, err)
	}

	return c.gw.Digest(wire.HashSha, meta, data)
}

// WrapKey exports key in format, encrypted under wrappingKey.
func (c *Client) WrapKey(format string, key, wrappingKey CryptoKey, alg KeyWrapAlgorithm) ([]byte, error) {
	const op = "wrap_key"

	f, err := KeyFormat(format)
	if err != nil {
		return nil, invalid(op, err)
	}
	if err := requireKey(op, key); err != nil {
		return nil, err
	}
	if err := requireKey(op, wrappingKey); err != nil {
		return nil, err
	}
	id, meta, err := wrapMetadata(alg)
	if err != nil {
		return nil, invalid(op, err)
	}

	out, err := c.gw.WrapKey(key.ID, f, wrappingKey.ID, id, meta)
	if err != nil {
		_ = audit.LogKeyWrapped(keyRef(key), wrappingKey.ID, f.String(), algorithmName(alg), false)
		return nil, err
	}

	return out, audited(op, audit.LogKeyWrapped(keyRef(key), wrappingKey.ID, f.String(), algorithmName(alg), true))
}

// UnwrapKey decrypts wrapped with unwrappingKey and imports the result as an
// ephemeral key described by keyAlg.
func (c *Client) UnwrapKey(format string, wrapped []byte, unwrappingKey CryptoKey,
	wrapAlg KeyWrapAlgorithm, keyAlg KeyGenAlgorithm, extractable bool, usages []string) (CryptoKey, error) {
	const op = "unwrap_key"

	f, err := KeyFormat(format)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}
	if err := requireInput(op, wrapped); err != nil {
		return CryptoKey{}, err
	}
	if err := requireKey(op, unwrappingKey); err != nil {
		return CryptoKey{}, err
	}
	wrapID, wrapMeta, err := wrapMetadata(wrapAlg)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}
	keyID, keyMeta, err := keyGenMetadata(keyAlg)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}

	key, err := c.gw.UnwrapKey(unwrappingKey.ID, wrapID, wrapMeta, f, wrapped, keyID, keyMeta, extractable, usages)
	if err != nil {
		return CryptoKey{}, err
	}

	return key, audited(op, audit.LogKeyCreated(audit.EventKeyUnwrapped, keyRef(key), algorithmName(keyAlg), true))
}

// ExportKey serializes key in the named format. The host refuses
// non-extractable keys.
func (c *Client) ExportKey(format string, key CryptoKey) ([]byte, error) {
	const op = "export_key"

	if err := requireKey(op, key); err != nil {
		return nil, err
	}
	f, err := KeyFormat(format)
	if err != nil {
		return nil, invalid(op, err)
	}

	out, err := c.gw.ExportKey(key.ID, f)
	if err != nil {
		_ = audit.LogKeyExported(keyRef(key), f.String(), false)
		return nil, err
	}

	return out, audited(op, audit.LogKeyExported(keyRef(key), f.String(), true))
}

// GetPublicKey returns the public half of an asymmetric private key as a new
// key.
func (c *Client) GetPublicKey(key CryptoKey) (CryptoKey, error) {
	const op = "get_public_key"

	if err := requireKey(op, key); err != nil {
		return CryptoKey{}, err
	}
	switch strings.ToLower(key.Type) {
	case "secret", "aes", "public":
		return CryptoKey{}, invalid(op, ErrInvalidKeyType)
	}

	return c.gw.GetPublicKeyAsCryptoKey(key.ID)
}

// DeriveKey derives an ephemeral key of derivedAlg from baseKey.
func (c *Client) DeriveKey(alg KeyDerivationAlgorithm, baseKey CryptoKey, derivedAlg DerivedKeyAlgorithm,
	extractable bool, usages []string) (CryptoKey, error) {
	const op = "derive_key"

	if err := requireKey(op, baseKey); err != nil {
		return CryptoKey{}, err
	}
	deriveID, deriveMeta, err := deriveMetadata(alg)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}
	derivedID, derivedMeta, err := derivedKeyMetadata(derivedAlg)
	if err != nil {
		return CryptoKey{}, invalid(op, err)
	}

	key, err := c.gw.DeriveKey(baseKey.ID, deriveID, deriveMeta, derivedID, derivedMeta, extractable, usages)
	if err != nil {
		return CryptoKey{}, err
	}

	return key, audited(op, audit.LogKeyDerived(keyRef(key), baseKey.ID, algorithmName(alg), true))
}

// SaveKey persists key under name and returns the key with its alias.
// It fails with ErrKeyNameAlreadyExists if the host already knows name.
func (c *Client) SaveKey(key CryptoKey, name string) (CryptoKey, error) {
	const op = "save_key"

	if err := requireKey(op, key); err != nil {
		return CryptoKey{}, err
	}
	if name == "" {
		return CryptoKey{}, invalid(op, ErrInvalidKeyName)
	}

	exists, err := c.gw.KeyExists(name)
	if err != nil {
		return CryptoKey{}, err
	}
	if exists {
		return CryptoKey{}, invalid(op, ErrKeyNameAlreadyExists)
	}

	err = c.gw.PersistKey(wire.KeyPersistParams{KeyID: key.ID, KeyName: name, KeyType: key.Type})
	if err != nil {
		return CryptoKey{}, err
	}

	saved := key.WithAlias(name)
	return saved, audited(op, audit.LogKeySaved(keyRef(saved), true))
}

// LoadKey resolves a persisted name to its key.
func (c *Client) LoadKey(name string) (CryptoKey, error) {
	const op = "load_key"

	if name == "" {
		return CryptoKey{}, invalid(op, ErrInvalidKeyName)
	}

	key, err := c.gw.LoadKey(name)
	if err != nil {
		return CryptoKey{}, err
	}

	return key, audited(op, audit.LogKeyLoaded(keyRef(key), true))
}

// DeleteKey destroys a persisted key on the host. Ephemeral keys cannot be
// deleted.
func (c *Client) DeleteKey(key CryptoKey) error {
	const op = "delete_key"

	if !key.IsPersisted() {
		return invalid(op, ErrInvalidKeyName)
	}

	if err := c.gw.DeleteKey(key.AliasName()); err != nil {
		_ = audit.LogKeyDeleted(keyRef(key), false)
		return err
	}

	return audited(op, audit.LogKeyDeleted(keyRef(key), true))
}

// KeyExists reports whether the host knows name as an id or alias.
func (c *Client) KeyExists(name string) (bool, error) {
	if name == "" {
		return false, invalid("key_exists", ErrInvalidKeyName)
	}
	return c.gw.KeyExists(name)
}

// RandomBytes returns n bytes from the host random source.
func (c *Client) RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, invalid("get_random_bytes", ErrInvalidInput)
	}
	return c.gw.RandomBytes(n)
}
