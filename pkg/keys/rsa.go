package keys

import (
	"fmt"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// rsaSaltLength is the PSS salt used by KeyRSA, in bytes.
const rsaSaltLength = 32

// KeyRSA is a persisted RSA-2048 key using OAEP and PSS.
type KeyRSA struct {
	client *subtle.Client
	key    subtle.CryptoKey
}

// GenerateRSA creates an RSA-2048/SHA-256 key named name with usages sign
// and decrypt.
func GenerateRSA(client *subtle.Client, name string) (*KeyRSA, error) {
	sha, err := subtle.ShaMetadata("sha-256")
	if err != nil {
		return nil, err
	}
	meta := wire.RsaMetadata{Modulus: wire.RsaBits2048, PublicExponent: 65537, ShaMetadata: sha}
	key, err := generateNamed(client, name, wire.KeyAlgorithmRsa, meta, "RSA-2048/SHA-256", []string{"sign", "decrypt"})
	if !held(err) {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyRSA{client: client, key: key}, err
}

// GetRSA returns the RSA key persisted under name.
func GetRSA(client *subtle.Client, name string) (*KeyRSA, error) {
	key, err := lookup(client, name)
	if !held(err) {
		return nil, err
	}
	return &KeyRSA{client: client, key: key}, err
}

// Key returns the underlying handle.
func (k *KeyRSA) Key() subtle.CryptoKey { return k.key }

func (k *KeyRSA) String() string {
	return fmt.Sprintf("KeyRSA: name: %s, length: 2048", k.key.AliasName())
}

// Encrypt encrypts data with RSA-OAEP and an empty label.
func (k *KeyRSA) Encrypt(data []byte) ([]byte, error) {
	return k.client.Encrypt(subtle.RsaOaepParams{}, k.key, data)
}

// Decrypt decrypts RSA-OAEP ciphertext.
func (k *KeyRSA) Decrypt(data []byte) ([]byte, error) {
	return k.client.Decrypt(subtle.RsaOaepParams{}, k.key, data)
}

// Sign signs data with RSA-PSS.
func (k *KeyRSA) Sign(data []byte) ([]byte, error) {
	return k.client.Sign(subtle.RsaPssParams{SaltLength: rsaSaltLength}, k.key, data)
}

// Verify checks an RSA-PSS signature.
func (k *KeyRSA) Verify(data, signature []byte) (subtle.VerifySignResult, error) {
	return k.client.Verify(subtle.RsaPssParams{SaltLength: rsaSaltLength}, k.key, data, signature)
}

// PublicKey returns the SubjectPublicKeyInfo of the key.
func (k *KeyRSA) PublicKey() (PublicKey, error) {
	return publicKeyOf(k.client, k.key)
}
