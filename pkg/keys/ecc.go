package keys

import (
	"fmt"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// KeyECC is a persisted P-256 ECDSA key.
type KeyECC struct {
	client *subtle.Client
	key    subtle.CryptoKey
}

// GenerateECC creates a P-256 key named name with usage sign.
func GenerateECC(client *subtle.Client, name string) (*KeyECC, error) {
	key, err := generateNamed(client, name, wire.KeyAlgorithmSecpR1,
		wire.SecpR1Metadata{Length: wire.SecpR1Bits256}, "EC/P-256", []string{"sign"})
	if !held(err) {
		return nil, fmt.Errorf("failed to generate ECC key: %w", err)
	}
	return &KeyECC{client: client, key: key}, err
}

// GetECC returns the ECC key persisted under name.
func GetECC(client *subtle.Client, name string) (*KeyECC, error) {
	key, err := lookup(client, name)
	if !held(err) {
		return nil, err
	}
	return &KeyECC{client: client, key: key}, err
}

// Key returns the underlying handle.
func (k *KeyECC) Key() subtle.CryptoKey { return k.key }

func (k *KeyECC) String() string {
	return fmt.Sprintf("KeyECC: name: %s, curve: P-256", k.key.AliasName())
}

// Sign signs data with ECDSA over SHA2-256. The signature is r || s.
func (k *KeyECC) Sign(data []byte) ([]byte, error) {
	return k.client.Sign(subtle.DefaultEcdsaParams(), k.key, data)
}

// Verify checks an ECDSA signature produced by Sign.
func (k *KeyECC) Verify(data, signature []byte) (subtle.VerifySignResult, error) {
	return k.client.Verify(subtle.DefaultEcdsaParams(), k.key, data, signature)
}

// PublicKey returns the SubjectPublicKeyInfo of the key.
func (k *KeyECC) PublicKey() (PublicKey, error) {
	return publicKeyOf(k.client, k.key)
}
