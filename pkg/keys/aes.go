package keys

import (
	"fmt"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// aesIVSize is the GCM nonce prefixed to every ciphertext.
const aesIVSize = 12

// KeyAES is a persisted AES-256-GCM key.
type KeyAES struct {
	client *subtle.Client
	key    subtle.CryptoKey
}

// GenerateAES creates an AES-256 key named name with usages encrypt and
// decrypt.
func GenerateAES(client *subtle.Client, name string) (*KeyAES, error) {
	key, err := generateNamed(client, name, wire.KeyAlgorithmAes,
		wire.AesMetadata{Length: wire.AesBits256}, "AES-256", []string{"encrypt", "decrypt"})
	if !held(err) {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}
	return &KeyAES{client: client, key: key}, err
}

// GetAES returns the AES key persisted under name.
func GetAES(client *subtle.Client, name string) (*KeyAES, error) {
	key, err := lookup(client, name)
	if !held(err) {
		return nil, err
	}
	return &KeyAES{client: client, key: key}, err
}

// Key returns the underlying handle.
func (k *KeyAES) Key() subtle.CryptoKey { return k.key }

func (k *KeyAES) String() string {
	return fmt.Sprintf("KeyAES: name: %s, length: 256", k.key.AliasName())
}

// Encrypt seals data under a fresh host-generated IV with a 96-bit tag and
// returns iv || ciphertext.
func (k *KeyAES) Encrypt(data []byte) ([]byte, error) {
	iv, err := k.client.RandomBytes(aesIVSize)
	if err != nil {
		return nil, err
	}
	ct, err := k.client.Encrypt(subtle.AesGcmParams{IV: iv, AdditionalData: []byte{}, TagLength: 96}, k.key, data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(iv)+len(ct))
	out = append(out, iv...)
	return append(out, ct...), nil
}

// Decrypt opens iv || ciphertext produced by Encrypt.
func (k *KeyAES) Decrypt(data []byte) ([]byte, error) {
	if len(data) <= aesIVSize {
		return nil, ErrCiphertextTooShort
	}
	params := subtle.AesGcmParams{IV: data[:aesIVSize], AdditionalData: []byte{}, TagLength: 96}
	return k.client.Decrypt(params, k.key, data[aesIVSize:])
}
