package keys

import (
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// PublicKey holds a DER-encoded SubjectPublicKeyInfo.
type PublicKey struct {
	DER []byte
}

// PEM returns the key as a "PUBLIC KEY" block.
func (p PublicKey) PEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: p.DER}))
}

func (p PublicKey) String() string {
	return "PublicKey: " + base64.StdEncoding.EncodeToString(p.DER)
}

// PrivateKey holds a DER-encoded PKCS#8 private key.
type PrivateKey struct {
	DER []byte
}

// PEM returns the key as a "PRIVATE KEY" block.
func (p PrivateKey) PEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: p.DER}))
}

// String never prints the key material.
func (p PrivateKey) String() string {
	return fmt.Sprintf("PrivateKey: %d bytes", len(p.DER))
}

// ParsePublicKeyPEM decodes a "PUBLIC KEY" block.
func ParsePublicKeyPEM(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return PublicKey{}, fmt.Errorf("no PUBLIC KEY block found")
	}
	return PublicKey{DER: block.Bytes}, nil
}

// ExportPrivateKey exports an extractable private key as PKCS#8.
func ExportPrivateKey(client *subtle.Client, key subtle.CryptoKey) (PrivateKey, error) {
	der, err := client.ExportKey("pkcs8", key)
	if !held(err) {
		return PrivateKey{}, err
	}
	return PrivateKey{DER: der}, err
}

func publicKeyOf(client *subtle.Client, key subtle.CryptoKey) (PublicKey, error) {
	der, err := client.Gateway().GetPublicKey(key.ID)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKey{DER: der}, nil
}
