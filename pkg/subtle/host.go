package subtle

// Host is the narrow function set exposed by the external crypto engine.
//
// Algorithm and format identifiers are the numeric values of package wire;
// metadata arguments are the JSON encodings of the wire metadata structures;
// usages are wire.KeyUsage identifiers. Functions returning a key descriptor
// return the JSON encoding of CryptoKey. A key name argument is the key id,
// or "" to let the host assign one.
//
// Implementations own key storage, usage enforcement and any concurrency
// control over persisted aliases. Calls are never retried by this package.
type Host interface {
	KeyExists(name string) (bool, error)

	GenerateKey(name string, algoID uint32, metadata string, extractable bool, usages []uint8) ([]byte, error)

	Encrypt(keyName string, algoID uint32, metadata string, plaintext []byte) ([]byte, error)
	Decrypt(keyName string, algoID uint32, metadata string, ciphertext []byte) ([]byte, error)

	Sign(keyName string, algoID uint32, metadata string, data []byte) ([]byte, error)
	Verify(keyName string, algoID uint32, metadata string, data, signature []byte) (bool, error)

	Digest(algoID uint32, metadata string, data []byte) ([]byte, error)

	ImportKey(keyName string, format uint32, keyData []byte, algoID uint32, metadata string, extractable bool, usages []uint8) ([]byte, error)
	ExportKey(keyName string, format uint32) ([]byte, error)

	WrapKey(keyName string, format uint32, wrappingKeyName string, algoID uint32, metadata string) ([]byte, error)
	UnwrapKey(unwrappingKeyName string, wrapAlgoID uint32, wrapMetadata string, keyName string, format uint32,
		wrappedKey []byte, keyAlgoID uint32, keyMetadata string, extractable bool, usages []uint8) ([]byte, error)

	GetPublicKey(keyName string) ([]byte, error)
	GetPublicKeyAsCryptoKey(keyName string) (string, error)

	DeriveKey(baseKeyName string, deriveAlgoID uint32, deriveMetadata string,
		derivedAlgoID uint32, derivedMetadata string, extractable bool, usages []uint8) (string, error)

	SaveKey(name string) error
	PersistKey(params []byte) error
	LoadKey(name string) (string, error)
	DeleteKey(name string) error

	GetRandomBytes(n int) ([]byte, error)
}
