package subtle

// Algorithm variant families.
//
// Each family is a closed set: the marker method is unexported, so only the
// parameter types declared in this file can satisfy it. Exactly one variant
// is active per call. Variants are passed by value.

// KeyGenAlgorithm selects the key produced by GenerateKey, ImportKey and
// UnwrapKey: RsaHashedKeyGenParams, EcKeyGenParams, AesKeyGenParams or
// HmacKeyGenParams.
type KeyGenAlgorithm interface {
	keyGenAlgorithm()
}

// EncryptAlgorithm selects the cipher of Encrypt and Decrypt:
// RsaOaepParams or AesGcmParams.
type EncryptAlgorithm interface {
	encryptAlgorithm()
}

// SignAlgorithm selects the scheme of Sign and Verify:
// EcdsaParams, RsaPssParams or HmacParams.
type SignAlgorithm interface {
	signAlgorithm()
}

// KeyWrapAlgorithm selects the transport of WrapKey and UnwrapKey:
// RsaOaepParams, AesGcmParams or AesKwParams.
type KeyWrapAlgorithm interface {
	keyWrapAlgorithm()
}

// KeyDerivationAlgorithm selects the function of DeriveKey:
// EcdhKeyDeriveParams or HkdfParams.
type KeyDerivationAlgorithm interface {
	keyDerivationAlgorithm()
}

// DerivedKeyAlgorithm selects the key produced by DeriveKey:
// AesKeyGenParams or HmacKeyGenParams.
type DerivedKeyAlgorithm interface {
	derivedKeyAlgorithm()
}

// RsaHashedKeyGenParams describes an RSA key bound to a hash.
type RsaHashedKeyGenParams struct {
	ModulusLength  uint32
	PublicExponent uint32
	Hash           string
}

// DefaultRsaHashedKeyGenParams returns RSA-2048, exponent 65537, SHA-256.
func DefaultRsaHashedKeyGenParams() RsaHashedKeyGenParams {
	return RsaHashedKeyGenParams{ModulusLength: 2048, PublicExponent: 65537, Hash: "SHA-256"}
}

// EcKeyGenParams describes an elliptic curve key.
type EcKeyGenParams struct {
	// NamedCurve is P-256, P-384, P-521 or secp256k1.
	NamedCurve string
}

// DefaultEcKeyGenParams returns P-256.
func DefaultEcKeyGenParams() EcKeyGenParams {
	return EcKeyGenParams{NamedCurve: "P-256"}
}

// AesKeyGenParams describes an AES key.
type AesKeyGenParams struct {
	// Length in bits: 128, 192 or 256.
	Length uint32
}

// DefaultAesKeyGenParams returns AES-256.
func DefaultAesKeyGenParams() AesKeyGenParams {
	return AesKeyGenParams{Length: 256}
}

// HmacKeyGenParams describes an HMAC key. The key length is the digest size
// of Hash.
type HmacKeyGenParams struct {
	Hash string
}

// RsaOaepParams carries the optional OAEP label.
type RsaOaepParams struct {
	Label []byte
}

// AesGcmParams carries the GCM nonce, associated data and tag length.
type AesGcmParams struct {
	IV             []byte
	AdditionalData []byte
	// TagLength in bits: 96, 104, 112, 120 or 128.
	TagLength uint32
}

// DefaultAesGcmParams returns empty IV and associated data with a 128-bit tag.
func DefaultAesGcmParams() AesGcmParams {
	return AesGcmParams{IV: []byte{}, AdditionalData: []byte{}, TagLength: 128}
}

// AesKwParams selects AES key wrap. Padding (RFC 5649) is always enabled.
type AesKwParams struct{}

// EcdsaParams selects the ECDSA message hash.
type EcdsaParams struct {
	Hash string
}

// DefaultEcdsaParams returns SHA2-256.
func DefaultEcdsaParams() EcdsaParams {
	return EcdsaParams{Hash: "SHA2-256"}
}

// RsaPssParams carries the PSS salt length in bytes.
type RsaPssParams struct {
	SaltLength uint32
}

// HmacParams selects the HMAC hash.
type HmacParams struct {
	Hash string
}

// EcdhKeyDeriveParams names the peer public key.
type EcdhKeyDeriveParams struct {
	Public CryptoKey
}

// HkdfParams carries the HKDF salt, info and hash.
type HkdfParams struct {
	Salt []byte
	Info []byte
	Hash string
}

func (RsaHashedKeyGenParams) keyGenAlgorithm() {}
func (EcKeyGenParams) keyGenAlgorithm()        {}
func (AesKeyGenParams) keyGenAlgorithm()       {}
func (HmacKeyGenParams) keyGenAlgorithm()      {}

func (RsaOaepParams) encryptAlgorithm() {}
func (AesGcmParams) encryptAlgorithm()  {}

func (EcdsaParams) signAlgorithm()  {}
func (RsaPssParams) signAlgorithm() {}
func (HmacParams) signAlgorithm()   {}

func (RsaOaepParams) keyWrapAlgorithm() {}
func (AesGcmParams) keyWrapAlgorithm()  {}
func (AesKwParams) keyWrapAlgorithm()   {}

func (EcdhKeyDeriveParams) keyDerivationAlgorithm() {}
func (HkdfParams) keyDerivationAlgorithm()          {}

func (AesKeyGenParams) derivedKeyAlgorithm()  {}
func (HmacKeyGenParams) derivedKeyAlgorithm() {}
