// Package hostrpc exposes a host crypto engine over HTTP and provides the
// matching remote engine.
//
// Every host operation is a POST to /v1/host/{operation} whose body is a
// CBOR-encoded Call. Success answers a CBOR Result; failure answers a CBOR
// APIError with a machine-readable code that the Client maps back to the
// engine sentinel errors.
package hostrpc

import (
	"github.com/fxamacker/cbor/v2"
)

// ContentType is the media type of request and response bodies.
const ContentType = "application/cbor"

// Host operation names, as they appear in the request path.
const (
	OpKeyExists               = "key_exists"
	OpGenerateKey             = "generate_key"
	OpEncrypt                 = "encrypt"
	OpDecrypt                 = "decrypt"
	OpSign                    = "sign"
	OpVerify                  = "verify"
	OpDigest                  = "digest"
	OpImportKey               = "import_key"
	OpExportKey               = "export_key"
	OpWrapKey                 = "wrap_key"
	OpUnwrapKey               = "unwrap_key"
	OpGetPublicKey            = "get_public_key"
	OpGetPublicKeyAsCryptoKey = "get_public_key_as_crypto_key"
	OpDeriveKey               = "derive_key"
	OpSaveKey                 = "save_key"
	OpPersistKey              = "persist_key"
	OpLoadKey                 = "load_key"
	OpDeleteKey               = "delete_key"
	OpGetRandomBytes          = "get_random_bytes"
)

// Call carries the arguments of one host operation. Each operation reads
// the fields it needs and ignores the others.
type Call struct {
	// KeyName is the target key id, alias or requested name.
	KeyName string `cbor:"key_name,omitempty"`

	// AlgoID and Metadata describe the primary algorithm.
	AlgoID   uint32 `cbor:"algo_id,omitempty"`
	Metadata string `cbor:"metadata,omitempty"`

	// Format is a wire.KeyFormat identifier.
	Format uint32 `cbor:"format,omitempty"`

	// Data is the plaintext, ciphertext, message, key material or wrapped key.
	Data []byte `cbor:"data,omitempty"`

	// Signature is the signature checked by verify.
	Signature []byte `cbor:"signature,omitempty"`

	// OtherKey is the wrapping key (wrap_key) or unwrapping key (unwrap_key).
	OtherKey string `cbor:"other_key,omitempty"`

	// KeyAlgoID and KeyMetadata describe the derived or unwrapped key.
	KeyAlgoID   uint32 `cbor:"key_algo_id,omitempty"`
	KeyMetadata string `cbor:"key_metadata,omitempty"`

	Extractable bool    `cbor:"extractable,omitempty"`
	Usages      []uint8 `cbor:"usages,omitempty"`

	// Length is the number of random bytes requested.
	Length int `cbor:"length,omitempty"`
}

// Result carries the outcome of one host operation.
type Result struct {
	// Data holds returned bytes: ciphertext, signature, descriptor, key.
	Data []byte `cbor:"data,omitempty"`

	// Text holds a returned key descriptor in its JSON text form.
	Text string `cbor:"text,omitempty"`

	// OK is the boolean outcome of verify and key_exists.
	OK bool `cbor:"ok,omitempty"`
}

// APIError represents a standardized error response.
type APIError struct {
	// Code is a machine-readable error code.
	Code string `cbor:"code" json:"code"`

	// Message is a human-readable error message.
	Message string `cbor:"message" json:"message"`

	// Details provides additional context about the error.
	Details map[string]string `cbor:"details,omitempty" json:"details,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Status is "ok" or "degraded".
	Status string `json:"status"`

	// Version is the server version.
	Version string `json:"version"`

	// Engine names the backend engine.
	Engine string `json:"engine"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	// Ready indicates if the server is ready to accept requests.
	Ready bool `json:"ready"`

	// Checks lists individual readiness checks.
	Checks map[string]bool `json:"checks,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v in deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v, rejecting duplicate map keys.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
