package subtle

import (
	"errors"
	"fmt"

	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// ValidationError reports input rejected before any host call.
// It supports errors.Is() and errors.As() through Unwrap.
type ValidationError struct {
	Op  string // Operation: "generate_key", "encrypt", "save_key", ...
	Err error  // Underlying sentinel, e.g. ErrInvalidInput
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ValidationError) Unwrap() error { return e.Err }

// HostError reports a failure returned by the host crypto engine. The
// underlying error is propagated verbatim.
type HostError struct {
	Op  string // Host capability: "generate_key", "encrypt", ...
	Err error  // Error returned by the host
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HostError) Unwrap() error { return e.Err }

// DecodeError reports a host reply that is not valid UTF-8 or JSON of the
// expected shape. It is distinct from HostError: the host accepted the call
// but answered unexpectedly.
type DecodeError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DecodeError) Unwrap() error { return e.Err }

// AuditError reports that the host operation succeeded but its audit event
// could not be written. The operation's result is returned alongside it and
// is valid: the key exists on the host.
type AuditError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *AuditError) Error() string {
	return fmt.Sprintf("%s succeeded but was not audited: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AuditError) Unwrap() error { return e.Err }

// IsAuditError reports whether err only records an audit failure, meaning the
// result returned with it is usable.
func IsAuditError(err error) bool {
	var ae *AuditError
	return errors.As(err, &ae)
}

func invalid(op string, err error) error {
	return &ValidationError{Op: op, Err: err}
}

// audited turns the outcome of an audit write into an *AuditError, or nil.
func audited(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AuditError{Op: op, Err: err}
}

// Sentinel errors for validation.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrInvalidHashAlgorithm indicates an unsupported hash name.
	ErrInvalidHashAlgorithm = errors.New("invalid hash algorithm")

	// ErrInvalidModulusLength indicates an RSA modulus outside {2048, 3072, 4096}.
	ErrInvalidModulusLength = errors.New("invalid modulus length")

	// ErrInvalidCurveName indicates an unsupported named curve.
	ErrInvalidCurveName = errors.New("invalid curve name")

	// ErrInvalidAesKeyLength indicates an AES length outside {128, 192, 256}.
	ErrInvalidAesKeyLength = errors.New("invalid AES key length")

	// ErrInvalidTagLength indicates a GCM tag length outside {96, 104, 112, 120, 128}.
	ErrInvalidTagLength = errors.New("invalid tag length")

	// ErrInvalidKeyFormat indicates an unsupported key format name.
	ErrInvalidKeyFormat = errors.New("invalid key format")

	// ErrInvalidKeyData indicates empty key material on import.
	ErrInvalidKeyData = errors.New("invalid key data")

	// ErrInvalidInput indicates an empty payload, signature or wrapped key.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidKey indicates a key without an identifier.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidKeyType indicates an operation not defined for the key type.
	ErrInvalidKeyType = errors.New("invalid key type")

	// ErrInvalidKeyName indicates an empty or missing key name or alias.
	ErrInvalidKeyName = errors.New("invalid key name: cannot be null or empty")

	// ErrKeyNameAlreadyExists indicates that a persisted alias is taken.
	ErrKeyNameAlreadyExists = errors.New("invalid key name: key name already exists")

	// ErrKeyNotFound indicates that a named key does not exist on the host.
	ErrKeyNotFound = errors.New("key not found")

	// ErrMalformedReply is wrapped by hosts whose reply could not be framed
	// or parsed at all. The gateway reports it as a DecodeError rather than a
	// HostError.
	ErrMalformedReply = errors.New("malformed host reply")

	// ErrUnknownAlgorithmVariant indicates a nil or undeclared algorithm
	// variant, or an undeclared numeric identifier.
	ErrUnknownAlgorithmVariant = wire.ErrUnknownAlgorithmVariant
)
