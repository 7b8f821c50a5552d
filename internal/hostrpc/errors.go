package hostrpc

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// ErrMalformedResponse indicates a 200 reply that is oversized or not valid
// CBOR. It matches subtle.ErrMalformedReply, so the gateway reports it as a
// decode failure, not a host failure.
var ErrMalformedResponse = subtle.ErrMalformedReply

// Error codes for RPC responses.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnknownOperation   = "UNKNOWN_OPERATION"
	CodeKeyNotFound        = "KEY_NOT_FOUND"
	CodeKeyExists          = "KEY_EXISTS"
	CodeUnsupported        = "UNSUPPORTED"
	CodeInvalidMetadata    = "INVALID_METADATA"
	CodeNotExtractable     = "NOT_EXTRACTABLE"
	CodeForbiddenUsage     = "FORBIDDEN_USAGE"
	CodeInvalidKeyMaterial = "INVALID_KEY_MATERIAL"
	CodeInternal           = "INTERNAL_ERROR"
)

// sentinels pairs each engine sentinel with its status and code. MapError
// walks it in order and Client.decodeError walks it backwards by code.
var sentinels = []struct {
	err    error
	status int
	code   string
}{
	{engine.ErrKeyNotFound, http.StatusNotFound, CodeKeyNotFound},
	{engine.ErrKeyExists, http.StatusConflict, CodeKeyExists},
	{engine.ErrUnsupported, http.StatusNotImplemented, CodeUnsupported},
	{engine.ErrInvalidMetadata, http.StatusBadRequest, CodeInvalidMetadata},
	{engine.ErrNotExtractable, http.StatusForbidden, CodeNotExtractable},
	{engine.ErrUnknownUsage, http.StatusForbidden, CodeForbiddenUsage},
	{engine.ErrInvalidKeyMaterial, http.StatusUnprocessableEntity, CodeInvalidKeyMaterial},
}

// MapError maps an engine error to an HTTP status code and APIError.
func MapError(err error) (int, *APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.status, &APIError{Code: s.code, Message: err.Error()}
		}
	}

	// Default internal error
	return http.StatusInternalServerError, &APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *APIError {
	return &APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// RemoteError is a failure reported by the server that matches no engine
// sentinel.
type RemoteError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("hostrpc %s: %s (%d %s)", e.Op, e.Message, e.Status, e.Code)
}

// decodeError turns an error response back into an error chain. Known codes
// wrap the matching engine sentinel so errors.Is works across the wire.
func decodeError(op string, status int, apiErr *APIError) error {
	for _, s := range sentinels {
		if apiErr.Code == s.code {
			return fmt.Errorf("%w (remote %s: %s)", s.err, op, apiErr.Message)
		}
	}
	return &RemoteError{Op: op, Status: status, Code: apiErr.Code, Message: apiErr.Message}
}
