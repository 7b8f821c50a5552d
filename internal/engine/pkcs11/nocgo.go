//go:build !cgo

package pkcs11

import (
	"errors"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// errNoCGO is returned when PKCS#11 operations are attempted without CGO.
var errNoCGO = errors.New("HSM support requires CGO (build with CGO_ENABLED=1)")

// Engine is the PKCS#11 engine. This stub is used when CGO is not available.
type Engine struct {
	subtle.Host
}

// New returns an error when CGO is not available.
func New(_ Config) (*Engine, error) {
	return nil, errNoCGO
}

// Close is a no-op without CGO.
func (eng *Engine) Close() error {
	return nil
}

// ListSlots returns an error when CGO is not available.
func ListSlots(_ string) (*ModuleInfo, error) {
	return nil, errNoCGO
}
