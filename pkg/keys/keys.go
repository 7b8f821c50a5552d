// Package keys provides named-key shortcuts over the subtle API.
//
// A named key is generated under a caller-chosen name and immediately
// persisted under the same alias, so it can be retrieved later with the
// matching Get function:
//
//	client := subtle.New(host)
//	k, err := keys.GenerateAES(client, "session")
//	if err != nil {
//		return err
//	}
//	ct, err := k.Encrypt([]byte("hello"))
package keys

import (
	"errors"
	"fmt"

	"github.com/remiblancher/hostcrypto/internal/audit"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

var (
	// ErrInvalidName indicates an empty key name.
	ErrInvalidName = errors.New("invalid key name: key name cannot be empty")

	// ErrNameExists indicates that the name is already taken on the host.
	ErrNameExists = errors.New("invalid key name: key name already exists")

	// ErrKeyNotFound indicates that no key is known under the name.
	ErrKeyNotFound = subtle.ErrKeyNotFound

	// ErrCiphertextTooShort indicates input shorter than the IV prefix.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// generateNamed creates a key whose id is name and persists it under the
// same alias.
func generateNamed(client *subtle.Client, name string, alg wire.KeyAlgorithm, metadata any,
	label string, usages []string) (subtle.CryptoKey, error) {
	if name == "" {
		return subtle.CryptoKey{}, ErrInvalidName
	}

	gw := client.Gateway()
	exists, err := gw.KeyExists(name)
	if err != nil {
		return subtle.CryptoKey{}, err
	}
	if exists {
		return subtle.CryptoKey{}, fmt.Errorf("%w: %s", ErrNameExists, name)
	}

	meta, err := wire.Encode(metadata)
	if err != nil {
		return subtle.CryptoKey{}, err
	}

	key, err := gw.GenerateKey(name, alg, meta, true, usages)
	if err != nil {
		return subtle.CryptoKey{}, err
	}
	ref := audit.KeyRef{ID: key.ID, Alias: name, Kind: key.Type}
	auditErr := audit.LogKeyCreated(audit.EventKeyGenerated, ref, label, true)

	if err := gw.SaveKey(name); err != nil {
		return subtle.CryptoKey{}, err
	}
	auditErr = errors.Join(auditErr, audit.LogKeySaved(ref, true))
	if auditErr != nil {
		return key.WithAlias(name), &subtle.AuditError{Op: "generate_key", Err: auditErr}
	}

	return key.WithAlias(name), nil
}

// held reports whether a key result came back usable: either without error
// or with only an audit failure attached.
func held(err error) bool {
	return err == nil || subtle.IsAuditError(err)
}

// lookup resolves an existing name to its key.
func lookup(client *subtle.Client, name string) (subtle.CryptoKey, error) {
	if name == "" {
		return subtle.CryptoKey{}, ErrInvalidName
	}
	exists, err := client.KeyExists(name)
	if err != nil {
		return subtle.CryptoKey{}, err
	}
	if !exists {
		return subtle.CryptoKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	return client.LoadKey(name)
}
