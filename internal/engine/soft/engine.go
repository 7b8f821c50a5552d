// Package soft implements an in-process host crypto engine.
//
// Keys live in memory, indexed by id. Saving a key writes a Record to a
// Store under its alias; loading reads it back. The engine is safe for
// concurrent use.
package soft

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Engine is the software host crypto engine.
type Engine struct {
	mu    sync.RWMutex
	keys  map[string]*entry
	store Store
}

// Ensure Engine implements subtle.Host.
var _ subtle.Host = (*Engine)(nil)

// New creates an engine persisting aliases in store. A nil store keeps
// aliases in memory.
func New(store Store) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Engine{keys: make(map[string]*entry), store: store}
}

// Store returns the alias store.
func (eng *Engine) Store() Store { return eng.store }

func (eng *Engine) get(id string) (*entry, error) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	e, ok := eng.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrKeyNotFound, id)
	}
	return e, nil
}

// register assigns an id to e and indexes it. An empty name draws a
// fresh id.
func (eng *Engine) register(name string, e *entry, extractable bool, usages []uint8) ([]byte, error) {
	names, err := engine.Usages(usages)
	if err != nil {
		return nil, err
	}
	if err := checkUsages(e.kind, names); err != nil {
		return nil, err
	}
	e.extractable = extractable
	e.usages = names

	eng.mu.Lock()
	if name == "" {
		name = uuid.NewString()
	} else if _, ok := eng.keys[name]; ok {
		eng.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", engine.ErrKeyExists, name)
	}
	e.id = name
	eng.keys[name] = e
	eng.mu.Unlock()

	log.Debug().Str("key_id", e.id).Str("algorithm", e.algorithm()).Msg("key registered")
	return engine.Descriptor(e.descriptor())
}

// KeyExists reports whether name is a known key id or a persisted alias.
func (eng *Engine) KeyExists(name string) (bool, error) {
	eng.mu.RLock()
	_, ok := eng.keys[name]
	eng.mu.RUnlock()
	if ok {
		return true, nil
	}
	return eng.store.Exists(name)
}

func (eng *Engine) GenerateKey(name string, algoID uint32, metadata string, extractable bool, usages []uint8) ([]byte, error) {
	e, err := generate(algoID, metadata)
	if err != nil {
		return nil, err
	}
	return eng.register(name, e, extractable, usages)
}

func (eng *Engine) Encrypt(keyName string, algoID uint32, metadata string, plaintext []byte) ([]byte, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	if err := e.permits("encrypt"); err != nil {
		return nil, err
	}
	return encrypt(e, algoID, metadata, plaintext)
}

func (eng *Engine) Decrypt(keyName string, algoID uint32, metadata string, ciphertext []byte) ([]byte, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	if err := e.permits("decrypt"); err != nil {
		return nil, err
	}
	return decrypt(e, algoID, metadata, ciphertext)
}

func (eng *Engine) Sign(keyName string, algoID uint32, metadata string, data []byte) ([]byte, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	if err := e.permits("sign"); err != nil {
		return nil, err
	}
	return sign(e, algoID, metadata, data)
}

func (eng *Engine) Verify(keyName string, algoID uint32, metadata string, data, signature []byte) (bool, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return false, err
	}
	if err := e.permits("verify"); err != nil {
		return false, err
	}
	return verify(e, algoID, metadata, data, signature)
}

func (eng *Engine) Digest(algoID uint32, metadata string, data []byte) ([]byte, error) {
	return digest(algoID, metadata, data)
}

func (eng *Engine) ImportKey(keyName string, format uint32, keyData []byte, algoID uint32, metadata string,
	extractable bool, usages []uint8) ([]byte, error) {
	e, err := importKey(format, keyData, algoID, metadata)
	if err != nil {
		return nil, err
	}
	return eng.register(keyName, e, extractable, usages)
}

func (eng *Engine) ExportKey(keyName string, format uint32) ([]byte, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	return export(e, format)
}

// export encodes e, refusing secret material of a non-extractable key.
func export(e *entry, format uint32) ([]byte, error) {
	if !e.extractable && exportsSecret(e, format) {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotExtractable, e.id)
	}
	return exportKey(e, format)
}

func (eng *Engine) WrapKey(keyName string, format uint32, wrappingKeyName string, algoID uint32, metadata string) ([]byte, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	wk, err := eng.get(wrappingKeyName)
	if err != nil {
		return nil, err
	}
	if err := wk.permits("wrap_key"); err != nil {
		return nil, err
	}
	data, err := export(e, format)
	if err != nil {
		return nil, err
	}
	return wrapBytes(wk, algoID, metadata, data)
}

func (eng *Engine) UnwrapKey(unwrappingKeyName string, wrapAlgoID uint32, wrapMetadata string, keyName string,
	format uint32, wrappedKey []byte, keyAlgoID uint32, keyMetadata string, extractable bool, usages []uint8) ([]byte, error) {
	uk, err := eng.get(unwrappingKeyName)
	if err != nil {
		return nil, err
	}
	if err := uk.permits("unwrap_key"); err != nil {
		return nil, err
	}
	data, err := unwrapBytes(uk, wrapAlgoID, wrapMetadata, wrappedKey)
	if err != nil {
		return nil, err
	}
	return eng.ImportKey(keyName, format, data, keyAlgoID, keyMetadata, extractable, usages)
}

func (eng *Engine) GetPublicKey(keyName string) ([]byte, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	return publicKeyDER(e)
}

// GetPublicKeyAsCryptoKey registers the public half of a key under a new
// id. The public half of a public key is the key itself.
func (eng *Engine) GetPublicKeyAsCryptoKey(keyName string) (string, error) {
	e, err := eng.get(keyName)
	if err != nil {
		return "", err
	}
	if e.typ == engine.TypePublic {
		data, err := engine.Descriptor(e.descriptor())
		return string(data), err
	}

	pub, err := publicHalf(e)
	if err != nil {
		return "", err
	}
	pub.id = uuid.NewString()
	eng.mu.Lock()
	eng.keys[pub.id] = pub
	eng.mu.Unlock()

	data, err := engine.Descriptor(pub.descriptor())
	return string(data), err
}

func (eng *Engine) DeriveKey(baseKeyName string, deriveAlgoID uint32, deriveMetadata string,
	derivedAlgoID uint32, derivedMetadata string, extractable bool, usages []uint8) (string, error) {
	base, err := eng.get(baseKeyName)
	if err != nil {
		return "", err
	}
	if base.permits("derive_key") != nil && base.permits("derive_bits") != nil {
		return "", fmt.Errorf("%w: key %s does not allow derivation", engine.ErrUnknownUsage, base.id)
	}

	build, length, err := derivedEntry(derivedAlgoID, derivedMetadata)
	if err != nil {
		return "", err
	}
	secret, err := deriveSecret(base, deriveAlgoID, deriveMetadata, length, eng.get)
	if err != nil {
		return "", err
	}
	e, err := build(secret)
	if err != nil {
		return "", err
	}
	data, err := eng.register("", e, extractable, usages)
	return string(data), err
}

// SaveKey persists the key whose id is name under the alias name.
func (eng *Engine) SaveKey(name string) error {
	return eng.persist(name, name, "")
}

// PersistKey persists a key under the alias in params.
func (eng *Engine) PersistKey(params []byte) error {
	var p wire.KeyPersistParams
	if err := json.Unmarshal(params, &p); err != nil {
		return fmt.Errorf("%w: persist parameters: %v", engine.ErrInvalidMetadata, err)
	}
	if p.KeyID == "" || p.KeyName == "" {
		return fmt.Errorf("%w: persist parameters need key_id and key_name", engine.ErrInvalidMetadata)
	}
	return eng.persist(p.KeyID, p.KeyName, p.KeyType)
}

func (eng *Engine) persist(id, alias, keyType string) error {
	e, err := eng.get(id)
	if err != nil {
		return err
	}
	if keyType != "" && keyType != e.typ {
		return fmt.Errorf("%w: key %s is %s, not %s", engine.ErrInvalidMetadata, id, e.typ, keyType)
	}
	rec, err := e.record(alias)
	if err != nil {
		return err
	}
	if err := eng.store.Put(rec); err != nil {
		return err
	}

	eng.mu.Lock()
	eng.keys[id] = e.withAlias(alias)
	eng.mu.Unlock()

	log.Debug().Str("key_id", id).Str("alias", alias).Msg("key persisted")
	return nil
}

// LoadKey materializes the key persisted under name.
func (eng *Engine) LoadKey(name string) (string, error) {
	rec, err := eng.store.Get(name)
	if err != nil {
		return "", err
	}
	e, err := fromRecord(rec)
	if err != nil {
		return "", fmt.Errorf("failed to load key %s: %w", name, err)
	}

	eng.mu.Lock()
	eng.keys[e.id] = e
	eng.mu.Unlock()

	log.Debug().Str("key_id", e.id).Str("alias", name).Msg("key loaded")
	data, err := engine.Descriptor(e.descriptor())
	return string(data), err
}

// DeleteKey destroys the key persisted under name, in the store and in
// memory.
func (eng *Engine) DeleteKey(name string) error {
	rec, err := eng.store.Get(name)
	if err != nil {
		return err
	}
	if err := eng.store.Delete(name); err != nil {
		return err
	}

	eng.mu.Lock()
	delete(eng.keys, rec.ID)
	eng.mu.Unlock()

	log.Debug().Str("key_id", rec.ID).Str("alias", name).Msg("key deleted")
	return nil
}

// GetRandomBytes draws n bytes from crypto/rand.
func (eng *Engine) GetRandomBytes(n int) ([]byte, error) {
	if err := engine.CheckRandomLength(n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Aliases lists the persisted aliases.
func (eng *Engine) Aliases() ([]string, error) {
	return eng.store.List()
}
