//go:build cgo

package pkcs11

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/miekg/pkcs11"
	"github.com/rs/zerolog/log"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Engine is a host crypto engine over one PKCS#11 token.
type Engine struct {
	pool *sessionPool

	mu   sync.RWMutex
	keys map[string]*object
}

// Ensure Engine implements subtle.Host.
var _ subtle.Host = (*Engine)(nil)

// New opens the token described by cfg and logs in with the PIN from the
// configured environment variable.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PKCS#11 config: %w", err)
	}
	pin, err := cfg.PIN()
	if err != nil {
		return nil, err
	}
	slot, err := findSlot(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := openPool(cfg.Lib, slot, pin)
	if err != nil {
		return nil, err
	}

	// Open the first session now so a wrong PIN fails here.
	_, release, err := pool.Acquire()
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	release()

	log.Debug().Str("module", cfg.Lib).Uint("slot", slot).Msg("PKCS#11 engine opened")
	return &Engine{pool: pool, keys: make(map[string]*object)}, nil
}

// Close releases the token. Unsaved keys are session objects and vanish.
func (eng *Engine) Close() error {
	return eng.pool.Close()
}

// findSlot resolves the slot from the configuration: the explicit slot,
// else the token matching the label or serial.
func findSlot(cfg Config) (uint, error) {
	if cfg.Slot != nil {
		return *cfg.Slot, nil
	}

	ctx, err := loadModule(cfg.Lib)
	if err != nil {
		return 0, err
	}
	// C_Finalize is process-wide; only the context is released here.
	defer ctx.Destroy()

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if cfg.Token != "" && info.Label == cfg.Token {
			return slot, nil
		}
		if cfg.TokenSerial != "" && info.SerialNumber == cfg.TokenSerial {
			return slot, nil
		}
	}

	if cfg.Token != "" {
		return 0, fmt.Errorf("token with label %q not found", cfg.Token)
	}
	return 0, fmt.Errorf("token with serial %q not found", cfg.TokenSerial)
}

// ListSlots lists the slots of a PKCS#11 module. No session is opened.
func ListSlots(modulePath string) (*ModuleInfo, error) {
	ctx, err := loadModule(modulePath)
	if err != nil {
		return nil, err
	}
	defer ctx.Destroy()

	slots, err := ctx.GetSlotList(false)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot list: %w", err)
	}

	info := &ModuleInfo{ModulePath: modulePath, Slots: make([]SlotInfo, 0, len(slots))}
	for _, slot := range slots {
		slotInfo, err := ctx.GetSlotInfo(slot)
		if err != nil {
			continue
		}
		si := SlotInfo{
			ID:          slot,
			Description: slotInfo.SlotDescription,
			HasToken:    slotInfo.Flags&pkcs11.CKF_TOKEN_PRESENT != 0,
		}
		if si.HasToken {
			if tokenInfo, err := ctx.GetTokenInfo(slot); err == nil {
				si.TokenLabel = tokenInfo.Label
				si.TokenSerial = tokenInfo.SerialNumber
				si.Manufacturer = tokenInfo.ManufacturerID
			}
		}
		info.Slots = append(info.Slots, si)
	}
	return info, nil
}

// do runs fn on a pooled session.
func (eng *Engine) do(fn func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error) error {
	s, release, err := eng.pool.Acquire()
	if err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}
	defer release()
	return fn(eng.pool.ctx, s)
}

func (eng *Engine) get(id string) (*object, error) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	o, ok := eng.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrKeyNotFound, id)
	}
	return o, nil
}

// newID validates a caller-chosen id or draws a fresh one.
func (eng *Engine) newID(name string) (string, error) {
	if name == "" {
		return uuid.NewString(), nil
	}
	eng.mu.RLock()
	_, ok := eng.keys[name]
	eng.mu.RUnlock()
	if ok {
		return "", fmt.Errorf("%w: %s", engine.ErrKeyExists, name)
	}
	return name, nil
}

// create checks usages, builds the key objects on a pooled session and
// registers the result.
func (eng *Engine) create(name, kind string, extractable bool, usages []uint8,
	build func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, id string) (*object, error)) ([]byte, error) {
	names, err := engine.Usages(usages)
	if err != nil {
		return nil, err
	}
	if err := checkUsages(kind, names); err != nil {
		return nil, err
	}
	id, err := eng.newID(name)
	if err != nil {
		return nil, err
	}

	var o *object
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		o, err = build(ctx, s, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.Extractable = extractable
	o.Usages = names
	return eng.register(o)
}

func (eng *Engine) register(o *object) ([]byte, error) {
	eng.mu.Lock()
	eng.keys[o.ID] = o
	eng.mu.Unlock()

	log.Debug().Str("key_id", o.ID).Str("algorithm", o.Algorithm).Msg("key registered")
	return engine.Descriptor(o.descriptor())
}

// KeyExists reports whether name is a known key id or a saved alias.
func (eng *Engine) KeyExists(name string) (bool, error) {
	eng.mu.RLock()
	_, ok := eng.keys[name]
	eng.mu.RUnlock()
	if ok {
		return true, nil
	}
	var found bool
	err := eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		h, err := findObjects(ctx, s, dataTemplate(name))
		found = len(h) > 0
		return err
	})
	return found, err
}

func (eng *Engine) GenerateKey(name string, algoID uint32, metadata string, extractable bool, usages []uint8) ([]byte, error) {
	spec, err := decodeKeySpec(algoID, metadata)
	if err != nil {
		return nil, err
	}
	return eng.create(name, spec.kind, extractable, usages, func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, id string) (*object, error) {
		return generate(ctx, s, id, spec, extractable)
	})
}

func (eng *Engine) ImportKey(keyName string, format uint32, keyData []byte, algoID uint32, metadata string,
	extractable bool, usages []uint8) ([]byte, error) {
	spec, err := decodeKeySpec(algoID, metadata)
	if err != nil {
		return nil, err
	}
	return eng.create(keyName, spec.kind, extractable, usages, func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, id string) (*object, error) {
		return importKey(ctx, s, id, format, keyData, spec, extractable)
	})
}

func (eng *Engine) Encrypt(keyName string, algoID uint32, metadata string, plaintext []byte) ([]byte, error) {
	o, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	if err := o.permits("encrypt"); err != nil {
		return nil, err
	}
	m, free, err := cipher(o, algoID, metadata)
	if err != nil {
		return nil, err
	}
	defer free()

	var out []byte
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		if err := ctx.EncryptInit(s, m, o.publicHandle()); err != nil {
			return tokenError("init encrypt", err)
		}
		out, err = ctx.Encrypt(s, plaintext)
		if err != nil {
			return tokenError("encrypt", err)
		}
		return nil
	})
	return out, err
}

func (eng *Engine) Decrypt(keyName string, algoID uint32, metadata string, ciphertext []byte) ([]byte, error) {
	o, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	if err := o.permits("decrypt"); err != nil {
		return nil, err
	}
	if o.Type == engine.TypePublic {
		return nil, fmt.Errorf("%w: decrypt with public key %s", engine.ErrUnsupported, o.ID)
	}
	m, free, err := cipher(o, algoID, metadata)
	if err != nil {
		return nil, err
	}
	defer free()

	var out []byte
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		if err := ctx.DecryptInit(s, m, o.handle); err != nil {
			return tokenError("init decrypt", err)
		}
		out, err = ctx.Decrypt(s, ciphertext)
		if err != nil {
			return tokenError("decrypt", err)
		}
		return nil
	})
	return out, err
}

func (eng *Engine) Sign(keyName string, algoID uint32, metadata string, data []byte) ([]byte, error) {
	o, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	if err := o.permits("sign"); err != nil {
		return nil, err
	}
	if o.Type == engine.TypePublic {
		return nil, fmt.Errorf("%w: sign with public key %s", engine.ErrUnsupported, o.ID)
	}
	m, input, err := signature(o, algoID, metadata, data)
	if err != nil {
		return nil, err
	}

	var sig []byte
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		if err := ctx.SignInit(s, m, o.handle); err != nil {
			return tokenError("init sign", err)
		}
		sig, err = ctx.Sign(s, input)
		if err != nil {
			return tokenError("sign", err)
		}
		return nil
	})
	return sig, err
}

// Verify reports a signature the token rejects as invalid, not as an error.
func (eng *Engine) Verify(keyName string, algoID uint32, metadata string, data, sig []byte) (bool, error) {
	o, err := eng.get(keyName)
	if err != nil {
		return false, err
	}
	if err := o.permits("verify"); err != nil {
		return false, err
	}
	m, input, err := signature(o, algoID, metadata, data)
	if err != nil {
		return false, err
	}

	valid := false
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		if err := ctx.VerifyInit(s, m, o.publicHandle()); err != nil {
			return tokenError("init verify", err)
		}
		err := ctx.Verify(s, input, sig)
		switch {
		case err == nil:
			valid = true
		case isCKR(err, pkcs11.CKR_SIGNATURE_INVALID), isCKR(err, pkcs11.CKR_SIGNATURE_LEN_RANGE):
		default:
			return tokenError("verify", err)
		}
		return nil
	})
	return valid, err
}

// Digest hashes on the token. Tagged hashes are composed from two token
// digests.
func (eng *Engine) Digest(algoID uint32, metadata string, data []byte) ([]byte, error) {
	algo, err := wire.ParseHashAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	var out []byte
	switch algo {
	case wire.HashSha:
		meta, err := engine.DecodeMetadata[wire.ShaMetadata](metadata)
		if err != nil {
			return nil, err
		}
		err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
			out, err = digest(ctx, s, meta, data)
			return err
		})
		return out, err
	case wire.HashTagged:
		meta, err := engine.DecodeMetadata[wire.TaggedShaMetadata](metadata)
		if err != nil {
			return nil, err
		}
		sha := wire.ShaMetadata{AlgoID: wire.Sha2, Length: meta.Length}
		if meta.AlgoID != wire.TaggedSha2 {
			return nil, fmt.Errorf("%w: tagged hash %s on PKCS#11", engine.ErrUnsupported, meta.AlgoID)
		}
		err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
			tag, err := digest(ctx, s, sha, []byte(meta.Tag))
			if err != nil {
				return err
			}
			msg := make([]byte, 0, 2*len(tag)+len(data))
			msg = append(append(append(msg, tag...), tag...), data...)
			out, err = digest(ctx, s, sha, msg)
			return err
		})
		return out, err
	}
	return nil, fmt.Errorf("%w: %s", engine.ErrUnsupported, algo)
}

func digest(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, meta wire.ShaMetadata, data []byte) ([]byte, error) {
	hm, err := mechanismsFor(meta)
	if err != nil {
		return nil, err
	}
	if err := ctx.DigestInit(s, mech(hm.digest, nil)); err != nil {
		return nil, tokenError("init digest", err)
	}
	out, err := ctx.Digest(s, data)
	if err != nil {
		return nil, tokenError("digest", err)
	}
	return out, nil
}

func (eng *Engine) ExportKey(keyName string, format uint32) ([]byte, error) {
	o, err := eng.get(keyName)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		out, err = exportKey(ctx, s, o, format)
		return err
	})
	return out, err
}

func (eng *Engine) WrapKey(keyName string, format uint32, wrappingKeyName string, algoID uint32, metadata string) ([]byte, error) {
	o, err := eng.get(keyName)
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
	if !o.Extractable {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotExtractable, o.ID)
	}
	if err := wrapFormat(o, format); err != nil {
		return nil, err
	}
	m, err := wrapping(wk, algoID, metadata)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		out, err = ctx.WrapKey(s, m, wk.publicHandle(), o.handle)
		if err != nil {
			return tokenError("wrap key", err)
		}
		return nil
	})
	return out, err
}

// UnwrapKey unwraps a secret key in raw format. Private keys unwrapped by
// a token carry no public half, so they are not accepted.
func (eng *Engine) UnwrapKey(unwrappingKeyName string, wrapAlgoID uint32, wrapMetadata string, keyName string,
	format uint32, wrappedKey []byte, keyAlgoID uint32, keyMetadata string, extractable bool, usages []uint8) ([]byte, error) {
	uk, err := eng.get(unwrappingKeyName)
	if err != nil {
		return nil, err
	}
	if err := uk.permits("unwrap_key"); err != nil {
		return nil, err
	}
	if uk.Type == engine.TypePublic {
		return nil, fmt.Errorf("%w: unwrap with public key %s", engine.ErrUnsupported, uk.ID)
	}
	spec, err := decodeKeySpec(keyAlgoID, keyMetadata)
	if err != nil {
		return nil, err
	}
	if (spec.kind != kindAES && spec.kind != kindHMAC) || format != uint32(wire.FormatRaw) {
		return nil, fmt.Errorf("%w: unwrapping %s keys in format %d", engine.ErrUnsupported, spec.kind, format)
	}
	m, err := wrapping(uk, wrapAlgoID, wrapMetadata)
	if err != nil {
		return nil, err
	}

	return eng.create(keyName, spec.kind, extractable, usages, func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, id string) (*object, error) {
		keyType := uint(pkcs11.CKK_AES)
		if spec.kind == kindHMAC {
			keyType = pkcs11.CKK_GENERIC_SECRET
		}
		h, err := ctx.UnwrapKey(s, m, uk.handle, wrappedKey, secretTemplate(spec.kind, keyType, id, extractable))
		if err != nil {
			return nil, tokenError("unwrap key", err)
		}
		if spec.kind == kindAES {
			if err := checkValueLen(ctx, s, h, spec.length); err != nil {
				_ = ctx.DestroyObject(s, h)
				return nil, err
			}
		}
		return &object{
			record: record{ID: id, Type: engine.TypeSecret, Kind: spec.kind, Algorithm: spec.algorithm, Hash: spec.hash},
			handle: h,
		}, nil
	})
}

func checkValueLen(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, h pkcs11.ObjectHandle, want int) error {
	v, err := attributes(ctx, s, h, pkcs11.CKA_VALUE_LEN)
	if err != nil {
		return err
	}
	// CKA_VALUE_LEN is a CK_ULONG in native byte order.
	var got int
	for i := len(v[0]) - 1; i >= 0; i-- {
		got = got<<8 | int(v[0][i])
	}
	if got != want {
		return fmt.Errorf("%w: unwrapped key is %d bytes, want %d", engine.ErrInvalidKeyMaterial, got, want)
	}
	return nil
}

func (eng *Engine) GetPublicKey(keyName string) ([]byte, error) {
	return eng.ExportKey(keyName, uint32(wire.FormatSpki))
}

// GetPublicKeyAsCryptoKey registers the public half of a key under a new
// id. The public half of a public key is the key itself.
func (eng *Engine) GetPublicKeyAsCryptoKey(keyName string) (string, error) {
	o, err := eng.get(keyName)
	if err != nil {
		return "", err
	}
	if o.Type == engine.TypePublic {
		data, err := engine.Descriptor(o.descriptor())
		return string(data), err
	}
	if o.public == 0 {
		return "", fmt.Errorf("%w: %s key has no public half", engine.ErrUnsupported, o.Kind)
	}

	pub := &object{
		record: record{
			ID:          uuid.NewString(),
			Type:        engine.TypePublic,
			Kind:        o.Kind,
			Algorithm:   o.Algorithm,
			Extractable: true,
			Usages:      engine.PublicUsages(o.Usages),
			Hash:        o.Hash,
		},
		handle: o.public,
	}
	data, err := eng.register(pub)
	return string(data), err
}

// DeriveKey derives a secret key by ECDH. The shared secret is truncated to
// the derived key length by the token.
func (eng *Engine) DeriveKey(baseKeyName string, deriveAlgoID uint32, deriveMetadata string,
	derivedAlgoID uint32, derivedMetadata string, extractable bool, usages []uint8) (string, error) {
	base, err := eng.get(baseKeyName)
	if err != nil {
		return "", err
	}
	if base.permits("derive_key") != nil && base.permits("derive_bits") != nil {
		return "", fmt.Errorf("%w: key %s does not allow derivation", engine.ErrUnknownUsage, base.ID)
	}
	algo, err := wire.ParseDerivationAlgorithm(deriveAlgoID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	if algo != wire.DerivationEcdh {
		return "", fmt.Errorf("%w: %s on PKCS#11", engine.ErrUnsupported, algo)
	}
	if base.Kind != kindEC || base.Type != engine.TypePrivate {
		return "", fmt.Errorf("%w: ECDH with a %s %s key", engine.ErrUnsupported, base.Type, base.Kind)
	}
	meta, err := engine.DecodeMetadata[wire.EcdhMetadata](deriveMetadata)
	if err != nil {
		return "", err
	}
	peer, err := eng.get(meta.PublicKey)
	if err != nil {
		return "", err
	}
	if peer.Kind != kindEC || peer.Algorithm != base.Algorithm {
		return "", fmt.Errorf("%w: peer %s is not a %s key", engine.ErrInvalidKeyMaterial, peer.ID, base.Algorithm)
	}

	// Validate the derived algorithm before touching the token.
	spec, _, err := derivedTemplate("", derivedAlgoID, derivedMetadata, extractable)
	if err != nil {
		return "", err
	}

	data, err := eng.create("", spec.kind, extractable, usages, func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, id string) (*object, error) {
		v, err := attributes(ctx, s, peer.publicHandle(), pkcs11.CKA_EC_POINT)
		if err != nil {
			return nil, err
		}
		_, template, err := derivedTemplate(id, derivedAlgoID, derivedMetadata, extractable)
		if err != nil {
			return nil, err
		}
		params := pkcs11.NewECDH1DeriveParams(pkcs11.CKD_NULL, nil, rawECPoint(v[0]))
		h, err := ctx.DeriveKey(s, mech(pkcs11.CKM_ECDH1_DERIVE, params), base.handle, template)
		if err != nil {
			return nil, tokenError("derive key", err)
		}
		return &object{
			record: record{ID: id, Type: engine.TypeSecret, Kind: spec.kind, Algorithm: spec.algorithm, Hash: spec.hash},
			handle: h,
		}, nil
	})
	return string(data), err
}

// =============================================================================
// Persistence
// =============================================================================

// dataTemplate matches the descriptor object saved under alias.
func dataTemplate(alias string) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_APPLICATION, appName),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, alias),
	}
}

// keyTemplate matches the token key objects of class saved under alias.
func keyTemplate(class uint, alias string) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, alias),
	}
}

func findObjects(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, template []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if err := ctx.FindObjectsInit(s, template); err != nil {
		return nil, tokenError("init object search", err)
	}
	var out []pkcs11.ObjectHandle
	for {
		batch, _, err := ctx.FindObjects(s, 16)
		if err != nil {
			_ = ctx.FindObjectsFinal(s)
			return nil, tokenError("search objects", err)
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
	}
	if err := ctx.FindObjectsFinal(s); err != nil {
		return nil, tokenError("finish object search", err)
	}
	return out, nil
}

// SaveKey saves the key whose id is name under the alias name.
func (eng *Engine) SaveKey(name string) error {
	return eng.persist(name, name, "")
}

// PersistKey saves a key under the alias in params.
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

// persist copies the key objects to the token under CKA_LABEL = alias and
// writes the descriptor object next to them.
func (eng *Engine) persist(id, alias, keyType string) error {
	o, err := eng.get(id)
	if err != nil {
		return err
	}
	if keyType != "" && keyType != o.Type {
		return fmt.Errorf("%w: key %s is %s, not %s", engine.ErrInvalidMetadata, id, o.Type, keyType)
	}
	desc, err := json.Marshal(o.record)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}

	saved := *o
	saved.alias = alias
	err = eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		existing, err := findObjects(ctx, s, dataTemplate(alias))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s", engine.ErrKeyExists, alias)
		}

		copyTemplate := []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, alias),
		}
		var created []pkcs11.ObjectHandle
		rollback := func() {
			for _, h := range created {
				_ = ctx.DestroyObject(s, h)
			}
		}
		for i, h := range o.handles() {
			c, err := ctx.CopyObject(s, h, copyTemplate)
			if err != nil {
				rollback()
				return tokenError("copy key to token", err)
			}
			created = append(created, c)
			if i == 0 {
				saved.handle = c
			} else {
				saved.public = c
			}
		}

		data := append(dataTemplate(alias),
			pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, desc))
		if _, err := ctx.CreateObject(s, data); err != nil {
			rollback()
			return tokenError("write key record", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	eng.mu.Lock()
	eng.keys[id] = &saved
	eng.mu.Unlock()

	log.Debug().Str("key_id", id).Str("alias", alias).Msg("key persisted")
	return nil
}

// LoadKey materializes the key saved under name.
func (eng *Engine) LoadKey(name string) (string, error) {
	var o *object
	err := eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		rec, err := readRecord(ctx, s, name)
		if err != nil {
			return err
		}
		o = &object{record: rec, alias: name}

		first := func(class uint) (pkcs11.ObjectHandle, error) {
			h, err := findObjects(ctx, s, keyTemplate(class, name))
			if err != nil {
				return 0, err
			}
			if len(h) == 0 {
				return 0, fmt.Errorf("%w: %s has no %s object", engine.ErrKeyNotFound, name, rec.Type)
			}
			return h[0], nil
		}
		switch rec.Type {
		case engine.TypeSecret:
			o.handle, err = first(pkcs11.CKO_SECRET_KEY)
		case engine.TypePrivate:
			if o.handle, err = first(pkcs11.CKO_PRIVATE_KEY); err == nil {
				o.public, err = first(pkcs11.CKO_PUBLIC_KEY)
			}
		case engine.TypePublic:
			o.handle, err = first(pkcs11.CKO_PUBLIC_KEY)
		default:
			err = fmt.Errorf("%w: key record type %q", engine.ErrInvalidMetadata, rec.Type)
		}
		return err
	})
	if err != nil {
		return "", err
	}

	data, err := eng.register(o)
	log.Debug().Str("key_id", o.ID).Str("alias", name).Msg("key loaded")
	return string(data), err
}

func readRecord(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, alias string) (record, error) {
	var rec record
	h, err := findObjects(ctx, s, dataTemplate(alias))
	if err != nil {
		return rec, err
	}
	if len(h) == 0 {
		return rec, fmt.Errorf("%w: %s", engine.ErrKeyNotFound, alias)
	}
	v, err := attributes(ctx, s, h[0], pkcs11.CKA_VALUE)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(v[0], &rec); err != nil {
		return rec, fmt.Errorf("failed to parse key record %s: %w", alias, err)
	}
	return rec, nil
}

// DeleteKey destroys every object saved under name and forgets the key.
func (eng *Engine) DeleteKey(name string) error {
	var id string
	err := eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		rec, err := readRecord(ctx, s, name)
		if err != nil {
			return err
		}
		id = rec.ID

		var handles []pkcs11.ObjectHandle
		for _, t := range [][]*pkcs11.Attribute{
			dataTemplate(name),
			keyTemplate(pkcs11.CKO_SECRET_KEY, name),
			keyTemplate(pkcs11.CKO_PRIVATE_KEY, name),
			keyTemplate(pkcs11.CKO_PUBLIC_KEY, name),
		} {
			h, err := findObjects(ctx, s, t)
			if err != nil {
				return err
			}
			handles = append(handles, h...)
		}

		var errs []error
		for _, h := range handles {
			if err := ctx.DestroyObject(s, h); err != nil {
				errs = append(errs, tokenError("destroy object", err))
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return err
	}

	eng.mu.Lock()
	delete(eng.keys, id)
	eng.mu.Unlock()

	log.Debug().Str("key_id", id).Str("alias", name).Msg("key deleted")
	return nil
}

// GetRandomBytes draws n bytes from the token RNG.
func (eng *Engine) GetRandomBytes(n int) ([]byte, error) {
	if err := engine.CheckRandomLength(n); err != nil {
		return nil, err
	}
	var out []byte
	err := eng.do(func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error {
		var err error
		out, err = ctx.GenerateRandom(s, n)
		if err != nil {
			return tokenError("generate random", err)
		}
		return nil
	})
	return out, err
}
