package soft

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"slices"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Key kinds. The kind selects the material fields of an entry.
const (
	kindAES  = "aes"
	kindHMAC = "hmac"
	kindRSA  = "rsa"
	kindEC   = "ec"
	kindK1   = "k1"
)

// allowedUsages lists the usages each kind can be created with.
var allowedUsages = map[string][]string{
	kindAES:  {"encrypt", "decrypt", "wrap_key", "unwrap_key", "derive_key", "derive_bits"},
	kindHMAC: {"sign", "verify", "derive_key", "derive_bits"},
	kindRSA:  {"encrypt", "decrypt", "sign", "verify", "wrap_key", "unwrap_key"},
	kindEC:   {"sign", "verify", "derive_key", "derive_bits"},
	kindK1:   {"sign", "verify", "derive_key", "derive_bits"},
}

// entry is one key known to the engine. Entries are never mutated once
// registered; alias changes replace the entry.
type entry struct {
	id          string
	alias       string
	typ         string
	extractable bool
	usages      []string
	kind        string

	// hash is the function bound to RSA and HMAC keys.
	hash wire.ShaMetadata

	secret []byte
	rsa    *rsa.PrivateKey
	rsaPub *rsa.PublicKey
	ec     *ecdsa.PrivateKey
	ecPub  *ecdsa.PublicKey
	k1     *secp256k1.PrivateKey
	k1Pub  *secp256k1.PublicKey
}

func (e *entry) family() string {
	switch e.kind {
	case kindEC, kindK1:
		return "ecc"
	}
	return e.kind
}

func (e *entry) algorithm() string {
	switch e.kind {
	case kindAES:
		return fmt.Sprintf("AES-%d", len(e.secret)*8)
	case kindHMAC:
		return fmt.Sprintf("HMAC-%s-%s", e.hash.AlgoID, e.hash.Length)
	case kindRSA:
		return fmt.Sprintf("RSA-%d", e.rsaPub.N.BitLen())
	case kindEC:
		return e.ecPub.Curve.Params().Name
	case kindK1:
		return "secp256k1"
	}
	return e.kind
}

func (e *entry) descriptor() subtle.CryptoKey {
	key := subtle.CryptoKey{
		ID:          e.id,
		Type:        e.typ,
		Extractable: e.extractable,
		Family:      e.family(),
		Usages:      slices.Clone(e.usages),
		Algorithm:   e.algorithm(),
	}
	if e.alias != "" {
		alias := e.alias
		key.Alias = &alias
	}
	return key
}

func (e *entry) permits(usage string) error {
	if !engine.Permits(e.typ, e.usages, usage) {
		return fmt.Errorf("%w: key %s does not allow %s", engine.ErrUnknownUsage, e.id, usage)
	}
	return nil
}

func (e *entry) withAlias(alias string) *entry {
	c := *e
	c.alias = alias
	c.usages = slices.Clone(e.usages)
	return &c
}

// checkUsages rejects usages a kind cannot carry.
func checkUsages(kind string, usages []string) error {
	for _, u := range usages {
		if !slices.Contains(allowedUsages[kind], u) {
			return fmt.Errorf("%w: %s key cannot carry usage %s", engine.ErrUnknownUsage, kind, u)
		}
	}
	return nil
}

func curveOf(size wire.SecpR1KeyBitsize) (elliptic.Curve, error) {
	switch size {
	case wire.SecpR1Bits256:
		return elliptic.P256(), nil
	case wire.SecpR1Bits384:
		return elliptic.P384(), nil
	case wire.SecpR1Bits521:
		return elliptic.P521(), nil
	}
	return nil, fmt.Errorf("%w: curve size %d", engine.ErrUnsupported, uint32(size))
}

// hmacKeyLength returns the HMAC key length in bytes. Zero selects the
// digest size.
func hmacKeyLength(meta wire.HmacMetadata) (int, error) {
	if meta.Length == 0 {
		return meta.ShaMetadata.Length.Bytes(), nil
	}
	if meta.Length%8 != 0 {
		return 0, fmt.Errorf("%w: HMAC key length %d is not a whole number of bytes", engine.ErrInvalidMetadata, meta.Length)
	}
	return int(meta.Length / 8), nil
}

// generate creates fresh key material for a host key algorithm.
func generate(algoID uint32, metadata string) (*entry, error) {
	alg, err := wire.ParseKeyAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch alg {
	case wire.KeyAlgorithmSecpR1:
		meta, err := engine.DecodeMetadata[wire.SecpR1Metadata](metadata)
		if err != nil {
			return nil, err
		}
		curve, err := curveOf(meta.Length)
		if err != nil {
			return nil, err
		}
		priv, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate EC key: %w", err)
		}
		return &entry{typ: engine.TypePrivate, kind: kindEC, ec: priv, ecPub: &priv.PublicKey}, nil

	case wire.KeyAlgorithmSecpK1:
		if _, err := engine.DecodeMetadata[wire.SecpK1Metadata](metadata); err != nil {
			return nil, err
		}
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
		return &entry{typ: engine.TypePrivate, kind: kindK1, k1: priv, k1Pub: priv.PubKey()}, nil

	case wire.KeyAlgorithmAes:
		meta, err := engine.DecodeMetadata[wire.AesMetadata](metadata)
		if err != nil {
			return nil, err
		}
		secret := make([]byte, meta.Length.Bytes())
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate AES key: %w", err)
		}
		return &entry{typ: engine.TypeSecret, kind: kindAES, secret: secret}, nil

	case wire.KeyAlgorithmRsa:
		meta, err := engine.DecodeMetadata[wire.RsaMetadata](metadata)
		if err != nil {
			return nil, err
		}
		if meta.PublicExponent != 0 && meta.PublicExponent != 65537 {
			return nil, fmt.Errorf("%w: RSA public exponent %d", engine.ErrUnsupported, meta.PublicExponent)
		}
		if _, _, err := engine.Hash(meta.ShaMetadata); err != nil {
			return nil, err
		}
		priv, err := rsa.GenerateKey(rand.Reader, int(meta.Modulus))
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		return &entry{typ: engine.TypePrivate, kind: kindRSA, hash: meta.ShaMetadata, rsa: priv, rsaPub: &priv.PublicKey}, nil

	case wire.KeyAlgorithmHmac:
		meta, err := engine.DecodeMetadata[wire.HmacMetadata](metadata)
		if err != nil {
			return nil, err
		}
		return newHMAC(meta, nil)
	}
	return nil, fmt.Errorf("%w: key algorithm %s", engine.ErrUnsupported, alg)
}

// newHMAC creates an HMAC entry. A nil secret draws a random key of the
// metadata length.
func newHMAC(meta wire.HmacMetadata, secret []byte) (*entry, error) {
	if _, _, err := engine.Hash(meta.ShaMetadata); err != nil {
		return nil, err
	}
	if secret == nil {
		n, err := hmacKeyLength(meta)
		if err != nil {
			return nil, err
		}
		secret = make([]byte, n)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate HMAC key: %w", err)
		}
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty HMAC key", engine.ErrInvalidKeyMaterial)
	}
	return &entry{typ: engine.TypeSecret, kind: kindHMAC, hash: meta.ShaMetadata, secret: secret}, nil
}

// record converts an entry to its persisted form under alias.
func (e *entry) record(alias string) (Record, error) {
	rec := Record{
		Alias:       alias,
		ID:          e.id,
		Type:        e.typ,
		Family:      e.family(),
		Algorithm:   e.algorithm(),
		Extractable: e.extractable,
		Usages:      slices.Clone(e.usages),
		Kind:        e.kind,
	}
	if e.kind == kindRSA || e.kind == kindHMAC {
		h := e.hash
		rec.Hash = &h
	}

	var err error
	switch e.kind {
	case kindAES, kindHMAC:
		rec.Material = slices.Clone(e.secret)
	case kindRSA:
		if e.rsa != nil {
			rec.Material, err = x509.MarshalPKCS8PrivateKey(e.rsa)
		} else {
			rec.Material, err = x509.MarshalPKIXPublicKey(e.rsaPub)
		}
	case kindEC:
		if e.ec != nil {
			rec.Material, err = x509.MarshalPKCS8PrivateKey(e.ec)
		} else {
			rec.Material, err = x509.MarshalPKIXPublicKey(e.ecPub)
		}
	case kindK1:
		if e.k1 != nil {
			rec.Material = e.k1.Serialize()
		} else {
			rec.Material = e.k1Pub.SerializeCompressed()
		}
	default:
		return Record{}, fmt.Errorf("%w: key kind %q", engine.ErrUnsupported, e.kind)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode key material: %w", err)
	}
	return rec, nil
}

// fromRecord rebuilds an entry from a persisted record.
func fromRecord(rec Record) (*entry, error) {
	e := &entry{
		id:          rec.ID,
		alias:       rec.Alias,
		typ:         rec.Type,
		extractable: rec.Extractable,
		usages:      slices.Clone(rec.Usages),
		kind:        rec.Kind,
	}
	if rec.Hash != nil {
		e.hash = *rec.Hash
	}

	private := rec.Type == engine.TypePrivate
	switch rec.Kind {
	case kindAES, kindHMAC:
		e.secret = slices.Clone(rec.Material)
	case kindRSA:
		if private {
			k, err := parsePKCS8[*rsa.PrivateKey](rec.Material)
			if err != nil {
				return nil, err
			}
			e.rsa, e.rsaPub = k, &k.PublicKey
		} else {
			k, err := parseSPKI[*rsa.PublicKey](rec.Material)
			if err != nil {
				return nil, err
			}
			e.rsaPub = k
		}
	case kindEC:
		if private {
			k, err := parsePKCS8[*ecdsa.PrivateKey](rec.Material)
			if err != nil {
				return nil, err
			}
			e.ec, e.ecPub = k, &k.PublicKey
		} else {
			k, err := parseSPKI[*ecdsa.PublicKey](rec.Material)
			if err != nil {
				return nil, err
			}
			e.ecPub = k
		}
	case kindK1:
		if private {
			e.k1 = secp256k1.PrivKeyFromBytes(rec.Material)
			e.k1Pub = e.k1.PubKey()
		} else {
			pub, err := secp256k1.ParsePubKey(rec.Material)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
			}
			e.k1Pub = pub
		}
	default:
		return nil, fmt.Errorf("%w: key kind %q", engine.ErrUnsupported, rec.Kind)
	}
	return e, nil
}

func parsePKCS8[T any](der []byte) (T, error) {
	var zero T
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
	}
	typed, ok := k.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected PKCS#8 key type %T", engine.ErrInvalidKeyMaterial, k)
	}
	return typed, nil
}

func parseSPKI[T any](der []byte) (T, error) {
	var zero T
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
	}
	typed, ok := k.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected public key type %T", engine.ErrInvalidKeyMaterial, k)
	}
	return typed, nil
}
