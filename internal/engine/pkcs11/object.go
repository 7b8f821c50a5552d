//go:build cgo

package pkcs11

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/miekg/pkcs11"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// appName tags the CKO_DATA descriptor objects written by this engine.
const appName = "hostcrypto"

const (
	kindAES  = "aes"
	kindHMAC = "hmac"
	kindRSA  = "rsa"
	kindEC   = "ec"
)

var allowedUsages = map[string][]string{
	kindAES:  {"encrypt", "decrypt", "wrap_key", "unwrap_key"},
	kindHMAC: {"sign", "verify"},
	kindRSA:  {"encrypt", "decrypt", "sign", "verify", "wrap_key", "unwrap_key"},
	kindEC:   {"sign", "verify", "derive_key", "derive_bits"},
}

// record is the key descriptor kept in the CKO_DATA object of a saved key.
type record struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Kind        string            `json:"kind"`
	Algorithm   string            `json:"algorithm"`
	Extractable bool              `json:"extractable"`
	Usages      []string          `json:"usages"`
	Hash        *wire.ShaMetadata `json:"hash,omitempty"`
}

// object is a key known to the engine: its descriptor plus the token
// handles of its material.
type object struct {
	record
	alias string

	// handle is the secret, private or (for public keys) public object.
	handle pkcs11.ObjectHandle
	// public is the public half of a private key, 0 otherwise.
	public pkcs11.ObjectHandle
}

func (o *object) family() string {
	if o.Kind == kindEC {
		return "ecc"
	}
	return o.Kind
}

func (o *object) descriptor() subtle.CryptoKey {
	key := subtle.CryptoKey{
		ID:          o.ID,
		Type:        o.Type,
		Extractable: o.Extractable,
		Family:      o.family(),
		Usages:      slices.Clone(o.Usages),
		Algorithm:   o.Algorithm,
	}
	if o.alias != "" {
		alias := o.alias
		key.Alias = &alias
	}
	return key
}

func (o *object) permits(usage string) error {
	if !engine.Permits(o.Type, o.Usages, usage) {
		return fmt.Errorf("%w: key %s does not allow %s", engine.ErrUnknownUsage, o.ID, usage)
	}
	return nil
}

// publicHandle returns the object holding the public material.
func (o *object) publicHandle() pkcs11.ObjectHandle {
	if o.public != 0 {
		return o.public
	}
	return o.handle
}

// handles lists the token objects backing the key.
func (o *object) handles() []pkcs11.ObjectHandle {
	if o.public != 0 {
		return []pkcs11.ObjectHandle{o.handle, o.public}
	}
	return []pkcs11.ObjectHandle{o.handle}
}

func checkUsages(kind string, usages []string) error {
	for _, u := range usages {
		if !slices.Contains(allowedUsages[kind], u) {
			return fmt.Errorf("%w: %s key cannot carry usage %s", engine.ErrUnknownUsage, kind, u)
		}
	}
	return nil
}

// =============================================================================
// Templates
// =============================================================================

// keyAttrs returns the attributes common to every key object created by
// the engine. Keys start as session objects.
func keyAttrs(class, keyType uint, id string) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, keyType),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(id)),
	}
}

// sensitiveAttrs marks secret and private material.
func sensitiveAttrs(extractable bool) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, !extractable),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, extractable),
	}
}

// capabilities enables the token functions a kind supports. Host usages
// are enforced by the engine on top of these.
func capabilities(kind, keyType string) []*pkcs11.Attribute {
	on := func(attrs ...uint) []*pkcs11.Attribute {
		out := make([]*pkcs11.Attribute, len(attrs))
		for i, a := range attrs {
			out[i] = pkcs11.NewAttribute(a, true)
		}
		return out
	}
	switch {
	case kind == kindAES:
		return on(pkcs11.CKA_ENCRYPT, pkcs11.CKA_DECRYPT, pkcs11.CKA_WRAP, pkcs11.CKA_UNWRAP)
	case kind == kindHMAC:
		return on(pkcs11.CKA_SIGN, pkcs11.CKA_VERIFY)
	case kind == kindRSA && keyType == engine.TypePublic:
		return on(pkcs11.CKA_ENCRYPT, pkcs11.CKA_VERIFY, pkcs11.CKA_WRAP)
	case kind == kindRSA:
		return on(pkcs11.CKA_DECRYPT, pkcs11.CKA_SIGN, pkcs11.CKA_UNWRAP)
	case kind == kindEC && keyType == engine.TypePublic:
		return on(pkcs11.CKA_VERIFY)
	case kind == kindEC:
		return on(pkcs11.CKA_SIGN, pkcs11.CKA_DERIVE)
	}
	return nil
}

func secretTemplate(kind string, keyType uint, id string, extractable bool, extra ...*pkcs11.Attribute) []*pkcs11.Attribute {
	t := keyAttrs(pkcs11.CKO_SECRET_KEY, keyType, id)
	t = append(t, sensitiveAttrs(extractable)...)
	t = append(t, capabilities(kind, engine.TypeSecret)...)
	return append(t, extra...)
}

func privateTemplate(kind string, keyType uint, id string, extractable bool, extra ...*pkcs11.Attribute) []*pkcs11.Attribute {
	t := keyAttrs(pkcs11.CKO_PRIVATE_KEY, keyType, id)
	t = append(t, sensitiveAttrs(extractable)...)
	t = append(t, capabilities(kind, engine.TypePrivate)...)
	return append(t, extra...)
}

func publicTemplate(kind string, keyType uint, id string, extra ...*pkcs11.Attribute) []*pkcs11.Attribute {
	t := keyAttrs(pkcs11.CKO_PUBLIC_KEY, keyType, id)
	t = append(t, capabilities(kind, engine.TypePublic)...)
	return append(t, extra...)
}

// =============================================================================
// Curves
// =============================================================================

var curveOIDs = map[string]asn1.ObjectIdentifier{
	"P-256": {1, 2, 840, 10045, 3, 1, 7},
	"P-384": {1, 3, 132, 0, 34},
	"P-521": {1, 3, 132, 0, 35},
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

// ecParams encodes the CKA_EC_PARAMS of a curve (its DER OID).
func ecParams(curve elliptic.Curve) ([]byte, error) {
	oid, ok := curveOIDs[curve.Params().Name]
	if !ok {
		return nil, fmt.Errorf("%w: curve %s", engine.ErrUnsupported, curve.Params().Name)
	}
	return asn1.Marshal(oid)
}

func parseECParams(params []byte) (elliptic.Curve, error) {
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, fmt.Errorf("failed to parse EC params OID: %w", err)
	}
	for name, known := range curveOIDs {
		if oid.Equal(known) {
			curve, _ := curveByName(name)
			return curve, nil
		}
	}
	return nil, fmt.Errorf("%w: curve OID %v", engine.ErrUnsupported, oid)
}

func curveByName(name string) (elliptic.Curve, bool) {
	switch name {
	case "P-256":
		return elliptic.P256(), true
	case "P-384":
		return elliptic.P384(), true
	case "P-521":
		return elliptic.P521(), true
	}
	return nil, false
}

// ecPointAttr encodes an uncompressed point as a DER OCTET STRING, the
// CKA_EC_POINT encoding.
func ecPointAttr(pub *ecdsa.PublicKey) ([]byte, error) {
	raw, err := pub.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
	}
	return asn1.Marshal(raw)
}

// rawECPoint strips the DER OCTET STRING some tokens wrap CKA_EC_POINT in.
func rawECPoint(point []byte) []byte {
	var raw []byte
	if rest, err := asn1.Unmarshal(point, &raw); err == nil && len(rest) == 0 && len(raw) > 0 && raw[0] == 0x04 {
		return raw
	}
	return point
}

// =============================================================================
// Attribute reads
// =============================================================================

func attributes(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, h pkcs11.ObjectHandle, types ...uint) ([][]byte, error) {
	template := make([]*pkcs11.Attribute, len(types))
	for i, t := range types {
		template[i] = pkcs11.NewAttribute(t, nil)
	}
	attrs, err := ctx.GetAttributeValue(s, h, template)
	if err != nil {
		return nil, tokenError("read key attributes", err)
	}
	if len(attrs) != len(types) {
		return nil, errors.New("token returned an incomplete attribute set")
	}
	values := make([][]byte, len(attrs))
	for i, a := range attrs {
		values[i] = a.Value
	}
	return values, nil
}

// publicKey rebuilds the public key of an RSA or EC object.
func publicKey(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, o *object) (crypto.PublicKey, error) {
	switch o.Kind {
	case kindRSA:
		v, err := attributes(ctx, s, o.publicHandle(), pkcs11.CKA_MODULUS, pkcs11.CKA_PUBLIC_EXPONENT)
		if err != nil {
			return nil, err
		}
		// CKA_PUBLIC_EXPONENT is a big integer, not a CK_ULONG.
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(v[0]),
			E: int(new(big.Int).SetBytes(v[1]).Int64()),
		}, nil
	case kindEC:
		v, err := attributes(ctx, s, o.publicHandle(), pkcs11.CKA_EC_PARAMS, pkcs11.CKA_EC_POINT)
		if err != nil {
			return nil, err
		}
		curve, err := parseECParams(v[0])
		if err != nil {
			return nil, err
		}
		pub, err := ecdsa.ParseUncompressedPublicKey(curve, rawECPoint(v[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: EC point: %v", engine.ErrInvalidKeyMaterial, err)
		}
		return pub, nil
	}
	return nil, fmt.Errorf("%w: %s key has no public half", engine.ErrUnsupported, o.Kind)
}

// privateKey reads the private material of an extractable RSA or EC key.
func privateKey(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, o *object) (crypto.PrivateKey, error) {
	switch o.Kind {
	case kindRSA:
		v, err := attributes(ctx, s, o.handle,
			pkcs11.CKA_MODULUS, pkcs11.CKA_PUBLIC_EXPONENT, pkcs11.CKA_PRIVATE_EXPONENT,
			pkcs11.CKA_PRIME_1, pkcs11.CKA_PRIME_2)
		if err != nil {
			return nil, err
		}
		priv := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{
				N: new(big.Int).SetBytes(v[0]),
				E: int(new(big.Int).SetBytes(v[1]).Int64()),
			},
			D:      new(big.Int).SetBytes(v[2]),
			Primes: []*big.Int{new(big.Int).SetBytes(v[3]), new(big.Int).SetBytes(v[4])},
		}
		if err := priv.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		priv.Precompute()
		return priv, nil
	case kindEC:
		v, err := attributes(ctx, s, o.handle, pkcs11.CKA_EC_PARAMS, pkcs11.CKA_VALUE)
		if err != nil {
			return nil, err
		}
		curve, err := parseECParams(v[0])
		if err != nil {
			return nil, err
		}
		scalar := make([]byte, (curve.Params().BitSize+7)/8)
		if len(v[1]) > len(scalar) {
			return nil, fmt.Errorf("%w: EC scalar too long", engine.ErrInvalidKeyMaterial)
		}
		copy(scalar[len(scalar)-len(v[1]):], v[1])
		priv, err := ecdsa.ParseRawPrivateKey(curve, scalar)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		return priv, nil
	}
	return nil, fmt.Errorf("%w: %s key has no private half", engine.ErrUnsupported, o.Kind)
}

// =============================================================================
// Errors
// =============================================================================

// tokenError wraps a PKCS#11 failure, mapping the return values that mean
// "not supported" or "not extractable" onto the engine sentinels.
func tokenError(op string, err error) error {
	var p11err pkcs11.Error
	if errors.As(err, &p11err) {
		switch uint(p11err) {
		case pkcs11.CKR_MECHANISM_INVALID, pkcs11.CKR_MECHANISM_PARAM_INVALID,
			pkcs11.CKR_KEY_TYPE_INCONSISTENT, pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED:
			return fmt.Errorf("failed to %s: %w: %w", op, engine.ErrUnsupported, err)
		case pkcs11.CKR_KEY_UNEXTRACTABLE, pkcs11.CKR_ATTRIBUTE_SENSITIVE:
			return fmt.Errorf("failed to %s: %w: %w", op, engine.ErrNotExtractable, err)
		case pkcs11.CKR_ENCRYPTED_DATA_INVALID, pkcs11.CKR_ENCRYPTED_DATA_LEN_RANGE,
			pkcs11.CKR_WRAPPED_KEY_INVALID, pkcs11.CKR_WRAPPED_KEY_LEN_RANGE:
			return fmt.Errorf("failed to %s: %w: %w", op, engine.ErrInvalidKeyMaterial, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
