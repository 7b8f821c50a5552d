package soft

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"slices"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// importKey parses key material in format as a key of the host algorithm.
func importKey(format uint32, data []byte, algoID uint32, metadata string) (*entry, error) {
	f, err := wire.ParseKeyFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	alg, err := wire.ParseKeyAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty key data", engine.ErrInvalidKeyMaterial)
	}

	switch alg {
	case wire.KeyAlgorithmAes:
		meta, err := engine.DecodeMetadata[wire.AesMetadata](metadata)
		if err != nil {
			return nil, err
		}
		if f != wire.FormatRaw {
			return nil, unsupportedFormat(f, "AES")
		}
		if len(data) != meta.Length.Bytes() {
			return nil, fmt.Errorf("%w: AES key is %d bytes, expected %d", engine.ErrInvalidKeyMaterial, len(data), meta.Length.Bytes())
		}
		return &entry{typ: engine.TypeSecret, kind: kindAES, secret: slices.Clone(data)}, nil

	case wire.KeyAlgorithmHmac:
		meta, err := engine.DecodeMetadata[wire.HmacMetadata](metadata)
		if err != nil {
			return nil, err
		}
		if f != wire.FormatRaw {
			return nil, unsupportedFormat(f, "HMAC")
		}
		return newHMAC(meta, slices.Clone(data))

	case wire.KeyAlgorithmRsa:
		meta, err := engine.DecodeMetadata[wire.RsaMetadata](metadata)
		if err != nil {
			return nil, err
		}
		if _, _, err := engine.Hash(meta.ShaMetadata); err != nil {
			return nil, err
		}
		return importRSA(f, data, meta.ShaMetadata)

	case wire.KeyAlgorithmSecpR1:
		meta, err := engine.DecodeMetadata[wire.SecpR1Metadata](metadata)
		if err != nil {
			return nil, err
		}
		return importEC(f, data, meta.Length)

	case wire.KeyAlgorithmSecpK1:
		if _, err := engine.DecodeMetadata[wire.SecpK1Metadata](metadata); err != nil {
			return nil, err
		}
		return importK1(f, data)
	}
	return nil, fmt.Errorf("%w: key algorithm %s", engine.ErrUnsupported, alg)
}

func unsupportedFormat(f wire.KeyFormat, family string) error {
	return fmt.Errorf("%w: %s format for %s keys", engine.ErrUnsupported, f, family)
}

func importRSA(f wire.KeyFormat, data []byte, hash wire.ShaMetadata) (*entry, error) {
	e := &entry{kind: kindRSA, hash: hash}
	switch f {
	case wire.FormatPkcs8:
		k, err := parsePKCS8[*rsa.PrivateKey](data)
		if err != nil {
			return nil, err
		}
		e.rsa, e.rsaPub = k, &k.PublicKey
	case wire.FormatPkcs1:
		if k, err := x509.ParsePKCS1PrivateKey(data); err == nil {
			e.rsa, e.rsaPub = k, &k.PublicKey
			break
		}
		k, err := x509.ParsePKCS1PublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		e.rsaPub = k
	case wire.FormatSpki:
		k, err := parseSPKI[*rsa.PublicKey](data)
		if err != nil {
			return nil, err
		}
		e.rsaPub = k
	default:
		return nil, unsupportedFormat(f, "RSA")
	}
	e.typ = engine.TypePublic
	if e.rsa != nil {
		e.typ = engine.TypePrivate
	}
	return e, nil
}

func importEC(f wire.KeyFormat, data []byte, size wire.SecpR1KeyBitsize) (*entry, error) {
	curve, err := curveOf(size)
	if err != nil {
		return nil, err
	}

	e := &entry{kind: kindEC}
	switch f {
	case wire.FormatPkcs8:
		k, err := parsePKCS8[*ecdsa.PrivateKey](data)
		if err != nil {
			return nil, err
		}
		e.ec, e.ecPub = k, &k.PublicKey
	case wire.FormatSec1:
		k, err := x509.ParseECPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		e.ec, e.ecPub = k, &k.PublicKey
	case wire.FormatSpki:
		k, err := parseSPKI[*ecdsa.PublicKey](data)
		if err != nil {
			return nil, err
		}
		e.ecPub = k
	case wire.FormatRaw:
		k, err := ecdsa.ParseUncompressedPublicKey(curve, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		e.ecPub = k
	default:
		return nil, unsupportedFormat(f, "EC")
	}

	if e.ecPub.Curve != curve {
		return nil, fmt.Errorf("%w: key is on %s, expected %s", engine.ErrInvalidKeyMaterial,
			e.ecPub.Curve.Params().Name, curve.Params().Name)
	}
	e.typ = engine.TypePublic
	if e.ec != nil {
		e.typ = engine.TypePrivate
	}
	return e, nil
}

// importK1 accepts a 32-byte scalar or a SEC 1 point as raw material.
func importK1(f wire.KeyFormat, data []byte) (*entry, error) {
	e := &entry{kind: kindK1}
	switch f {
	case wire.FormatRaw:
		if len(data) == secp256k1.PrivKeyBytesLen {
			e.k1 = secp256k1.PrivKeyFromBytes(data)
			break
		}
		pub, err := secp256k1.ParsePubKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		e.k1Pub = pub
	case wire.FormatSec1:
		scalar, err := parseK1Sec1(data)
		if err != nil {
			return nil, err
		}
		e.k1 = secp256k1.PrivKeyFromBytes(scalar)
	case wire.FormatPkcs8:
		scalar, err := parseK1PKCS8(data)
		if err != nil {
			return nil, err
		}
		e.k1 = secp256k1.PrivKeyFromBytes(scalar)
	case wire.FormatSpki:
		pub, err := parseK1SPKI(data)
		if err != nil {
			return nil, err
		}
		e.k1Pub = pub
	default:
		return nil, unsupportedFormat(f, "secp256k1")
	}

	e.typ = engine.TypePublic
	if e.k1 != nil {
		if e.k1.Key.IsZero() {
			return nil, fmt.Errorf("%w: zero secp256k1 scalar", engine.ErrInvalidKeyMaterial)
		}
		e.typ = engine.TypePrivate
		e.k1Pub = e.k1.PubKey()
	}
	return e, nil
}

// exportKey encodes the key in format. Extractability is checked by the
// caller.
func exportKey(e *entry, format uint32) ([]byte, error) {
	f, err := wire.ParseKeyFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch e.kind {
	case kindAES, kindHMAC:
		if f != wire.FormatRaw {
			return nil, unsupportedFormat(f, e.kind)
		}
		return slices.Clone(e.secret), nil

	case kindRSA:
		switch f {
		case wire.FormatSpki:
			return marshalSPKI(e.rsaPub)
		case wire.FormatPkcs1:
			if e.rsa == nil {
				return x509.MarshalPKCS1PublicKey(e.rsaPub), nil
			}
			return x509.MarshalPKCS1PrivateKey(e.rsa), nil
		case wire.FormatPkcs8:
			if e.rsa == nil {
				return nil, publicOnly(f)
			}
			return marshalPKCS8(e.rsa)
		}
		return nil, unsupportedFormat(f, "RSA")

	case kindEC:
		switch f {
		case wire.FormatSpki:
			return marshalSPKI(e.ecPub)
		case wire.FormatRaw:
			return e.ecPub.Bytes()
		case wire.FormatPkcs8:
			if e.ec == nil {
				return nil, publicOnly(f)
			}
			return marshalPKCS8(e.ec)
		case wire.FormatSec1:
			if e.ec == nil {
				return nil, publicOnly(f)
			}
			der, err := x509.MarshalECPrivateKey(e.ec)
			if err != nil {
				return nil, fmt.Errorf("failed to encode EC key: %w", err)
			}
			return der, nil
		}
		return nil, unsupportedFormat(f, "EC")

	case kindK1:
		switch f {
		case wire.FormatSpki:
			return marshalK1SPKI(e.k1Pub)
		case wire.FormatRaw:
			return e.k1Pub.SerializeUncompressed(), nil
		case wire.FormatPkcs8:
			if e.k1 == nil {
				return nil, publicOnly(f)
			}
			return marshalK1PKCS8(e.k1)
		case wire.FormatSec1:
			if e.k1 == nil {
				return nil, publicOnly(f)
			}
			return marshalK1Sec1(e.k1, true)
		}
		return nil, unsupportedFormat(f, "secp256k1")
	}
	return nil, fmt.Errorf("%w: key kind %q", engine.ErrUnsupported, e.kind)
}

// exportsSecret reports whether exporting e in format reveals private or
// secret material.
func exportsSecret(e *entry, format uint32) bool {
	if e.typ == engine.TypePublic {
		return false
	}
	switch wire.KeyFormat(format) {
	case wire.FormatSpki:
		return false
	case wire.FormatRaw:
		return e.typ == engine.TypeSecret
	}
	return true
}

func publicOnly(f wire.KeyFormat) error {
	return fmt.Errorf("%w: %s export of a public key", engine.ErrUnsupported, f)
}

func marshalSPKI(pub any) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return der, nil
}

func marshalPKCS8(priv any) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	return der, nil
}

// publicKeyDER returns the SubjectPublicKeyInfo of an asymmetric key.
func publicKeyDER(e *entry) ([]byte, error) {
	switch e.kind {
	case kindRSA:
		return marshalSPKI(e.rsaPub)
	case kindEC:
		return marshalSPKI(e.ecPub)
	case kindK1:
		return marshalK1SPKI(e.k1Pub)
	}
	return nil, fmt.Errorf("%w: %s key has no public half", engine.ErrUnsupported, e.kind)
}

// publicHalf returns a public entry for an asymmetric key.
func publicHalf(e *entry) (*entry, error) {
	pub := &entry{typ: engine.TypePublic, extractable: true, kind: e.kind, hash: e.hash}
	switch e.kind {
	case kindRSA:
		pub.rsaPub = e.rsaPub
	case kindEC:
		pub.ecPub = e.ecPub
	case kindK1:
		pub.k1Pub = e.k1Pub
	default:
		return nil, fmt.Errorf("%w: %s key has no public half", engine.ErrUnsupported, e.kind)
	}
	if e.typ == engine.TypePublic {
		pub.usages = slices.Clone(e.usages)
	} else {
		pub.usages = engine.PublicUsages(e.usages)
	}
	return pub, nil
}

// secp256k1 is absent from crypto/x509, so its DER encodings are built
// here from the RFC 5480 and RFC 5915 structures.

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1      = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

	errNotK1 = errors.New("not a secp256k1 key")
)

type k1Algorithm struct {
	Algorithm  asn1.ObjectIdentifier
	NamedCurve asn1.ObjectIdentifier
}

type k1PublicKeyInfo struct {
	Algorithm k1Algorithm
	PublicKey asn1.BitString
}

type k1ECPrivateKey struct {
	Version    int
	PrivateKey []byte
	NamedCurve asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey  asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

type k1PrivateKeyInfo struct {
	Version    int
	Algorithm  k1Algorithm
	PrivateKey []byte
}

func k1AlgorithmID() k1Algorithm {
	return k1Algorithm{Algorithm: oidPublicKeyECDSA, NamedCurve: oidSecp256k1}
}

func marshalK1SPKI(pub *secp256k1.PublicKey) ([]byte, error) {
	point := pub.SerializeUncompressed()
	der, err := asn1.Marshal(k1PublicKeyInfo{
		Algorithm: k1AlgorithmID(),
		PublicKey: asn1.BitString{Bytes: point, BitLength: len(point) * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode secp256k1 public key: %w", err)
	}
	return der, nil
}

func parseK1SPKI(der []byte) (*secp256k1.PublicKey, error) {
	var info k1PublicKeyInfo
	rest, err := asn1.Unmarshal(der, &info)
	if err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("%w: malformed SubjectPublicKeyInfo", engine.ErrInvalidKeyMaterial)
	}
	if !info.Algorithm.Algorithm.Equal(oidPublicKeyECDSA) || !info.Algorithm.NamedCurve.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidKeyMaterial, errNotK1)
	}
	pub, err := secp256k1.ParsePubKey(info.PublicKey.RightAlign())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
	}
	return pub, nil
}

func marshalK1Sec1(priv *secp256k1.PrivateKey, withCurve bool) ([]byte, error) {
	point := priv.PubKey().SerializeUncompressed()
	key := k1ECPrivateKey{
		Version:    1,
		PrivateKey: priv.Serialize(),
		PublicKey:  asn1.BitString{Bytes: point, BitLength: len(point) * 8},
	}
	if withCurve {
		key.NamedCurve = oidSecp256k1
	}
	der, err := asn1.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode secp256k1 private key: %w", err)
	}
	return der, nil
}

func parseK1Sec1(der []byte) ([]byte, error) {
	var key k1ECPrivateKey
	rest, err := asn1.Unmarshal(der, &key)
	if err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("%w: malformed EC private key", engine.ErrInvalidKeyMaterial)
	}
	if key.Version != 1 {
		return nil, fmt.Errorf("%w: EC private key version %d", engine.ErrInvalidKeyMaterial, key.Version)
	}
	if len(key.NamedCurve) > 0 && !key.NamedCurve.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidKeyMaterial, errNotK1)
	}
	if len(key.PrivateKey) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: scalar is %d bytes", engine.ErrInvalidKeyMaterial, len(key.PrivateKey))
	}
	return key.PrivateKey, nil
}

func marshalK1PKCS8(priv *secp256k1.PrivateKey) ([]byte, error) {
	inner, err := marshalK1Sec1(priv, false)
	if err != nil {
		return nil, err
	}
	der, err := asn1.Marshal(k1PrivateKeyInfo{Algorithm: k1AlgorithmID(), PrivateKey: inner})
	if err != nil {
		return nil, fmt.Errorf("failed to encode secp256k1 private key: %w", err)
	}
	return der, nil
}

func parseK1PKCS8(der []byte) ([]byte, error) {
	var info k1PrivateKeyInfo
	rest, err := asn1.Unmarshal(der, &info)
	if err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("%w: malformed PKCS#8 key", engine.ErrInvalidKeyMaterial)
	}
	if !info.Algorithm.Algorithm.Equal(oidPublicKeyECDSA) || !info.Algorithm.NamedCurve.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidKeyMaterial, errNotK1)
	}
	return parseK1Sec1(info.PrivateKey)
}
