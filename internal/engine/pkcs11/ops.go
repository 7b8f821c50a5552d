//go:build cgo

package pkcs11

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/miekg/pkcs11"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// hashMechs are the token mechanisms bound to one hash function.
type hashMechs struct {
	digest uint
	hmac   uint
	mgf    uint
}

// mechanismsFor maps host hash metadata to token mechanisms. SHA-3 has no
// portable PKCS#11 v2.40 mechanism.
func mechanismsFor(meta wire.ShaMetadata) (hashMechs, error) {
	switch {
	case meta.AlgoID == wire.Sha1 && meta.Length == wire.DigestBits160:
		return hashMechs{pkcs11.CKM_SHA_1, pkcs11.CKM_SHA_1_HMAC, pkcs11.CKG_MGF1_SHA1}, nil
	case meta.AlgoID == wire.Sha2 && meta.Length == wire.DigestBits256:
		return hashMechs{pkcs11.CKM_SHA256, pkcs11.CKM_SHA256_HMAC, pkcs11.CKG_MGF1_SHA256}, nil
	case meta.AlgoID == wire.Sha2 && meta.Length == wire.DigestBits384:
		return hashMechs{pkcs11.CKM_SHA384, pkcs11.CKM_SHA384_HMAC, pkcs11.CKG_MGF1_SHA384}, nil
	case meta.AlgoID == wire.Sha2 && meta.Length == wire.DigestBits512:
		return hashMechs{pkcs11.CKM_SHA512, pkcs11.CKM_SHA512_HMAC, pkcs11.CKG_MGF1_SHA512}, nil
	}
	return hashMechs{}, fmt.Errorf("%w: hash %s/%s on PKCS#11", engine.ErrUnsupported, meta.AlgoID, meta.Length)
}

func mech(m uint, param any) []*pkcs11.Mechanism {
	return []*pkcs11.Mechanism{pkcs11.NewMechanism(m, param)}
}

func mismatch(o *object, algo fmt.Stringer) error {
	return fmt.Errorf("%w: %s with a %s key", engine.ErrUnsupported, algo, o.Kind)
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

// =============================================================================
// Generation and import
// =============================================================================

// keySpec is a decoded key algorithm: what to create on the token and how
// to describe it.
type keySpec struct {
	kind      string
	algorithm string
	hash      *wire.ShaMetadata
	length    int // secret length in bytes
	curve     elliptic.Curve
	ecParams  []byte
	modulus   int
}

func decodeKeySpec(algoID uint32, metadata string) (keySpec, error) {
	algo, err := wire.ParseKeyAlgorithm(algoID)
	if err != nil {
		return keySpec{}, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	switch algo {
	case wire.KeyAlgorithmAes:
		meta, err := engine.DecodeMetadata[wire.AesMetadata](metadata)
		if err != nil {
			return keySpec{}, err
		}
		return keySpec{kind: kindAES, algorithm: fmt.Sprintf("AES-%d", meta.Length), length: meta.Length.Bytes()}, nil
	case wire.KeyAlgorithmHmac:
		meta, err := engine.DecodeMetadata[wire.HmacMetadata](metadata)
		if err != nil {
			return keySpec{}, err
		}
		if _, err := mechanismsFor(meta.ShaMetadata); err != nil {
			return keySpec{}, err
		}
		n, err := hmacKeyLength(meta)
		if err != nil {
			return keySpec{}, err
		}
		return keySpec{
			kind:      kindHMAC,
			algorithm: fmt.Sprintf("HMAC-%s-%s", meta.ShaMetadata.AlgoID, meta.ShaMetadata.Length),
			hash:      &meta.ShaMetadata,
			length:    n,
		}, nil
	case wire.KeyAlgorithmRsa:
		meta, err := engine.DecodeMetadata[wire.RsaMetadata](metadata)
		if err != nil {
			return keySpec{}, err
		}
		if meta.PublicExponent != 0 && meta.PublicExponent != 65537 {
			return keySpec{}, fmt.Errorf("%w: RSA public exponent %d", engine.ErrUnsupported, meta.PublicExponent)
		}
		if _, err := mechanismsFor(meta.ShaMetadata); err != nil {
			return keySpec{}, err
		}
		return keySpec{
			kind:      kindRSA,
			algorithm: fmt.Sprintf("RSA-%d", meta.Modulus),
			hash:      &meta.ShaMetadata,
			modulus:   int(meta.Modulus),
		}, nil
	case wire.KeyAlgorithmSecpR1:
		meta, err := engine.DecodeMetadata[wire.SecpR1Metadata](metadata)
		if err != nil {
			return keySpec{}, err
		}
		curve, err := curveOf(meta.Length)
		if err != nil {
			return keySpec{}, err
		}
		params, err := ecParams(curve)
		if err != nil {
			return keySpec{}, err
		}
		return keySpec{
			kind:      kindEC,
			algorithm: curve.Params().Name,
			curve:     curve,
			ecParams:  params,
		}, nil
	}
	return keySpec{}, fmt.Errorf("%w: %s keys on PKCS#11", engine.ErrUnsupported, algo)
}

// generate creates fresh key material on the token.
func generate(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, id string, spec keySpec, extractable bool) (*object, error) {
	o := &object{record: record{ID: id, Kind: spec.kind, Algorithm: spec.algorithm, Hash: spec.hash}}

	switch spec.kind {
	case kindAES, kindHMAC:
		keyType, genMech := uint(pkcs11.CKK_AES), uint(pkcs11.CKM_AES_KEY_GEN)
		if spec.kind == kindHMAC {
			keyType, genMech = pkcs11.CKK_GENERIC_SECRET, pkcs11.CKM_GENERIC_SECRET_KEY_GEN
		}
		template := secretTemplate(spec.kind, keyType, id, extractable,
			pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, spec.length))
		h, err := ctx.GenerateKey(s, mech(genMech, nil), template)
		if err != nil {
			return nil, tokenError("generate secret key", err)
		}
		o.Type, o.handle = engine.TypeSecret, h
	case kindRSA:
		pub := publicTemplate(kindRSA, pkcs11.CKK_RSA, id,
			pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, spec.modulus),
			pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, []byte{0x01, 0x00, 0x01}))
		priv := privateTemplate(kindRSA, pkcs11.CKK_RSA, id, extractable)
		pubH, privH, err := ctx.GenerateKeyPair(s, mech(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil), pub, priv)
		if err != nil {
			return nil, tokenError("generate RSA key pair", err)
		}
		o.Type, o.handle, o.public = engine.TypePrivate, privH, pubH
	case kindEC:
		pub := publicTemplate(kindEC, pkcs11.CKK_EC, id, pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, spec.ecParams))
		priv := privateTemplate(kindEC, pkcs11.CKK_EC, id, extractable)
		pubH, privH, err := ctx.GenerateKeyPair(s, mech(pkcs11.CKM_EC_KEY_PAIR_GEN, nil), pub, priv)
		if err != nil {
			return nil, tokenError("generate EC key pair", err)
		}
		o.Type, o.handle, o.public = engine.TypePrivate, privH, pubH
	}
	return o, nil
}

// importKey creates key objects from encoded material. Secret keys take
// the raw format only.
func importKey(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, id string, format uint32, data []byte, spec keySpec, extractable bool) (*object, error) {
	f, err := wire.ParseKeyFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	o := &object{record: record{ID: id, Kind: spec.kind, Algorithm: spec.algorithm, Hash: spec.hash}}

	switch spec.kind {
	case kindAES, kindHMAC:
		if f != wire.FormatRaw {
			return nil, fmt.Errorf("%w: %s import of a %s key", engine.ErrUnsupported, f, spec.kind)
		}
		keyType := uint(pkcs11.CKK_AES)
		if spec.kind == kindAES && len(data) != spec.length {
			return nil, fmt.Errorf("%w: AES key is %d bytes, want %d", engine.ErrInvalidKeyMaterial, len(data), spec.length)
		}
		if spec.kind == kindHMAC {
			keyType = pkcs11.CKK_GENERIC_SECRET
			if len(data) == 0 {
				return nil, fmt.Errorf("%w: empty HMAC key", engine.ErrInvalidKeyMaterial)
			}
		}
		h, err := ctx.CreateObject(s, secretTemplate(spec.kind, keyType, id, extractable,
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, data)))
		if err != nil {
			return nil, tokenError("import secret key", err)
		}
		o.Type, o.handle = engine.TypeSecret, h
		return o, nil
	case kindRSA, kindEC:
		key, err := parseAsymmetric(f, data, spec)
		if err != nil {
			return nil, err
		}
		return createAsymmetric(ctx, s, o, key, extractable)
	}
	return nil, fmt.Errorf("%w: %s import", engine.ErrUnsupported, spec.kind)
}

// parseAsymmetric decodes RSA or EC material into a Go key.
func parseAsymmetric(f wire.KeyFormat, data []byte, spec keySpec) (any, error) {
	var key any
	var err error
	switch f {
	case wire.FormatPkcs8:
		key, err = x509.ParsePKCS8PrivateKey(data)
	case wire.FormatSpki:
		key, err = x509.ParsePKIXPublicKey(data)
	case wire.FormatPkcs1:
		if spec.kind != kindRSA {
			return nil, fmt.Errorf("%w: pkcs1 for a %s key", engine.ErrUnsupported, spec.kind)
		}
		if key, err = x509.ParsePKCS1PrivateKey(data); err != nil {
			key, err = x509.ParsePKCS1PublicKey(data)
		}
	case wire.FormatSec1:
		if spec.kind != kindEC {
			return nil, fmt.Errorf("%w: sec1 for a %s key", engine.ErrUnsupported, spec.kind)
		}
		key, err = x509.ParseECPrivateKey(data)
	case wire.FormatRaw:
		if spec.kind != kindEC {
			return nil, fmt.Errorf("%w: raw for a %s key", engine.ErrUnsupported, spec.kind)
		}
		key, err = ecdsa.ParseUncompressedPublicKey(spec.curve, data)
	default:
		return nil, fmt.Errorf("%w: %s import", engine.ErrUnsupported, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
	}

	switch k := key.(type) {
	case *rsa.PrivateKey, *rsa.PublicKey:
		if spec.kind != kindRSA {
			return nil, fmt.Errorf("%w: RSA material for a %s key", engine.ErrInvalidKeyMaterial, spec.kind)
		}
	case *ecdsa.PrivateKey:
		if spec.kind != kindEC || k.Curve != spec.curve {
			return nil, fmt.Errorf("%w: EC material does not match %s", engine.ErrInvalidKeyMaterial, spec.algorithm)
		}
	case *ecdsa.PublicKey:
		if spec.kind != kindEC || k.Curve != spec.curve {
			return nil, fmt.Errorf("%w: EC material does not match %s", engine.ErrInvalidKeyMaterial, spec.algorithm)
		}
	default:
		return nil, fmt.Errorf("%w: %T", engine.ErrInvalidKeyMaterial, key)
	}
	return key, nil
}

// createAsymmetric writes a Go key to the token: the private object and
// its public half, or the public object alone.
func createAsymmetric(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, o *object, key any, extractable bool) (*object, error) {
	pubAttrs, privAttrs, keyType, err := asymmetricAttrs(key)
	if err != nil {
		return nil, err
	}
	pubH, err := ctx.CreateObject(s, publicTemplate(o.Kind, keyType, o.ID, pubAttrs...))
	if err != nil {
		return nil, tokenError("import public key", err)
	}
	if privAttrs == nil {
		o.Type, o.handle = engine.TypePublic, pubH
		return o, nil
	}
	privH, err := ctx.CreateObject(s, privateTemplate(o.Kind, keyType, o.ID, extractable, privAttrs...))
	if err != nil {
		_ = ctx.DestroyObject(s, pubH)
		return nil, tokenError("import private key", err)
	}
	o.Type, o.handle, o.public = engine.TypePrivate, privH, pubH
	return o, nil
}

func asymmetricAttrs(key any) (pub, priv []*pkcs11.Attribute, keyType uint, err error) {
	rsaPub := func(k *rsa.PublicKey) []*pkcs11.Attribute {
		return []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_MODULUS, k.N.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, big.NewInt(int64(k.E)).Bytes()),
		}
	}
	ecPub := func(k *ecdsa.PublicKey) ([]*pkcs11.Attribute, error) {
		params, err := ecParams(k.Curve)
		if err != nil {
			return nil, err
		}
		point, err := ecPointAttr(k)
		if err != nil {
			return nil, err
		}
		return []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
			pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, point),
		}, nil
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		k.Precompute()
		priv = append(rsaPub(&k.PublicKey),
			pkcs11.NewAttribute(pkcs11.CKA_PRIVATE_EXPONENT, k.D.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_PRIME_1, k.Primes[0].Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_PRIME_2, k.Primes[1].Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_EXPONENT_1, k.Precomputed.Dp.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_EXPONENT_2, k.Precomputed.Dq.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_COEFFICIENT, k.Precomputed.Qinv.Bytes()),
		)
		return rsaPub(&k.PublicKey), priv, pkcs11.CKK_RSA, nil
	case *rsa.PublicKey:
		return rsaPub(k), nil, pkcs11.CKK_RSA, nil
	case *ecdsa.PrivateKey:
		pub, err := ecPub(&k.PublicKey)
		if err != nil {
			return nil, nil, 0, err
		}
		scalar, err := k.Bytes()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		priv = []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, pub[0].Value),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, scalar),
		}
		return pub, priv, pkcs11.CKK_EC, nil
	case *ecdsa.PublicKey:
		pub, err := ecPub(k)
		return pub, nil, pkcs11.CKK_EC, err
	}
	return nil, nil, 0, fmt.Errorf("%w: %T", engine.ErrUnsupported, key)
}

// =============================================================================
// Encryption and signatures
// =============================================================================

// cipher selects the mechanism for an encryption algorithm. The returned
// function frees mechanism parameters once the operation is done.
func cipher(o *object, algoID uint32, metadata string) ([]*pkcs11.Mechanism, func(), error) {
	algo, err := wire.ParseEncryptionAlgorithm(algoID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	noop := func() {}

	switch algo {
	case wire.EncryptionAesGcm:
		if o.Kind != kindAES {
			return nil, nil, mismatch(o, algo)
		}
		meta, err := engine.DecodeMetadata[wire.AesGcmEncryptionMetadata](metadata)
		if err != nil {
			return nil, nil, err
		}
		if len(meta.IV) == 0 {
			return nil, nil, fmt.Errorf("%w: empty GCM IV", engine.ErrInvalidMetadata)
		}
		params := pkcs11.NewGCMParams(meta.IV, meta.AdditionalData, meta.TagLength.Bits())
		return mech(pkcs11.CKM_AES_GCM, params), params.Free, nil
	case wire.EncryptionRsaOaep:
		if o.Kind != kindRSA {
			return nil, nil, mismatch(o, algo)
		}
		meta, err := engine.DecodeMetadata[wire.RsaOaepEncryptionMetadata](metadata)
		if err != nil {
			return nil, nil, err
		}
		m, err := oaep(o, meta.Label)
		return m, noop, err
	case wire.EncryptionRsaPkcs1V1_5:
		if o.Kind != kindRSA {
			return nil, nil, mismatch(o, algo)
		}
		return mech(pkcs11.CKM_RSA_PKCS, nil), noop, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", engine.ErrUnsupported, algo)
}

// oaep builds CKM_RSA_PKCS_OAEP with the hash bound to the key.
func oaep(o *object, label []byte) ([]*pkcs11.Mechanism, error) {
	if o.Hash == nil {
		return nil, fmt.Errorf("%w: RSA key %s has no hash", engine.ErrInvalidMetadata, o.ID)
	}
	hm, err := mechanismsFor(*o.Hash)
	if err != nil {
		return nil, err
	}
	params := pkcs11.NewOAEPParams(hm.digest, hm.mgf, pkcs11.CKZ_DATA_SPECIFIED, label)
	return mech(pkcs11.CKM_RSA_PKCS_OAEP, params), nil
}

// signature selects the mechanism for a signing algorithm and prepares its
// input: ECDSA and PSS sign a digest computed here, HMAC the message.
func signature(o *object, algoID uint32, metadata string, data []byte) ([]*pkcs11.Mechanism, []byte, error) {
	algo, err := wire.ParseSigningAlgorithm(algoID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch algo {
	case wire.SigningEcdsa:
		if o.Kind != kindEC {
			return nil, nil, mismatch(o, algo)
		}
		meta, err := engine.DecodeMetadata[wire.EcdsaSignatureMetadata](metadata)
		if err != nil {
			return nil, nil, err
		}
		sum, err := engine.Sum(meta.ShaMetadata, data)
		if err != nil {
			return nil, nil, err
		}
		return mech(pkcs11.CKM_ECDSA, nil), sum, nil
	case wire.SigningRsaPss:
		if o.Kind != kindRSA || o.Hash == nil {
			return nil, nil, mismatch(o, algo)
		}
		meta, err := engine.DecodeMetadata[wire.RsaPssSignatureMetadata](metadata)
		if err != nil {
			return nil, nil, err
		}
		hm, err := mechanismsFor(*o.Hash)
		if err != nil {
			return nil, nil, err
		}
		sum, err := engine.Sum(*o.Hash, data)
		if err != nil {
			return nil, nil, err
		}
		params := pkcs11.NewPSSParams(hm.digest, hm.mgf, uint(meta.SaltLength))
		return mech(pkcs11.CKM_RSA_PKCS_PSS, params), sum, nil
	case wire.SigningHmac:
		if o.Kind != kindHMAC {
			return nil, nil, mismatch(o, algo)
		}
		meta, err := engine.DecodeMetadata[wire.HmacSignatureMetadata](metadata)
		if err != nil {
			return nil, nil, err
		}
		hm, err := mechanismsFor(meta.ShaMetadata)
		if err != nil {
			return nil, nil, err
		}
		return mech(hm.hmac, nil), data, nil
	}
	return nil, nil, fmt.Errorf("%w: %s on PKCS#11", engine.ErrUnsupported, algo)
}

// =============================================================================
// Export
// =============================================================================

// exportsSecret reports whether encoding o in format reveals secret or
// private material.
func exportsSecret(o *object, f wire.KeyFormat) bool {
	if o.Type == engine.TypePublic || f == wire.FormatSpki {
		return false
	}
	if f == wire.FormatRaw {
		return o.Type == engine.TypeSecret
	}
	return true
}

func exportKey(ctx *pkcs11.Ctx, s pkcs11.SessionHandle, o *object, format uint32) ([]byte, error) {
	f, err := wire.ParseKeyFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	if !o.Extractable && exportsSecret(o, f) {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotExtractable, o.ID)
	}

	if o.Type == engine.TypeSecret {
		if f != wire.FormatRaw {
			return nil, fmt.Errorf("%w: %s export of a secret key", engine.ErrUnsupported, f)
		}
		v, err := attributes(ctx, s, o.handle, pkcs11.CKA_VALUE)
		if err != nil {
			return nil, err
		}
		return v[0], nil
	}

	switch f {
	case wire.FormatSpki:
		pub, err := publicKey(ctx, s, o)
		if err != nil {
			return nil, err
		}
		return x509.MarshalPKIXPublicKey(pub)
	case wire.FormatRaw:
		pub, err := publicKey(ctx, s, o)
		if err != nil {
			return nil, err
		}
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: raw export of an RSA key", engine.ErrUnsupported)
		}
		return ecPub.Bytes()
	case wire.FormatPkcs1:
		if o.Kind != kindRSA {
			return nil, fmt.Errorf("%w: pkcs1 export of a %s key", engine.ErrUnsupported, o.Kind)
		}
		if o.Type == engine.TypePublic {
			pub, err := publicKey(ctx, s, o)
			if err != nil {
				return nil, err
			}
			return x509.MarshalPKCS1PublicKey(pub.(*rsa.PublicKey)), nil
		}
		priv, err := privateKey(ctx, s, o)
		if err != nil {
			return nil, err
		}
		return x509.MarshalPKCS1PrivateKey(priv.(*rsa.PrivateKey)), nil
	case wire.FormatPkcs8, wire.FormatSec1:
		if o.Type == engine.TypePublic {
			return nil, fmt.Errorf("%w: %s export of a public key", engine.ErrUnsupported, f)
		}
		priv, err := privateKey(ctx, s, o)
		if err != nil {
			return nil, err
		}
		if f == wire.FormatSec1 {
			ecPriv, ok := priv.(*ecdsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("%w: sec1 export of a %s key", engine.ErrUnsupported, o.Kind)
			}
			return x509.MarshalECPrivateKey(ecPriv)
		}
		return x509.MarshalPKCS8PrivateKey(priv)
	}
	return nil, fmt.Errorf("%w: %s export", engine.ErrUnsupported, f)
}

// =============================================================================
// Wrapping
// =============================================================================

// wrapping selects the key-wrap mechanism. Only AES-KW and the RSA
// encryption schemes exist as PKCS#11 wrap mechanisms.
func wrapping(o *object, algoID uint32, metadata string) ([]*pkcs11.Mechanism, error) {
	algo, err := wire.ParseWrappingAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch algo {
	case wire.WrappingAesKw:
		if o.Kind != kindAES {
			return nil, mismatch(o, algo)
		}
		meta, err := engine.DecodeMetadata[wire.AesKwWrappingMetadata](metadata)
		if err != nil {
			return nil, err
		}
		if meta.WithPadding {
			return mech(pkcs11.CKM_AES_KEY_WRAP_PAD, nil), nil
		}
		return mech(pkcs11.CKM_AES_KEY_WRAP, nil), nil
	case wire.WrappingRsaOaep:
		if o.Kind != kindRSA {
			return nil, mismatch(o, algo)
		}
		meta, err := engine.DecodeMetadata[wire.RsaOaepEncryptionMetadata](metadata)
		if err != nil {
			return nil, err
		}
		return oaep(o, meta.Label)
	case wire.WrappingRsaPkcs1V1_5:
		if o.Kind != kindRSA {
			return nil, mismatch(o, algo)
		}
		return mech(pkcs11.CKM_RSA_PKCS, nil), nil
	}
	return nil, fmt.Errorf("%w: %s wrapping on PKCS#11", engine.ErrUnsupported, algo)
}

// wrapFormat checks that format is the encoding the token wraps o in: raw
// for secret keys, PKCS#8 for private keys.
func wrapFormat(o *object, format uint32) error {
	f, err := wire.ParseKeyFormat(format)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	switch {
	case o.Type == engine.TypeSecret && f == wire.FormatRaw:
		return nil
	case o.Type == engine.TypePrivate && f == wire.FormatPkcs8:
		return nil
	}
	return fmt.Errorf("%w: wrapping a %s key as %s", engine.ErrUnsupported, o.Type, f)
}

// =============================================================================
// Derivation
// =============================================================================

// derivedTemplate describes the secret key a derivation produces.
func derivedTemplate(id string, derivedAlgoID uint32, metadata string, extractable bool) (keySpec, []*pkcs11.Attribute, error) {
	algo, err := wire.ParseDerivedKeyUsageAlgorithm(derivedAlgoID)
	if err != nil {
		return keySpec{}, nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	var spec keySpec
	switch algo {
	case wire.DerivedKeyAes:
		spec, err = decodeKeySpec(uint32(wire.KeyAlgorithmAes), metadata)
	case wire.DerivedKeyHmac:
		spec, err = decodeKeySpec(uint32(wire.KeyAlgorithmHmac), metadata)
	default:
		err = fmt.Errorf("%w: derived %s", engine.ErrUnsupported, algo)
	}
	if err != nil {
		return keySpec{}, nil, err
	}

	keyType := uint(pkcs11.CKK_AES)
	if spec.kind == kindHMAC {
		keyType = pkcs11.CKK_GENERIC_SECRET
	}
	return spec, secretTemplate(spec.kind, keyType, id, extractable,
		pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, spec.length)), nil
}
