package soft

import (
	"crypto/ecdh"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// wrapBytes encrypts exported key material with a wrapping key.
func wrapBytes(wk *entry, algoID uint32, metadata string, data []byte) ([]byte, error) {
	alg, err := wire.ParseWrappingAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch {
	case alg == wire.WrappingAesKw && wk.kind == kindAES:
		meta, err := engine.DecodeMetadata[wire.AesKwWrappingMetadata](metadata)
		if err != nil {
			return nil, err
		}
		if meta.WithPadding {
			return keyWrapPad(wk.secret, data)
		}
		return keyWrap(wk.secret, data)
	case alg == wire.WrappingAesGcm && wk.kind == kindAES:
		return sealGCM(wk.secret, metadata, data)
	case alg == wire.WrappingRsaOaep && wk.kind == kindRSA:
		return encryptOAEP(wk, metadata, data)
	case alg == wire.WrappingRsaPkcs1V1_5 && wk.kind == kindRSA:
		return encryptPKCS1(wk, data)
	}
	return nil, mismatch(alg.String(), wk)
}

// unwrapBytes decrypts wrapped key material.
func unwrapBytes(uk *entry, algoID uint32, metadata string, wrapped []byte) ([]byte, error) {
	alg, err := wire.ParseWrappingAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch {
	case alg == wire.WrappingAesKw && uk.kind == kindAES:
		meta, err := engine.DecodeMetadata[wire.AesKwWrappingMetadata](metadata)
		if err != nil {
			return nil, err
		}
		if meta.WithPadding {
			return keyUnwrapPad(uk.secret, wrapped)
		}
		return keyUnwrap(uk.secret, wrapped)
	case alg == wire.WrappingAesGcm && uk.kind == kindAES:
		return openGCM(uk.secret, metadata, wrapped)
	case alg == wire.WrappingRsaOaep && uk.rsa != nil:
		return decryptOAEP(uk, metadata, wrapped)
	case alg == wire.WrappingRsaPkcs1V1_5 && uk.rsa != nil:
		return decryptPKCS1(uk, wrapped)
	}
	return nil, mismatch(alg.String(), uk)
}

// peerResolver finds the peer public key named by ECDH metadata.
type peerResolver func(id string) (*entry, error)

// deriveSecret produces the raw bytes of a derivation. length is the number
// of bytes the derived key needs.
func deriveSecret(base *entry, algoID uint32, metadata string, length int, peer peerResolver) ([]byte, error) {
	alg, err := wire.ParseDerivationAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch alg {
	case wire.DerivationEcdh:
		meta, err := engine.DecodeMetadata[wire.EcdhMetadata](metadata)
		if err != nil {
			return nil, err
		}
		other, err := peer(meta.PublicKey)
		if err != nil {
			return nil, err
		}
		shared, err := ecdhShared(base, other)
		if err != nil {
			return nil, err
		}
		if length > len(shared) {
			return nil, fmt.Errorf("%w: ECDH yields %d bytes, %d requested", engine.ErrInvalidMetadata, len(shared), length)
		}
		return shared[:length], nil

	case wire.DerivationHkdf:
		if base.typ != engine.TypeSecret {
			return nil, mismatch(alg.String(), base)
		}
		meta, err := engine.DecodeMetadata[wire.HkdfMetadata](metadata)
		if err != nil {
			return nil, err
		}
		newHash, _, err := engine.Hash(meta.HashInfo)
		if err != nil {
			return nil, err
		}
		out := make([]byte, length)
		if _, err := io.ReadFull(hkdf.New(newHash, base.secret, meta.Salt, meta.Info), out); err != nil {
			return nil, fmt.Errorf("HKDF expansion failed: %w", err)
		}
		return out, nil
	}
	return nil, mismatch(alg.String(), base)
}

// ecdhShared computes the shared x-coordinate of base's private key and
// other's public key.
func ecdhShared(base, other *entry) ([]byte, error) {
	switch {
	case base.ec != nil && other.kind == kindEC:
		priv, err := base.ec.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		pub, err := other.ecPub.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
		}
		return ecdhCompute(priv, pub)
	case base.k1 != nil && other.kind == kindK1:
		return secp256k1.GenerateSharedSecret(base.k1, other.k1Pub), nil
	}
	return nil, fmt.Errorf("%w: ECDH between %s %s key and %s %s key",
		engine.ErrUnsupported, base.typ, base.kind, other.typ, other.kind)
}

func ecdhCompute(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
	}
	return shared, nil
}

// derivedEntry builds the key produced by a derivation.
func derivedEntry(derivedAlgoID uint32, derivedMetadata string) (func([]byte) (*entry, error), int, error) {
	alg, err := wire.ParseDerivedKeyUsageAlgorithm(derivedAlgoID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch alg {
	case wire.DerivedKeyAes:
		meta, err := engine.DecodeMetadata[wire.AesMetadata](derivedMetadata)
		if err != nil {
			return nil, 0, err
		}
		build := func(secret []byte) (*entry, error) {
			return &entry{typ: engine.TypeSecret, kind: kindAES, secret: secret}, nil
		}
		return build, meta.Length.Bytes(), nil

	case wire.DerivedKeyHmac:
		meta, err := engine.DecodeMetadata[wire.HmacMetadata](derivedMetadata)
		if err != nil {
			return nil, 0, err
		}
		n, err := hmacKeyLength(meta)
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return nil, 0, fmt.Errorf("%w: HMAC key length", engine.ErrInvalidMetadata)
		}
		build := func(secret []byte) (*entry, error) {
			return newHMAC(meta, secret)
		}
		return build, n, nil
	}
	return nil, 0, fmt.Errorf("%w: derived key algorithm %s", engine.ErrUnsupported, alg)
}
