package subtle

import (
	"fmt"
	"reflect"

	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Dispatchers resolve one variant of a family into its numeric identifier and
// encoded metadata. Every switch lists every declared variant. Pointer
// variants dispatch like their values; the default branch is reached only
// with a nil interface or a nil pointer variant.

// variant dereferences a non-nil pointer variant.
func variant[T any](alg T) T {
	v := reflect.ValueOf(alg)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		if elem, ok := v.Elem().Interface().(T); ok {
			return elem
		}
	}
	return alg
}

func unknownVariant(family string, v any) error {
	return fmt.Errorf("%w: %s %T", ErrUnknownAlgorithmVariant, family, v)
}

func keyGenMetadata(alg KeyGenAlgorithm) (wire.KeyAlgorithm, string, error) {
	switch p := variant(alg).(type) {
	case RsaHashedKeyGenParams:
		meta, err := RsaMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.KeyAlgorithmRsa, meta)
	case EcKeyGenParams:
		if IsSecpK1(p.NamedCurve) {
			meta, err := SecpK1Metadata(p)
			if err != nil {
				return 0, "", err
			}
			return encoded(wire.KeyAlgorithmSecpK1, meta)
		}
		meta, err := SecpR1Metadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.KeyAlgorithmSecpR1, meta)
	case AesKeyGenParams:
		meta, err := AesMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.KeyAlgorithmAes, meta)
	case HmacKeyGenParams:
		meta, err := HmacMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.KeyAlgorithmHmac, meta)
	default:
		return 0, "", unknownVariant("key generation algorithm", alg)
	}
}

func encryptMetadata(alg EncryptAlgorithm) (wire.EncryptionAlgorithm, string, error) {
	switch p := variant(alg).(type) {
	case RsaOaepParams:
		return encoded(wire.EncryptionRsaOaep, wire.RsaOaepEncryptionMetadata{Label: wire.Bytes(p.Label)})
	case AesGcmParams:
		meta, err := AesGcmMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.EncryptionAesGcm, meta)
	default:
		return 0, "", unknownVariant("encryption algorithm", alg)
	}
}

func signMetadata(alg SignAlgorithm) (wire.SigningAlgorithm, string, error) {
	switch p := variant(alg).(type) {
	case EcdsaParams:
		sha, err := ShaMetadata(p.Hash)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.SigningEcdsa, wire.EcdsaSignatureMetadata{ShaMetadata: sha})
	case RsaPssParams:
		return encoded(wire.SigningRsaPss, wire.RsaPssSignatureMetadata{SaltLength: uint64(p.SaltLength)})
	case HmacParams:
		sha, err := ShaMetadata(p.Hash)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.SigningHmac, wire.HmacSignatureMetadata{ShaMetadata: sha})
	default:
		return 0, "", unknownVariant("signing algorithm", alg)
	}
}

func wrapMetadata(alg KeyWrapAlgorithm) (wire.WrappingAlgorithm, string, error) {
	switch p := variant(alg).(type) {
	case RsaOaepParams:
		return encoded(wire.WrappingRsaOaep, wire.RsaOaepEncryptionMetadata{Label: wire.Bytes(p.Label)})
	case AesGcmParams:
		meta, err := AesGcmMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.WrappingAesGcm, meta)
	case AesKwParams:
		return encoded(wire.WrappingAesKw, wire.AesKwWrappingMetadata{WithPadding: true})
	default:
		return 0, "", unknownVariant("wrapping algorithm", alg)
	}
}

func deriveMetadata(alg KeyDerivationAlgorithm) (wire.DerivationAlgorithm, string, error) {
	switch p := variant(alg).(type) {
	case EcdhKeyDeriveParams:
		meta, err := EcdhMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.DerivationEcdh, meta)
	case HkdfParams:
		meta, err := HkdfMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.DerivationHkdf, meta)
	default:
		return 0, "", unknownVariant("derivation algorithm", alg)
	}
}

func derivedKeyMetadata(alg DerivedKeyAlgorithm) (wire.DerivedKeyUsageAlgorithm, string, error) {
	switch p := variant(alg).(type) {
	case AesKeyGenParams:
		meta, err := AesMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.DerivedKeyAes, meta)
	case HmacKeyGenParams:
		meta, err := HmacMetadata(p)
		if err != nil {
			return 0, "", err
		}
		return encoded(wire.DerivedKeyHmac, meta)
	default:
		return 0, "", unknownVariant("derived key algorithm", alg)
	}
}

func encoded[T any](id T, meta any) (T, string, error) {
	s, err := wire.Encode(meta)
	if err != nil {
		var zero T
		return zero, "", err
	}
	return id, s, nil
}

// algorithmName returns a short label for audit records.
func algorithmName(alg any) string {
	switch p := variant(alg).(type) {
	case RsaHashedKeyGenParams:
		return fmt.Sprintf("RSA-%d/%s", p.ModulusLength, p.Hash)
	case EcKeyGenParams:
		return "EC/" + p.NamedCurve
	case AesKeyGenParams:
		return fmt.Sprintf("AES-%d", p.Length)
	case HmacKeyGenParams:
		return "HMAC/" + p.Hash
	case RsaOaepParams:
		return "RSA-OAEP"
	case AesGcmParams:
		return "AES-GCM"
	case AesKwParams:
		return "AES-KW"
	case EcdhKeyDeriveParams:
		return "ECDH"
	case HkdfParams:
		return "HKDF/" + p.Hash
	}
	return fmt.Sprintf("%T", alg)
}
