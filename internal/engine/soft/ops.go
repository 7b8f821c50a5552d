package soft

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	k1ecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// gcm builds an AES-GCM AEAD for the nonce and tag sizes in meta.
func gcm(key []byte, meta wire.AesGcmEncryptionMetadata) (cipher.AEAD, error) {
	if len(meta.IV) == 0 {
		return nil, fmt.Errorf("%w: empty GCM nonce", engine.ErrInvalidMetadata)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidKeyMaterial, err)
	}

	tag := meta.TagLength.Bytes()
	switch {
	case len(meta.IV) == 12:
		return cipher.NewGCMWithTagSize(block, tag)
	case tag == 16:
		return cipher.NewGCMWithNonceSize(block, len(meta.IV))
	}
	return nil, fmt.Errorf("%w: %d-byte nonce requires a 128-bit tag", engine.ErrUnsupported, len(meta.IV))
}

func sealGCM(key []byte, metadata string, plaintext []byte) ([]byte, error) {
	meta, err := engine.DecodeMetadata[wire.AesGcmEncryptionMetadata](metadata)
	if err != nil {
		return nil, err
	}
	aead, err := gcm(key, meta)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, meta.IV, plaintext, meta.AdditionalData), nil
}

func openGCM(key []byte, metadata string, ciphertext []byte) ([]byte, error) {
	meta, err := engine.DecodeMetadata[wire.AesGcmEncryptionMetadata](metadata)
	if err != nil {
		return nil, err
	}
	aead, err := gcm(key, meta)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, meta.IV, ciphertext, meta.AdditionalData)
	if err != nil {
		return nil, fmt.Errorf("AES-GCM decryption failed: %w", err)
	}
	return plaintext, nil
}

func encryptOAEP(e *entry, metadata string, plaintext []byte) ([]byte, error) {
	meta, err := engine.DecodeMetadata[wire.RsaOaepEncryptionMetadata](metadata)
	if err != nil {
		return nil, err
	}
	newHash, _, err := engine.Hash(e.hash)
	if err != nil {
		return nil, err
	}
	ct, err := rsa.EncryptOAEP(newHash(), rand.Reader, e.rsaPub, plaintext, meta.Label)
	if err != nil {
		return nil, fmt.Errorf("RSA-OAEP encryption failed: %w", err)
	}
	return ct, nil
}

func decryptOAEP(e *entry, metadata string, ciphertext []byte) ([]byte, error) {
	meta, err := engine.DecodeMetadata[wire.RsaOaepEncryptionMetadata](metadata)
	if err != nil {
		return nil, err
	}
	newHash, _, err := engine.Hash(e.hash)
	if err != nil {
		return nil, err
	}
	pt, err := rsa.DecryptOAEP(newHash(), rand.Reader, e.rsa, ciphertext, meta.Label)
	if err != nil {
		return nil, fmt.Errorf("RSA-OAEP decryption failed: %w", err)
	}
	return pt, nil
}

func encryptPKCS1(e *entry, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, e.rsaPub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("RSA PKCS#1 v1.5 encryption failed: %w", err)
	}
	return ct, nil
}

func decryptPKCS1(e *entry, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, e.rsa, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("RSA PKCS#1 v1.5 decryption failed: %w", err)
	}
	return pt, nil
}

// encrypt applies an encryption algorithm with e. The key must hold the
// matching material; usage is checked by the caller.
func encrypt(e *entry, algoID uint32, metadata string, plaintext []byte) ([]byte, error) {
	alg, err := wire.ParseEncryptionAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	switch {
	case alg == wire.EncryptionAesGcm && e.kind == kindAES:
		return sealGCM(e.secret, metadata, plaintext)
	case alg == wire.EncryptionRsaOaep && e.kind == kindRSA:
		return encryptOAEP(e, metadata, plaintext)
	case alg == wire.EncryptionRsaPkcs1V1_5 && e.kind == kindRSA:
		return encryptPKCS1(e, plaintext)
	}
	return nil, mismatch(alg.String(), e)
}

func decrypt(e *entry, algoID uint32, metadata string, ciphertext []byte) ([]byte, error) {
	alg, err := wire.ParseEncryptionAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	switch {
	case alg == wire.EncryptionAesGcm && e.kind == kindAES:
		return openGCM(e.secret, metadata, ciphertext)
	case alg == wire.EncryptionRsaOaep && e.rsa != nil:
		return decryptOAEP(e, metadata, ciphertext)
	case alg == wire.EncryptionRsaPkcs1V1_5 && e.rsa != nil:
		return decryptPKCS1(e, ciphertext)
	}
	return nil, mismatch(alg.String(), e)
}

func mismatch(alg string, e *entry) error {
	return fmt.Errorf("%w: %s with %s %s key", engine.ErrUnsupported, alg, e.typ, e.kind)
}

// sign produces a signature. ECDSA signatures are r || s, each padded to
// the curve order size.
func sign(e *entry, algoID uint32, metadata string, data []byte) ([]byte, error) {
	alg, err := wire.ParseSigningAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch {
	case alg == wire.SigningHmac && e.kind == kindHMAC:
		return hmacTag(e, metadata, data)

	case alg == wire.SigningRsaPss && e.rsa != nil:
		meta, err := engine.DecodeMetadata[wire.RsaPssSignatureMetadata](metadata)
		if err != nil {
			return nil, err
		}
		digest, hashID, err := digestWith(e.hash, data)
		if err != nil {
			return nil, err
		}
		sig, err := signPSS(e.rsa, hashID, digest, int(meta.SaltLength))
		if err != nil {
			return nil, fmt.Errorf("RSA-PSS signing failed: %w", err)
		}
		return sig, nil

	case alg == wire.SigningEcdsa && e.ec != nil:
		digest, err := messageDigest(metadata, data)
		if err != nil {
			return nil, err
		}
		r, s, err := ecdsa.Sign(rand.Reader, e.ec, digest)
		if err != nil {
			return nil, fmt.Errorf("ECDSA signing failed: %w", err)
		}
		size := (e.ec.Curve.Params().N.BitLen() + 7) / 8
		sig := make([]byte, 2*size)
		r.FillBytes(sig[:size])
		s.FillBytes(sig[size:])
		return sig, nil

	case alg == wire.SigningEcdsa && e.k1 != nil:
		digest, err := messageDigest(metadata, data)
		if err != nil {
			return nil, err
		}
		sig := k1ecdsa.Sign(e.k1, digest)
		r, s := sig.R(), sig.S()
		rb, sb := r.Bytes(), s.Bytes()
		return append(rb[:], sb[:]...), nil

	case alg == wire.SigningSchnorr && e.k1 != nil:
		digest, err := messageDigest(metadata, data)
		if err != nil {
			return nil, err
		}
		sig, err := schnorr.Sign(e.k1, digest)
		if err != nil {
			return nil, fmt.Errorf("Schnorr signing failed: %w", err)
		}
		return sig.Serialize(), nil
	}
	return nil, mismatch(alg.String(), e)
}

// verify checks a signature. A mismatch is (false, nil).
func verify(e *entry, algoID uint32, metadata string, data, signature []byte) (bool, error) {
	alg, err := wire.ParseSigningAlgorithm(algoID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	switch {
	case alg == wire.SigningHmac && e.kind == kindHMAC:
		tag, err := hmacTag(e, metadata, data)
		if err != nil {
			return false, err
		}
		return hmac.Equal(tag, signature), nil

	case alg == wire.SigningRsaPss && e.kind == kindRSA:
		meta, err := engine.DecodeMetadata[wire.RsaPssSignatureMetadata](metadata)
		if err != nil {
			return false, err
		}
		digest, hashID, err := digestWith(e.hash, data)
		if err != nil {
			return false, err
		}
		return verifyPSS(e.rsaPub, hashID, digest, signature, int(meta.SaltLength)), nil

	case alg == wire.SigningEcdsa && e.kind == kindEC:
		digest, err := messageDigest(metadata, data)
		if err != nil {
			return false, err
		}
		size := (e.ecPub.Curve.Params().N.BitLen() + 7) / 8
		if len(signature) != 2*size {
			return false, nil
		}
		r := new(big.Int).SetBytes(signature[:size])
		s := new(big.Int).SetBytes(signature[size:])
		return ecdsa.Verify(e.ecPub, digest, r, s), nil

	case alg == wire.SigningEcdsa && e.kind == kindK1:
		digest, err := messageDigest(metadata, data)
		if err != nil {
			return false, err
		}
		if len(signature) != 64 {
			return false, nil
		}
		var r, s secp256k1.ModNScalar
		if r.SetByteSlice(signature[:32]) || s.SetByteSlice(signature[32:]) {
			return false, nil
		}
		return k1ecdsa.NewSignature(&r, &s).Verify(digest, e.k1Pub), nil

	case alg == wire.SigningSchnorr && e.kind == kindK1:
		digest, err := messageDigest(metadata, data)
		if err != nil {
			return false, err
		}
		sig, err := schnorr.ParseSignature(signature)
		if err != nil {
			return false, nil
		}
		return sig.Verify(digest, e.k1Pub), nil
	}
	return false, mismatch(alg.String(), e)
}

func hmacTag(e *entry, metadata string, data []byte) ([]byte, error) {
	meta, err := engine.DecodeMetadata[wire.HmacSignatureMetadata](metadata)
	if err != nil {
		return nil, err
	}
	newHash, _, err := engine.Hash(meta.ShaMetadata)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newHash, e.secret)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// messageDigest hashes data with the sha_metadata carried by ECDSA and
// Schnorr signature metadata.
func messageDigest(metadata string, data []byte) ([]byte, error) {
	meta, err := engine.DecodeMetadata[wire.EcdsaSignatureMetadata](metadata)
	if err != nil {
		return nil, err
	}
	return engine.Sum(meta.ShaMetadata, data)
}

func digestWith(sha wire.ShaMetadata, data []byte) ([]byte, crypto.Hash, error) {
	newHash, id, err := engine.Hash(sha)
	if err != nil {
		return nil, 0, err
	}
	h := newHash()
	h.Write(data)
	return h.Sum(nil), id, nil
}

// digest computes a host hash.
func digest(algoID uint32, metadata string, data []byte) ([]byte, error) {
	alg, err := wire.ParseHashAlgorithm(algoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}
	switch alg {
	case wire.HashSha:
		meta, err := engine.DecodeMetadata[wire.ShaMetadata](metadata)
		if err != nil {
			return nil, err
		}
		return engine.Sum(meta, data)
	case wire.HashTagged:
		meta, err := engine.DecodeMetadata[wire.TaggedShaMetadata](metadata)
		if err != nil {
			return nil, err
		}
		return engine.TaggedSum(meta, data)
	}
	return nil, fmt.Errorf("%w: hash algorithm %s", engine.ErrUnsupported, alg)
}
