package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// keyAlgorithm is a CLI key algorithm name with its parameters and the
// usages granted when --usage is not given.
type keyAlgorithm struct {
	params subtle.KeyGenAlgorithm
	usages []string
}

var keyAlgorithms = map[string]keyAlgorithm{
	"aes-128":     {subtle.AesKeyGenParams{Length: 128}, []string{"encrypt", "decrypt", "wrap_key", "unwrap_key"}},
	"aes-192":     {subtle.AesKeyGenParams{Length: 192}, []string{"encrypt", "decrypt", "wrap_key", "unwrap_key"}},
	"aes-256":     {subtle.AesKeyGenParams{Length: 256}, []string{"encrypt", "decrypt", "wrap_key", "unwrap_key"}},
	"rsa-2048":    {subtle.RsaHashedKeyGenParams{ModulusLength: 2048, PublicExponent: 65537, Hash: "SHA-256"}, []string{"sign", "decrypt", "unwrap_key"}},
	"rsa-3072":    {subtle.RsaHashedKeyGenParams{ModulusLength: 3072, PublicExponent: 65537, Hash: "SHA-256"}, []string{"sign", "decrypt", "unwrap_key"}},
	"rsa-4096":    {subtle.RsaHashedKeyGenParams{ModulusLength: 4096, PublicExponent: 65537, Hash: "SHA-256"}, []string{"sign", "decrypt", "unwrap_key"}},
	"p-256":       {subtle.EcKeyGenParams{NamedCurve: "P-256"}, []string{"sign", "derive_key"}},
	"p-384":       {subtle.EcKeyGenParams{NamedCurve: "P-384"}, []string{"sign", "derive_key"}},
	"p-521":       {subtle.EcKeyGenParams{NamedCurve: "P-521"}, []string{"sign", "derive_key"}},
	"secp256k1":   {subtle.EcKeyGenParams{NamedCurve: "secp256k1"}, []string{"sign", "derive_key"}},
	"hmac-sha256": {subtle.HmacKeyGenParams{Hash: "SHA-256"}, []string{"sign", "verify"}},
	"hmac-sha384": {subtle.HmacKeyGenParams{Hash: "SHA-384"}, []string{"sign", "verify"}},
	"hmac-sha512": {subtle.HmacKeyGenParams{Hash: "SHA-512"}, []string{"sign", "verify"}},
}

// keyAlgorithmNames lists the table keys in order.
func keyAlgorithmNames() []string {
	names := make([]string, 0, len(keyAlgorithms))
	for name := range keyAlgorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupKeyAlgorithm resolves a CLI key algorithm name.
func lookupKeyAlgorithm(name string) (keyAlgorithm, error) {
	alg, ok := keyAlgorithms[strings.ToLower(name)]
	if !ok {
		return keyAlgorithm{}, fmt.Errorf("unknown algorithm %q (supported: %s)", name, strings.Join(keyAlgorithmNames(), ", "))
	}
	return alg, nil
}

// derivedAlgorithm resolves the key produced by a derivation. Only AES and
// HMAC keys can be derived.
func derivedAlgorithm(name string) (subtle.DerivedKeyAlgorithm, []string, error) {
	alg, err := lookupKeyAlgorithm(name)
	if err != nil {
		return nil, nil, err
	}
	derived, ok := alg.params.(subtle.DerivedKeyAlgorithm)
	if !ok {
		return nil, nil, fmt.Errorf("cannot derive a %s key (use an aes-* or hmac-* algorithm)", name)
	}
	return derived, alg.usages, nil
}

// cipherOptions gathers the flags shared by encrypt, decrypt, wrap and unwrap.
type cipherOptions struct {
	alg       string
	iv        []byte
	aad       []byte
	tagLength uint32
	label     []byte
}

// encryptAlgorithm builds the parameters of encrypt and decrypt.
func encryptAlgorithm(o cipherOptions) (subtle.EncryptAlgorithm, error) {
	switch strings.ToLower(o.alg) {
	case "aes-gcm":
		return subtle.AesGcmParams{IV: o.iv, AdditionalData: o.aad, TagLength: o.tagLength}, nil
	case "rsa-oaep":
		return subtle.RsaOaepParams{Label: o.label}, nil
	}
	return nil, fmt.Errorf("unknown encryption algorithm %q (supported: aes-gcm, rsa-oaep)", o.alg)
}

// wrapAlgorithm builds the parameters of wrap and unwrap.
func wrapAlgorithm(o cipherOptions) (subtle.KeyWrapAlgorithm, error) {
	switch strings.ToLower(o.alg) {
	case "aes-kw":
		return subtle.AesKwParams{}, nil
	case "aes-gcm":
		return subtle.AesGcmParams{IV: o.iv, AdditionalData: o.aad, TagLength: o.tagLength}, nil
	case "rsa-oaep":
		return subtle.RsaOaepParams{Label: o.label}, nil
	}
	return nil, fmt.Errorf("unknown wrapping algorithm %q (supported: aes-kw, aes-gcm, rsa-oaep)", o.alg)
}

// signAlgorithm builds the parameters of sign and verify.
func signAlgorithm(alg, hash string, saltLength uint32) (subtle.SignAlgorithm, error) {
	switch strings.ToLower(alg) {
	case "ecdsa":
		return subtle.EcdsaParams{Hash: hash}, nil
	case "rsa-pss":
		return subtle.RsaPssParams{SaltLength: saltLength}, nil
	case "hmac":
		return subtle.HmacParams{Hash: hash}, nil
	}
	return nil, fmt.Errorf("unknown signature algorithm %q (supported: ecdsa, rsa-pss, hmac)", alg)
}
