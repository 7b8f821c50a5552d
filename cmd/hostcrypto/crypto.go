package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/pkg/keys"
)

// gcmIVSize is the IV drawn when encrypt runs without --iv. The IV is then
// prepended to the ciphertext.
const gcmIVSize = 12

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt data with a saved key",
	Long: `Encrypt data with a saved key.

Algorithms:
  aes-gcm   Without --iv a random 12-byte IV is drawn from the engine and
            written in front of the ciphertext.
  rsa-oaep  Optional --label (hex).

Examples:
  hostcrypto encrypt --key backup-key --in data.bin --out data.enc
  hostcrypto encrypt --key transport --alg rsa-oaep --in secret.txt --out secret.enc`,
	RunE: runEncrypt,
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt data with a saved key",
	Long: `Decrypt data with a saved key. For aes-gcm without --iv, the input starts
with the 12-byte IV written by encrypt.

Examples:
  hostcrypto decrypt --key backup-key --in data.enc --out data.bin`,
	RunE: runDecrypt,
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign data with a saved key",
	Long: `Sign data with a saved key.

Algorithms: ecdsa (--hash), rsa-pss (--salt-length), hmac (--hash).

Examples:
  hostcrypto sign --key signer --in doc.pdf --out doc.sig
  hostcrypto sign --key transport --alg rsa-pss --salt-length 32 --in doc.pdf --out doc.sig`,
	RunE: runSign,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a signature with a saved key",
	Long: `Verify a signature. Exits non-zero when the signature is invalid.

Examples:
  hostcrypto verify --key signer --in doc.pdf --sig doc.sig`,
	RunE: runVerify,
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Hash data on the engine",
	Long: `Hash data on the engine and print the digest in hex.

Hashes: sha1, sha-256, sha-384, sha-512, sha3-256, sha3-384, sha3-512.

Examples:
  hostcrypto digest --hash sha3-256 --in data.bin`,
	RunE: runDigest,
}

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Draw random bytes from the engine",
	Long: `Draw random bytes from the engine.

Examples:
  hostcrypto random -n 32
  hostcrypto random -n 64 --out seed.bin`,
	RunE: runRandom,
}

var (
	dataKey    string
	dataIn     string
	dataOut    string
	dataCipher string
	dataSigAlg string
	dataIV     string
	dataAAD    string
	dataTag    uint32
	dataLbl    string
	dataHash   string
	dataSalt   uint32
	dataSig    string
	randomN    int
)

func init() {
	for _, c := range []*cobra.Command{encryptCmd, decryptCmd, signCmd, verifyCmd} {
		c.Flags().StringVar(&dataKey, "key", "", "Alias of the key (required)")
		_ = c.MarkFlagRequired("key")
	}
	for _, c := range []*cobra.Command{encryptCmd, decryptCmd, signCmd, verifyCmd, digestCmd} {
		c.Flags().StringVar(&dataIn, "in", "", "Input file (default: stdin)")
	}
	for _, c := range []*cobra.Command{encryptCmd, decryptCmd, signCmd, digestCmd, randomCmd} {
		c.Flags().StringVar(&dataOut, "out", "", "Output file (default: hex on stdout)")
	}

	for _, c := range []*cobra.Command{encryptCmd, decryptCmd} {
		c.Flags().StringVar(&dataCipher, "alg", "aes-gcm", "Encryption algorithm: aes-gcm, rsa-oaep")
		c.Flags().StringVar(&dataIV, "iv", "", "AES-GCM IV (hex)")
		c.Flags().StringVar(&dataAAD, "aad", "", "AES-GCM additional data (hex)")
		c.Flags().Uint32Var(&dataTag, "tag-length", 128, "AES-GCM tag length in bits")
		c.Flags().StringVar(&dataLbl, "label", "", "RSA-OAEP label (hex)")
	}

	for _, c := range []*cobra.Command{signCmd, verifyCmd} {
		c.Flags().StringVar(&dataSigAlg, "alg", "ecdsa", "Signature algorithm: ecdsa, rsa-pss, hmac")
		c.Flags().StringVar(&dataHash, "hash", "sha-256", "Message hash (ecdsa, hmac)")
		c.Flags().Uint32Var(&dataSalt, "salt-length", 32, "PSS salt length in bytes")
	}
	verifyCmd.Flags().StringVar(&dataSig, "sig", "", "Signature file (required)")
	_ = verifyCmd.MarkFlagRequired("sig")

	digestCmd.Flags().StringVar(&dataHash, "hash", "sha-256", "Hash algorithm")
	randomCmd.Flags().IntVarP(&randomN, "num", "n", 32, "Number of bytes")
}

// cipherFlags collects the encrypt and decrypt flags.
func cipherFlags() (cipherOptions, error) {
	iv, err := decodeHex("iv", dataIV)
	if err != nil {
		return cipherOptions{}, err
	}
	aad, err := decodeHex("aad", dataAAD)
	if err != nil {
		return cipherOptions{}, err
	}
	label, err := decodeHex("label", dataLbl)
	if err != nil {
		return cipherOptions{}, err
	}
	return cipherOptions{alg: dataCipher, iv: iv, aad: aad, tagLength: dataTag, label: label}, nil
}

// drawsIV reports whether AES-GCM runs with an IV drawn by encrypt.
func (o cipherOptions) drawsIV() bool {
	return strings.EqualFold(o.alg, "aes-gcm") && len(o.iv) == 0
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	opts, err := cipherFlags()
	if err != nil {
		return err
	}
	data, err := readInput(cmd, dataIn)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, dataKey)
	if err != nil {
		return err
	}

	var prefix []byte
	if opts.drawsIV() {
		if opts.iv, err = c.RandomBytes(gcmIVSize); err != nil {
			return fmt.Errorf("failed to draw IV: %w", err)
		}
		prefix = opts.iv
	}
	alg, err := encryptAlgorithm(opts)
	if err != nil {
		return err
	}

	ct, err := c.Encrypt(alg, key, data)
	if err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}
	return writeOutput(cmd, dataOut, append(prefix, ct...))
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	opts, err := cipherFlags()
	if err != nil {
		return err
	}
	data, err := readInput(cmd, dataIn)
	if err != nil {
		return err
	}
	if opts.drawsIV() {
		if len(data) < gcmIVSize {
			return fmt.Errorf("input too short: expected a %d-byte IV prefix", gcmIVSize)
		}
		opts.iv, data = data[:gcmIVSize], data[gcmIVSize:]
	}
	alg, err := encryptAlgorithm(opts)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, dataKey)
	if err != nil {
		return err
	}

	pt, err := c.Decrypt(alg, key, data)
	if err != nil {
		return fmt.Errorf("failed to decrypt: %w", err)
	}
	if dataOut == "" {
		_, err = cmd.OutOrStdout().Write(pt)
		return err
	}
	return writeOutput(cmd, dataOut, pt)
}

func runSign(cmd *cobra.Command, args []string) error {
	alg, err := signAlgorithm(dataSigAlg, dataHash, dataSalt)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, dataIn)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, dataKey)
	if err != nil {
		return err
	}
	sig, err := c.Sign(alg, key, data)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	return writeOutput(cmd, dataOut, sig)
}

func runVerify(cmd *cobra.Command, args []string) error {
	alg, err := signAlgorithm(dataSigAlg, dataHash, dataSalt)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, dataIn)
	if err != nil {
		return err
	}
	sig, err := readSignature(cmd, dataSig)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, dataKey)
	if err != nil {
		return err
	}
	res, err := c.Verify(alg, key, data, sig)
	if err != nil {
		return fmt.Errorf("failed to verify: %w", err)
	}
	if !res.IsValid {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signature: INVALID")
		return fmt.Errorf("signature verification failed")
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "Signature: VALID")
	return err
}

// readSignature reads a signature file, accepting the hex text sign prints.
func readSignature(cmd *cobra.Command, path string) ([]byte, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	if decoded, err := hex.DecodeString(strings.TrimSpace(string(data))); err == nil && len(decoded) > 0 {
		return decoded, nil
	}
	return data, nil
}

func runDigest(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, dataIn)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	sum, err := keys.Digest(c, dataHash, data)
	if err != nil {
		return fmt.Errorf("failed to hash: %w", err)
	}
	return writeOutput(cmd, dataOut, sum)
}

func runRandom(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	data, err := c.RandomBytes(randomN)
	if err != nil {
		return fmt.Errorf("failed to draw random bytes: %w", err)
	}
	return writeOutput(cmd, dataOut, data)
}
