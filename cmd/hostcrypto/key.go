package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/keys"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Key management commands",
	Long: `Commands for generating, importing, exporting and persisting keys.

Keys created by gen, import, unwrap and derive are saved under --name so
later commands can address them. Without --name the key only lives as long
as the engine (the remote engine keeps it on the server).`,
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a key",
	Long: `Generate a new key on the engine.

Supported algorithms:
  aes-128, aes-192, aes-256             (default usages: encrypt, decrypt, wrap_key, unwrap_key)
  rsa-2048, rsa-3072, rsa-4096          (default usages: sign, decrypt, unwrap_key)
  p-256, p-384, p-521, secp256k1        (default usages: sign, derive_key)
  hmac-sha256, hmac-sha384, hmac-sha512 (default usages: sign, verify)

Examples:
  hostcrypto key gen --alg aes-256 --name backup-key
  hostcrypto key gen --alg p-384 --name signer --usage sign --usage verify
  hostcrypto key gen --alg rsa-3072 --name transport --extractable`,
	RunE: runKeyGen,
}

var keyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import key material",
	Long: `Import key material into the engine. PEM input is unwrapped first.

Formats: raw, spki, pkcs8, pkcs1, sec1, jwk.

Examples:
  hostcrypto key import --alg aes-128 --format raw --in key.bin --name imported
  hostcrypto key import --alg p-256 --format spki --in pub.pem --name peer --usage verify`,
	RunE: runKeyImport,
}

var keyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an extractable key",
	Long: `Export key material. Secret and private material requires an extractable key.

Examples:
  hostcrypto key export --key backup-key --format raw --out key.bin
  hostcrypto key export --key signer --format pkcs8 --pem --out signer.pem`,
	RunE: runKeyExport,
}

var keyPubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Extract the public key of a private key",
	Long: `Write the public half of a private key as a PEM "PUBLIC KEY" block.

Examples:
  hostcrypto key pub --key signer --out signer.pub`,
	RunE: runKeyPub,
}

var keyWrapCmd = &cobra.Command{
	Use:   "wrap",
	Short: "Wrap a key under another key",
	Long: `Export a key encrypted under a wrapping key.

Wrapping algorithms: aes-kw (RFC 5649 padding), aes-gcm (--iv required), rsa-oaep.

Examples:
  hostcrypto key wrap --key signer --wrapping-key backup-key --format pkcs8 --out signer.wrapped`,
	RunE: runKeyWrap,
}

var keyUnwrapCmd = &cobra.Command{
	Use:   "unwrap",
	Short: "Unwrap a wrapped key",
	Long: `Import a key that was wrapped under an engine key.

Examples:
  hostcrypto key unwrap --in signer.wrapped --unwrapping-key backup-key --format pkcs8 \
      --key-alg p-256 --name signer-copy`,
	RunE: runKeyUnwrap,
}

var keyDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive a secret key",
	Long: `Derive an AES or HMAC key.

Methods:
  ecdh  Agree with --peer (a saved EC key; its public half is used)
  hkdf  Expand the base key with --salt, --info and --hash

Examples:
  hostcrypto key derive --key alice --peer bob --alg aes-256 --name shared
  hostcrypto key derive --method hkdf --key master --hash sha-256 --info 6170 --alg hmac-sha256 --name mac`,
	RunE: runKeyDerive,
}

var keySaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a key id under an alias",
	Long: `Persist a key known to the engine by id under an alias.

Examples:
  hostcrypto key save --id 6f1c2d3e-... --name backup-key`,
	RunE: runKeySave,
}

var keyLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Show the key saved under an alias",
	RunE:  runKeyLoad,
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Destroy the key saved under an alias",
	RunE:  runKeyDelete,
}

var keyExistsCmd = &cobra.Command{
	Use:   "exists",
	Short: "Check whether an id or alias is known",
	RunE:  runKeyExists,
}

var (
	keyGenAlg      string
	keyImportAlg   string
	keyUnwrapAlg   string
	keyName        string
	keyAlias       string
	keyID          string
	keyExtractable bool
	keyUsages      []string
	keyFormat      string
	keyIn          string
	keyOut         string
	keyPEM         bool

	keyWrappingKey string
	keyWrapAlg     string
	keyWrapIV      string
	keyWrapAAD     string
	keyWrapLabel   string
	keyWrapTag     uint32

	keyPeer       string
	keyMethod     string
	keyHKDFSalt   string
	keyHKDFInfo   string
	keyHKDFHash   string
	keyDerivedAlg string
)

func init() {
	keyCmd.AddCommand(keyGenCmd, keyImportCmd, keyExportCmd, keyPubCmd, keyWrapCmd, keyUnwrapCmd,
		keyDeriveCmd, keySaveCmd, keyLoadCmd, keyDeleteCmd, keyExistsCmd)

	// Creation flags
	for _, c := range []*cobra.Command{keyGenCmd, keyImportCmd, keyUnwrapCmd, keyDeriveCmd} {
		c.Flags().StringVar(&keyName, "name", "", "Alias to save the new key under")
		c.Flags().BoolVar(&keyExtractable, "extractable", false, "Allow export and wrapping of the new key")
		c.Flags().StringSliceVar(&keyUsages, "usage", nil, "Key usage (repeatable; default depends on the algorithm)")
	}
	keyGenCmd.Flags().StringVar(&keyGenAlg, "alg", "p-256", "Key algorithm")
	keyImportCmd.Flags().StringVar(&keyImportAlg, "alg", "", "Key algorithm (required)")
	_ = keyImportCmd.MarkFlagRequired("alg")
	keyUnwrapCmd.Flags().StringVar(&keyUnwrapAlg, "key-alg", "", "Algorithm of the wrapped key (required)")
	_ = keyUnwrapCmd.MarkFlagRequired("key-alg")
	keyDeriveCmd.Flags().StringVar(&keyDerivedAlg, "alg", "aes-256", "Derived key algorithm (aes-* or hmac-*)")

	// Key selection
	for _, c := range []*cobra.Command{keyExportCmd, keyPubCmd, keyWrapCmd, keyDeriveCmd} {
		c.Flags().StringVar(&keyAlias, "key", "", "Alias of the key (required)")
		_ = c.MarkFlagRequired("key")
	}
	for _, c := range []*cobra.Command{keyLoadCmd, keyDeleteCmd, keyExistsCmd} {
		c.Flags().StringVar(&keyAlias, "name", "", "Alias of the key (required)")
		_ = c.MarkFlagRequired("name")
	}
	keySaveCmd.Flags().StringVar(&keyID, "id", "", "Engine id of the key (required)")
	keySaveCmd.Flags().StringVar(&keyAlias, "name", "", "Alias to save under (required)")
	_ = keySaveCmd.MarkFlagRequired("id")
	_ = keySaveCmd.MarkFlagRequired("name")

	// Formats and files
	keyImportCmd.Flags().StringVar(&keyFormat, "format", "raw", "Input format")
	keyImportCmd.Flags().StringVar(&keyIn, "in", "", "Input file (default: stdin)")
	keyExportCmd.Flags().StringVar(&keyFormat, "format", "raw", "Output format")
	keyExportCmd.Flags().StringVar(&keyOut, "out", "", "Output file (default: hex on stdout)")
	keyExportCmd.Flags().BoolVar(&keyPEM, "pem", false, "PEM-encode spki and pkcs8 output")
	keyPubCmd.Flags().StringVar(&keyOut, "out", "", "Output file (default: stdout)")
	keyWrapCmd.Flags().StringVar(&keyFormat, "format", "raw", "Format of the key before wrapping")
	keyWrapCmd.Flags().StringVar(&keyOut, "out", "", "Output file (default: hex on stdout)")
	keyUnwrapCmd.Flags().StringVar(&keyFormat, "format", "raw", "Format of the key after unwrapping")
	keyUnwrapCmd.Flags().StringVar(&keyIn, "in", "", "Wrapped key file (default: stdin)")

	// Wrapping
	keyWrapCmd.Flags().StringVar(&keyWrappingKey, "wrapping-key", "", "Alias of the wrapping key (required)")
	_ = keyWrapCmd.MarkFlagRequired("wrapping-key")
	keyUnwrapCmd.Flags().StringVar(&keyWrappingKey, "unwrapping-key", "", "Alias of the unwrapping key (required)")
	_ = keyUnwrapCmd.MarkFlagRequired("unwrapping-key")
	for _, c := range []*cobra.Command{keyWrapCmd, keyUnwrapCmd} {
		c.Flags().StringVar(&keyWrapAlg, "wrap-alg", "aes-kw", "Wrapping algorithm: aes-kw, aes-gcm, rsa-oaep")
		c.Flags().StringVar(&keyWrapIV, "iv", "", "AES-GCM IV (hex)")
		c.Flags().StringVar(&keyWrapAAD, "aad", "", "AES-GCM additional data (hex)")
		c.Flags().Uint32Var(&keyWrapTag, "tag-length", 128, "AES-GCM tag length in bits")
		c.Flags().StringVar(&keyWrapLabel, "label", "", "RSA-OAEP label (hex)")
	}

	// Derivation
	keyDeriveCmd.Flags().StringVar(&keyMethod, "method", "ecdh", "Derivation method: ecdh, hkdf")
	keyDeriveCmd.Flags().StringVar(&keyPeer, "peer", "", "Alias of the peer key (ecdh)")
	keyDeriveCmd.Flags().StringVar(&keyHKDFSalt, "salt", "", "HKDF salt (hex)")
	keyDeriveCmd.Flags().StringVar(&keyHKDFInfo, "info", "", "HKDF info (hex)")
	keyDeriveCmd.Flags().StringVar(&keyHKDFHash, "hash", "sha-256", "HKDF hash")
}

// creationUsages returns --usage, or the algorithm defaults.
func creationUsages(defaults []string) []string {
	if len(keyUsages) > 0 {
		return keyUsages
	}
	return defaults
}

// finishCreated saves a new key under --name when given and prints it.
func finishCreated(cmd *cobra.Command, c *subtle.Client, key subtle.CryptoKey) error {
	if keyName != "" {
		saved, err := c.SaveKey(key, keyName)
		if err := kept(err); err != nil {
			return fmt.Errorf("key %s created but not saved: %w", key.ID, err)
		}
		key = saved
	}
	return printKey(cmd, key)
}

func runKeyGen(cmd *cobra.Command, args []string) error {
	alg, err := lookupKeyAlgorithm(keyGenAlg)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	key, err := c.GenerateKey(alg.params, keyExtractable, creationUsages(alg.usages))
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	return finishCreated(cmd, c, key)
}

func runKeyImport(cmd *cobra.Command, args []string) error {
	alg, err := lookupKeyAlgorithm(keyImportAlg)
	if err != nil {
		return err
	}
	data, err := readKeyData(cmd, keyIn)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	key, err := c.ImportKey(keyFormat, data, alg.params, keyExtractable, creationUsages(alg.usages))
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}
	return finishCreated(cmd, c, key)
}

func runKeyExport(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, keyAlias)
	if err != nil {
		return err
	}

	if keyPEM {
		var text string
		switch strings.ToLower(keyFormat) {
		case "pkcs8":
			priv, err := keys.ExportPrivateKey(c, key)
			if err := kept(err); err != nil {
				return fmt.Errorf("failed to export key: %w", err)
			}
			text = priv.PEM()
		case "spki":
			der, err := c.ExportKey("spki", key)
			if err := kept(err); err != nil {
				return fmt.Errorf("failed to export key: %w", err)
			}
			text = keys.PublicKey{DER: der}.PEM()
		default:
			return fmt.Errorf("--pem applies to spki and pkcs8 only")
		}
		return writeText(cmd, keyOut, text)
	}

	data, err := c.ExportKey(keyFormat, key)
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to export key: %w", err)
	}
	return writeOutput(cmd, keyOut, data)
}

func runKeyPub(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, keyAlias)
	if err != nil {
		return err
	}
	pub, err := c.GetPublicKey(key)
	if err != nil {
		return fmt.Errorf("failed to get public key: %w", err)
	}
	der, err := c.ExportKey("spki", pub)
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to export public key: %w", err)
	}
	return writeText(cmd, keyOut, keys.PublicKey{DER: der}.PEM())
}

// wrapOptions collects the wrapping flags.
func wrapOptions() (cipherOptions, error) {
	iv, err := decodeHex("iv", keyWrapIV)
	if err != nil {
		return cipherOptions{}, err
	}
	aad, err := decodeHex("aad", keyWrapAAD)
	if err != nil {
		return cipherOptions{}, err
	}
	label, err := decodeHex("label", keyWrapLabel)
	if err != nil {
		return cipherOptions{}, err
	}
	return cipherOptions{alg: keyWrapAlg, iv: iv, aad: aad, tagLength: keyWrapTag, label: label}, nil
}

func runKeyWrap(cmd *cobra.Command, args []string) error {
	opts, err := wrapOptions()
	if err != nil {
		return err
	}
	wrapAlg, err := wrapAlgorithm(opts)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, keyAlias)
	if err != nil {
		return err
	}
	wrappingKey, err := loadKey(c, keyWrappingKey)
	if err != nil {
		return err
	}
	wrapped, err := c.WrapKey(keyFormat, key, wrappingKey, wrapAlg)
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to wrap key: %w", err)
	}
	return writeOutput(cmd, keyOut, wrapped)
}

func runKeyUnwrap(cmd *cobra.Command, args []string) error {
	opts, err := wrapOptions()
	if err != nil {
		return err
	}
	wrapAlg, err := wrapAlgorithm(opts)
	if err != nil {
		return err
	}
	alg, err := lookupKeyAlgorithm(keyUnwrapAlg)
	if err != nil {
		return err
	}
	wrapped, err := readInput(cmd, keyIn)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	unwrappingKey, err := loadKey(c, keyWrappingKey)
	if err != nil {
		return err
	}
	key, err := c.UnwrapKey(keyFormat, wrapped, unwrappingKey, wrapAlg, alg.params, keyExtractable, creationUsages(alg.usages))
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to unwrap key: %w", err)
	}
	return finishCreated(cmd, c, key)
}

func runKeyDerive(cmd *cobra.Command, args []string) error {
	derivedAlg, defaults, err := derivedAlgorithm(keyDerivedAlg)
	if err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	base, err := loadKey(c, keyAlias)
	if err != nil {
		return err
	}

	var alg subtle.KeyDerivationAlgorithm
	switch strings.ToLower(keyMethod) {
	case "ecdh":
		peer, err := loadKey(c, keyPeer)
		if err != nil {
			return fmt.Errorf("--peer: %w", err)
		}
		if peer.Type != engine.TypePublic {
			if peer, err = c.GetPublicKey(peer); err != nil {
				return fmt.Errorf("failed to get peer public key: %w", err)
			}
		}
		alg = subtle.EcdhKeyDeriveParams{Public: peer}
	case "hkdf":
		salt, err := decodeHex("salt", keyHKDFSalt)
		if err != nil {
			return err
		}
		info, err := decodeHex("info", keyHKDFInfo)
		if err != nil {
			return err
		}
		alg = subtle.HkdfParams{Salt: salt, Info: info, Hash: keyHKDFHash}
	default:
		return fmt.Errorf("unknown derivation method %q (supported: ecdh, hkdf)", keyMethod)
	}

	key, err := c.DeriveKey(alg, base, derivedAlg, keyExtractable, creationUsages(defaults))
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	return finishCreated(cmd, c, key)
}

func runKeySave(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	saved, err := c.SaveKey(subtle.CryptoKey{ID: keyID}, keyAlias)
	if err := kept(err); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}
	// The descriptor of the saved key comes from the host.
	key, err := c.LoadKey(saved.AliasName())
	if err := kept(err); err != nil {
		return err
	}
	return printKey(cmd, key)
}

func runKeyLoad(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, keyAlias)
	if err != nil {
		return err
	}
	return printKey(cmd, key)
}

func runKeyDelete(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	key, err := loadKey(c, keyAlias)
	if err != nil {
		return err
	}
	if err := kept(c.DeleteKey(key)); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", keyAlias)
	return err
}

func runKeyExists(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	exists, err := c.KeyExists(keyAlias)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), exists)
	return err
}
