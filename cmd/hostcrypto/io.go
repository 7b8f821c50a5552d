package main

import (
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// auditFailure collects audit writes that failed after the engine had carried
// out the operation. The command still prints its result; the failure is
// returned when the command completes.
var auditFailure error

// kept clears err when it only reports an audit failure, so the caller uses
// the result it came with.
func kept(err error) error {
	if subtle.IsAuditError(err) {
		log.Error().Err(err).Msg("audit event not recorded")
		auditFailure = errors.Join(auditFailure, err)
		return nil
	}
	return err
}

// readInput reads a file, or stdin when path is "" or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readKeyData reads key material, unwrapping a PEM block when present.
func readKeyData(cmd *cobra.Command, path string) ([]byte, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	return data, nil
}

// writeOutput writes data to a file (0600), or hex to stdout when path is
// "".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// decodeHex parses an optional hex flag value.
func decodeHex(flag, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return data, nil
}

// printKey prints a key descriptor as indented JSON.
func printKey(cmd *cobra.Command, key subtle.CryptoKey) error {
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// loadKey resolves a saved alias.
func loadKey(c *subtle.Client, alias string) (subtle.CryptoKey, error) {
	if alias == "" {
		return subtle.CryptoKey{}, fmt.Errorf("a key alias is required")
	}
	key, err := c.LoadKey(alias)
	if err := kept(err); err != nil {
		return subtle.CryptoKey{}, fmt.Errorf("failed to load key %s: %w", alias, err)
	}
	return key, nil
}

// writeText writes text to a file (0600), or to stdout when path is "".
func writeText(cmd *cobra.Command, path, text string) error {
	if path == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
