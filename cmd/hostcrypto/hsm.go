package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/internal/engine/pkcs11"
)

var hsmCmd = &cobra.Command{
	Use:   "hsm",
	Short: "HSM diagnostic commands",
	Long: `Diagnostic commands for Hardware Security Modules (HSMs) via PKCS#11.

These commands help discover and validate HSM configuration.
To use the HSM as the engine, set engine.type: pkcs11 in the configuration.

Examples:
  # List available slots and tokens (discovery, no config needed)
  hostcrypto hsm list --lib /usr/lib/softhsm/libsofthsm2.so

  # Test HSM connectivity and authentication
  hostcrypto hsm test --hsm-config ./hsm.yaml`,
}

var hsmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List HSM slots and tokens",
	Long: `List all available slots and tokens in a PKCS#11 module.

This command does not require authentication and shows:
  - Slot ID and description
  - Token label and serial (if present)
  - Token manufacturer

Examples:
  hostcrypto hsm list --lib /usr/lib/softhsm/libsofthsm2.so`,
	RunE: runHSMList,
}

var hsmTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test HSM connectivity",
	Long: `Test HSM connectivity and authentication.

Verifies that:
  - The PKCS#11 module can be loaded
  - The token can be found
  - Authentication (login) succeeds
  - The token produces random bytes

The configuration file holds the pkcs11 section alone (lib, token or
token_serial or slot, pin_env).

Examples:
  export HOSTCRYPTO_PIN="****"
  hostcrypto hsm test --hsm-config ./hsm.yaml`,
	RunE: runHSMTest,
}

var (
	hsmLib        string
	hsmConfigPath string
)

func init() {
	hsmCmd.AddCommand(hsmListCmd)
	hsmCmd.AddCommand(hsmTestCmd)

	// list command uses --lib directly (discovery without config)
	hsmListCmd.Flags().StringVar(&hsmLib, "lib", "", "Path to PKCS#11 library (required)")
	_ = hsmListCmd.MarkFlagRequired("lib")

	// test command uses --hsm-config
	hsmTestCmd.Flags().StringVar(&hsmConfigPath, "hsm-config", "", "Path to HSM configuration file (required)")
	_ = hsmTestCmd.MarkFlagRequired("hsm-config")
}

func runHSMList(cmd *cobra.Command, args []string) error {
	info, err := pkcs11.ListSlots(hsmLib)
	if err != nil {
		return fmt.Errorf("failed to list HSM slots: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PKCS#11 Module: %s\n\n", info.ModulePath)

	if len(info.Slots) == 0 {
		fmt.Fprintln(out, "No slots found.")
		return nil
	}

	for _, slot := range info.Slots {
		fmt.Fprintf(out, "Slot %d:\n", slot.ID)
		fmt.Fprintf(out, "  Description:  %s\n", strings.TrimSpace(slot.Description))

		if slot.HasToken {
			fmt.Fprintf(out, "  Token Label:  %s\n", strings.TrimSpace(slot.TokenLabel))
			fmt.Fprintf(out, "  Token Serial: %s\n", maskSerial(slot.TokenSerial))
			if slot.Manufacturer != "" {
				fmt.Fprintf(out, "  Manufacturer: %s\n", strings.TrimSpace(slot.Manufacturer))
			}
		} else {
			fmt.Fprintf(out, "  Token:        (not present)\n")
		}
		fmt.Fprintln(out)
	}

	return nil
}

func runHSMTest(cmd *cobra.Command, args []string) error {
	hc, err := pkcs11.LoadConfig(hsmConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load HSM config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Testing HSM configuration: %s\n\n", hsmConfigPath)

	// Test 1: Load module
	fmt.Fprintf(out, "[1/4] Loading PKCS#11 module... ")
	if _, err := pkcs11.ListSlots(hc.Lib); err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("failed to load module: %w", err)
	}
	fmt.Fprintln(out, "OK")

	// Test 2: Read PIN
	fmt.Fprintf(out, "[2/4] Reading PIN from $%s... ", hc.PinEnv)
	if _, err := hc.PIN(); err != nil {
		fmt.Fprintln(out, "FAILED")
		return err
	}
	fmt.Fprintln(out, "OK")

	// Test 3: Find token and log in
	fmt.Fprintf(out, "[3/4] Opening token and authenticating... ")
	eng, err := pkcs11.New(*hc)
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("authentication failed: %w", err)
	}
	defer func() { _ = eng.Close() }()
	fmt.Fprintln(out, "OK")

	// Test 4: Random bytes
	fmt.Fprintf(out, "[4/4] Drawing random bytes... ")
	if _, err := eng.GetRandomBytes(16); err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("token did not produce random bytes: %w", err)
	}
	fmt.Fprintln(out, "OK")

	fmt.Fprintln(out, "\nAll tests passed!")
	return nil
}

// maskSerial partially masks a serial number for security.
func maskSerial(serial string) string {
	serial = strings.TrimSpace(serial)
	if len(serial) <= 4 {
		return serial
	}
	return serial[:3] + strings.Repeat("*", len(serial)-4) + serial[len(serial)-1:]
}
