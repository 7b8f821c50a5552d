//go:build acceptance

package acceptance

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
)

// =============================================================================
// HSM Tests (TestA_HSM_*)
//
// These tests require SoftHSM2 to be installed and configured.
// Skip if SOFTHSM2_CONF is not set.
// =============================================================================

func skipIfNoHSM(t *testing.T) {
	t.Helper()
	if os.Getenv("SOFTHSM2_CONF") == "" {
		t.Skip("SOFTHSM2_CONF not set, skipping HSM tests")
	}
	if os.Getenv("HSM_PIN") == "" {
		t.Skip("HSM_PIN not set, skipping HSM tests")
	}
}

func getHSMConfigPath(t *testing.T) string {
	t.Helper()
	configPath := os.Getenv("HSM_CONFIG")
	if configPath == "" {
		t.Skip("HSM_CONFIG not set, skipping HSM tests")
	}
	return configPath
}

func softHSMLib() string {
	if lib := os.Getenv("SOFTHSM2_LIB"); lib != "" {
		return lib
	}
	return "/usr/lib/softhsm/libsofthsm2.so"
}

// pkcs11Config writes a configuration selecting the PKCS#11 engine on the
// SoftHSM token named by HSM_TOKEN (default "hostcrypto").
func pkcs11Config(t *testing.T) string {
	t.Helper()
	token := os.Getenv("HSM_TOKEN")
	if token == "" {
		token = "hostcrypto"
	}
	return writeConfig(t, fmt.Sprintf(`engine:
  type: pkcs11
  pkcs11:
    lib: %s
    token: %s
    pin_env: HSM_PIN
log:
  level: error
  format: console
`, softHSMLib(), token))
}

func TestA_HSM_List_Tokens(t *testing.T) {
	skipIfNoHSM(t)

	output := run(t, "hsm", "list", "--lib", softHSMLib())
	assertOutputContains(t, output, "PKCS#11 Module")
}

func TestA_HSM_Test_Connection(t *testing.T) {
	skipIfNoHSM(t)
	configPath := getHSMConfigPath(t)

	output := run(t, "hsm", "test", "--hsm-config", configPath)
	assertOutputContains(t, output, "All tests passed")
}

func TestA_HSM_Key_Gen_EC(t *testing.T) {
	skipIfNoHSM(t)
	cfg := pkcs11Config(t)

	label := "test-ec-key-" + randomSuffix()
	run(t, "--config", cfg, "key", "gen", "--alg", "p-384", "--name", label)
	assertOutputContains(t, run(t, "--config", cfg, "key", "exists", "--name", label), "true")

	doc := writeTestFile(t, "doc.txt", "hsm content")
	sig := run(t, "--config", cfg, "sign", "--key", label, "--in", doc, "--hash", "sha-384")
	sigPath := writeTestFile(t, "doc.sig", sig)
	out := run(t, "--config", cfg, "verify", "--key", label, "--in", doc, "--sig", sigPath, "--hash", "sha-384")
	assertOutputContains(t, out, "Signature: VALID")

	run(t, "--config", cfg, "key", "delete", "--name", label)
	assertOutputContains(t, run(t, "--config", cfg, "key", "exists", "--name", label), "false")
}

func TestA_HSM_Key_AES(t *testing.T) {
	skipIfNoHSM(t)
	cfg := pkcs11Config(t)

	label := "test-aes-key-" + randomSuffix()
	run(t, "--config", cfg, "key", "gen", "--alg", "aes-256", "--name", label)
	t.Cleanup(func() {
		_ = execCommandContext(context.Background(), hostcryptoBinary, "--config", cfg, "key", "delete", "--name", label).Run()
	})

	enc := runWithInput(t, []byte("secret"), "--config", cfg, "encrypt", "--key", label)
	encPath := writeTestFile(t, "data.enc", "")
	// encrypt prints hex; decrypt expects raw bytes
	raw, err := hex.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		t.Fatalf("encrypt output is not hex: %v", err)
	}
	if err := os.WriteFile(encPath, raw, 0600); err != nil {
		t.Fatal(err)
	}

	out := run(t, "--config", cfg, "decrypt", "--key", label, "--in", encPath)
	if out != "secret" {
		t.Errorf("decrypted %q, want secret", out)
	}
}

func TestA_HSM_Random(t *testing.T) {
	skipIfNoHSM(t)
	cfg := pkcs11Config(t)

	out := run(t, "--config", cfg, "random", "-n", "16")
	if len(out) < 32 {
		t.Errorf("random output too short: %q", out)
	}
}

func TestA_HSM_Serve(t *testing.T) {
	skipIfNoHSM(t)
	cfg := pkcs11Config(t)
	port := freePort(t)
	startServer(t, "--config", cfg, "--host", "127.0.0.1", "--port", fmt.Sprint(port), "--h2c")

	clientCfg := writeConfig(t, fmt.Sprintf(`engine:
  type: remote
  remote:
    url: http://127.0.0.1:%d
    h2c: true
log:
  level: error
  format: console
`, port))

	out := run(t, "--config", clientCfg, "random", "-n", "16")
	if len(out) < 32 {
		t.Errorf("random output too short: %q", out)
	}
}
