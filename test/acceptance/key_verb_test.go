//go:build acceptance

package acceptance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Key Verb Tests (TestA_Key_*)
// =============================================================================

func TestA_Key_Lifecycle(t *testing.T) {
	cfg := softConfig(t)

	out := run(t, "--config", cfg, "key", "gen", "--alg", "aes-256", "--name", "backup")
	var key struct {
		ID    string  `json:"id"`
		Alias *string `json:"alias"`
	}
	if err := json.Unmarshal([]byte(out), &key); err != nil {
		t.Fatalf("key gen output is not a descriptor: %v\n%s", err, out)
	}
	if key.Alias == nil || *key.Alias != "backup" {
		t.Errorf("alias = %v, want backup", key.Alias)
	}

	assertOutputContains(t, run(t, "--config", cfg, "key", "exists", "--name", "backup"), "true")
	run(t, "--config", cfg, "key", "delete", "--name", "backup")
	assertOutputContains(t, run(t, "--config", cfg, "key", "exists", "--name", "backup"), "false")
}

func TestA_Key_EncryptDecrypt(t *testing.T) {
	cfg := softConfig(t)
	dir := t.TempDir()
	run(t, "--config", cfg, "key", "gen", "--alg", "aes-256", "--name", "k")

	in := filepath.Join(dir, "plain.txt")
	enc := filepath.Join(dir, "plain.enc")
	if err := os.WriteFile(in, []byte("acceptance payload"), 0600); err != nil {
		t.Fatal(err)
	}

	run(t, "--config", cfg, "encrypt", "--key", "k", "--in", in, "--out", enc)
	assertFileExists(t, enc)
	out := run(t, "--config", cfg, "decrypt", "--key", "k", "--in", enc)
	if out != "acceptance payload" {
		t.Errorf("decrypted %q", out)
	}
}

func TestA_Key_SignVerify(t *testing.T) {
	for _, alg := range []string{"p-256", "p-384", "secp256k1"} {
		t.Run(alg, func(t *testing.T) {
			cfg := softConfig(t)
			doc := writeTestFile(t, "doc.txt", "signed content")
			sig := filepath.Join(t.TempDir(), "doc.sig")

			run(t, "--config", cfg, "key", "gen", "--alg", alg, "--name", "signer")
			run(t, "--config", cfg, "sign", "--key", "signer", "--in", doc, "--out", sig)
			out := run(t, "--config", cfg, "verify", "--key", "signer", "--in", doc, "--sig", sig)
			assertOutputContains(t, out, "Signature: VALID")

			other := writeTestFile(t, "other.txt", "different content")
			out = runExpectError(t, "--config", cfg, "verify", "--key", "signer", "--in", other, "--sig", sig)
			assertOutputContains(t, out, "INVALID")
		})
	}
}

func TestA_Key_PublicKeyPEM(t *testing.T) {
	cfg := softConfig(t)
	run(t, "--config", cfg, "key", "gen", "--alg", "rsa-2048", "--name", "rsa")

	out := run(t, "--config", cfg, "key", "pub", "--key", "rsa")
	assertOutputContains(t, out, "-----BEGIN PUBLIC KEY-----")
}

func TestA_Key_UnknownAlgorithm(t *testing.T) {
	cfg := softConfig(t)

	out := runExpectError(t, "--config", cfg, "key", "gen", "--alg", "ml-dsa-65")
	assertOutputContains(t, out, "unknown algorithm")
}

func TestA_Audit_Chain(t *testing.T) {
	cfg := softConfig(t)
	log := filepath.Join(t.TempDir(), "audit.jsonl")

	run(t, "--config", cfg, "--audit-log", log, "key", "gen", "--alg", "hmac-sha256", "--name", "mac")
	run(t, "--config", cfg, "--audit-log", log, "key", "delete", "--name", "mac")

	out := run(t, "audit", "verify", "--log", log)
	assertOutputContains(t, out, "VERIFICATION PASSED")
	out = run(t, "audit", "tail", "--log", log)
	assertOutputContains(t, out, "KEY_DELETED")
}

// =============================================================================
// Remote Engine Tests (TestA_Remote_*)
// =============================================================================

func TestA_Remote_ServeAndUse(t *testing.T) {
	serverCfg := softConfig(t)
	port := freePort(t)
	startServer(t, "--config", serverCfg, "--host", "127.0.0.1", "--port", fmt.Sprint(port), "--h2c")

	clientCfg := writeConfig(t, fmt.Sprintf(`engine:
  type: remote
  remote:
    url: http://127.0.0.1:%d
    h2c: true
log:
  level: error
  format: console
`, port))

	run(t, "--config", clientCfg, "key", "gen", "--alg", "p-256", "--name", "remote-signer")
	doc := writeTestFile(t, "doc.txt", "remote content")
	sig := run(t, "--config", clientCfg, "sign", "--key", "remote-signer", "--in", doc)
	sigPath := writeTestFile(t, "doc.sig", sig)
	out := run(t, "--config", clientCfg, "verify", "--key", "remote-signer", "--in", doc, "--sig", sigPath)
	assertOutputContains(t, out, "Signature: VALID")

	// The key lives on the server.
	assertOutputContains(t, run(t, "--config", serverCfg, "key", "exists", "--name", "remote-signer"), "true")

	random := strings.TrimSpace(run(t, "--config", clientCfg, "random", "-n", "8"))
	if len(random) != 16 {
		t.Errorf("random = %q, want 16 hex digits", random)
	}
}
