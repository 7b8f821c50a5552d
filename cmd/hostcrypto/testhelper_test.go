package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/internal/audit"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// executeCommand executes a Cobra command with the given args and returns
// what it printed on stdout. The engine and the audit log are released
// afterwards, as main does.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)

	err = root.Execute()
	closeEngine()
	_ = audit.Close()
	return out.String(), err
}

// executeWithInput runs a command with stdin set to input.
func executeWithInput(root *cobra.Command, input []byte, args ...string) (string, error) {
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(bytes.NewReader(input))
	root.SetArgs(args)

	err := root.Execute()
	closeEngine()
	_ = audit.Close()
	return out.String(), err
}

// resetFlags restores every flag variable to its default. Cobra keeps
// values between Execute calls on the same command tree.
func resetFlags() {
	configPath, auditLogPath, logLevel = "", "", ""

	keyGenAlg, keyImportAlg, keyUnwrapAlg = "p-256", "", ""
	keyName, keyAlias, keyID = "", "", ""
	keyExtractable = false
	keyUsages = nil
	keyFormat, keyIn, keyOut = "raw", "", ""
	keyPEM = false
	keyWrappingKey, keyWrapAlg = "", "aes-kw"
	keyWrapIV, keyWrapAAD, keyWrapLabel = "", "", ""
	keyWrapTag = 128
	keyPeer, keyMethod = "", "ecdh"
	keyHKDFSalt, keyHKDFInfo, keyHKDFHash = "", "", "sha-256"
	keyDerivedAlg = "aes-256"

	dataKey, dataIn, dataOut = "", "", ""
	dataCipher, dataSigAlg = "aes-gcm", "ecdsa"
	dataIV, dataAAD, dataLbl = "", "", ""
	dataTag = 128
	dataHash = "sha-256"
	dataSalt = 32
	dataSig = ""
	randomN = 32

	servePort, serveHost, serveTLSCert, serveTLSKey, serveH2C = 0, "", "", "", false
	hsmLib, hsmConfigPath = "", ""
	auditLogFile, auditTailNum, auditShowJSON = "", 10, false
	auditFailure = nil
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
	config  string
}

// newTestContext creates a temp directory and a configuration selecting
// the software engine with a file store inside it.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	resetFlags()
	t.Setenv("HOSTCRYPTO_CONFIG", "")
	t.Setenv("HOSTCRYPTO_AUDIT_LOG", "")

	dir := t.TempDir()
	tc := &testContext{t: t, tempDir: dir}
	tc.config = tc.writeFile("hostcrypto.yaml", `engine:
  type: soft
  soft:
    store_dir: `+filepath.Join(dir, "keys")+`
log:
  level: error
  format: console
`)
	return tc
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// run executes the root command against the test configuration.
func (tc *testContext) run(args ...string) (string, error) {
	tc.t.Helper()
	resetFlags()
	return executeCommand(rootCmd, append([]string{"--config", tc.config}, args...)...)
}

// runWithInput is run with data on stdin.
func (tc *testContext) runWithInput(input []byte, args ...string) (string, error) {
	tc.t.Helper()
	resetFlags()
	return executeWithInput(rootCmd, input, append([]string{"--config", tc.config}, args...)...)
}

// genKey generates a key saved under name.
func (tc *testContext) genKey(alg, name string, extra ...string) subtle.CryptoKey {
	tc.t.Helper()
	out, err := tc.run(append([]string{"key", "gen", "--alg", alg, "--name", name}, extra...)...)
	assertNoError(tc.t, err)
	return parseKey(tc.t, out)
}

// parseKey decodes a key descriptor printed by the key commands.
func parseKey(t *testing.T, out string) subtle.CryptoKey {
	t.Helper()
	var key subtle.CryptoKey
	if err := json.Unmarshal([]byte(out), &key); err != nil {
		t.Fatalf("failed to parse key descriptor %q: %v", out, err)
	}
	return key
}

// assertNoError fails the test if err is not nil.
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertError fails the test if err is nil.
func assertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// assertFileNotEmpty verifies that a file exists and is not empty.
func assertFileNotEmpty(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	if len(data) == 0 {
		t.Errorf("file %s is empty", path)
	}
}
