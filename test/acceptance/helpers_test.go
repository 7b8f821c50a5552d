//go:build acceptance

// Package acceptance contains black-box CLI acceptance tests (TestA_*).
// Run with: go test -tags=acceptance ./test/acceptance/...
package acceptance

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// hostcryptoBinary is the path to the hostcrypto binary.
// Set via HOSTCRYPTO_BINARY env var or default to bin/hostcrypto in the repo root.
var hostcryptoBinary string

func init() {
	if bin := os.Getenv("HOSTCRYPTO_BINARY"); bin != "" {
		hostcryptoBinary = bin
	} else {
		hostcryptoBinary = "../../bin/hostcrypto"
	}
}

// run executes hostcrypto with the given arguments and returns stdout.
// Fails the test if the command returns a non-zero exit code.
func run(t *testing.T, args ...string) string {
	t.Helper()
	return runWithInput(t, nil, args...)
}

// runWithInput is run with input on stdin.
func runWithInput(t *testing.T, input []byte, args ...string) string {
	t.Helper()
	cmd := exec.Command(hostcryptoBinary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	if err := cmd.Run(); err != nil {
		t.Fatalf("hostcrypto %s failed: %v\nstderr: %s\nstdout: %s",
			strings.Join(args, " "), err, stderr.String(), stdout.String())
	}
	return stdout.String()
}

// runExpectError executes hostcrypto and expects it to fail.
// Returns the combined output (stdout + stderr).
func runExpectError(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(hostcryptoBinary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err == nil {
		t.Fatalf("hostcrypto %s expected to fail but succeeded\nstdout: %s",
			strings.Join(args, " "), stdout.String())
	}
	return stdout.String() + stderr.String()
}

// writeConfig writes a configuration file into a temp directory and returns
// its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	return writeTestFile(t, "hostcrypto.yaml", content)
}

// softConfig returns a configuration selecting the software engine with a
// file store.
func softConfig(t *testing.T) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf(`engine:
  type: soft
  soft:
    store_dir: %s
log:
  level: error
  format: console
`, filepath.Join(t.TempDir(), "keys")))
}

// assertFileExists fails the test if path does not exist.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("file %s does not exist", path)
	}
}

// assertOutputContains fails the test if output does not contain expected.
func assertOutputContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("output does not contain %q:\n%s", expected, output)
	}
}

// writeTestFile writes content to a file in a temp directory.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}

// startServer runs "hostcrypto serve" in the background until the test ends
// and waits for the port to accept connections.
func startServer(t *testing.T, args ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cmd := execCommandContext(ctx, hostcryptoBinary, append([]string{"serve"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
	})

	addr := ""
	for i, a := range args {
		if a == "--port" && i+1 < len(args) {
			addr = "127.0.0.1:" + args[i+1]
		}
	}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start on %s\nstderr: %s", addr, stderr.String())
}

// execCommandContext wraps exec.CommandContext.
func execCommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// randomSuffix returns a short suffix that keeps token labels unique.
func randomSuffix() string {
	return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
}
