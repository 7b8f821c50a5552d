// Command hostcrypto drives a host crypto engine from the command line.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/internal/audit"
	"github.com/remiblancher/hostcrypto/internal/config"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath   string
	auditLogPath string
	logLevel     string
)

// cfg is the resolved configuration of the running command.
var cfg *config.Config

func main() {
	// Setup signal handler for clean PKCS#11 shutdown
	setupSignalHandler()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		closeEngine() // Cleanup PKCS#11 before exit
		os.Exit(1)
	}

	closeEngine()
}

// setupSignalHandler closes the engine on SIGINT/SIGTERM so HSM sessions
// are logged out before the process exits. The serve command installs its
// own handler for graceful shutdown.
func setupSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		if serving.Load() {
			return
		}
		closeEngine()
		os.Exit(0)
	}()
}

var rootCmd = &cobra.Command{
	Use:   "hostcrypto",
	Short: "hostcrypto - WebCrypto-style key operations on a host crypto engine",
	Long: `hostcrypto performs key management and cryptographic operations on a host
crypto engine: the in-process software engine, a PKCS#11 token, or a remote
engine reached over HTTP.

Keys are addressed by the alias they were saved under.

Supported key algorithms:
  AES:   aes-128, aes-192, aes-256
  RSA:   rsa-2048, rsa-3072, rsa-4096
  EC:    p-256, p-384, p-521, secp256k1
  HMAC:  hmac-sha256, hmac-sha384, hmac-sha512

Examples:
  # Generate and save an AES key
  hostcrypto key gen --alg aes-256 --name backup-key

  # Encrypt a file with it
  hostcrypto encrypt --key backup-key --in data.bin --out data.enc

  # Expose the engine to remote clients
  hostcrypto serve --config ./hostcrypto.yaml`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Resolve(configPath)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err := setupLogging(cfg.Log, cmd.ErrOrStderr()); err != nil {
			return err
		}

		if auditLogPath != "" {
			cfg.Audit.Log = auditLogPath
		}
		if cfg.Audit.Log != "" {
			if err := audit.InitFile(cfg.Audit.Log); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}

		log.Debug().Str("engine", cfg.Engine.Type).Str("audit_log", cfg.Audit.Log).Msg("configuration resolved")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		failed := auditFailure
		auditFailure = nil
		// Close audit log
		return errors.Join(failed, audit.Close())
	},
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to configuration file (or set "+config.EnvConfig+" env var)")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set "+config.EnvAuditLog+" env var)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: trace, debug, info, warn, error, disabled")

	rootCmd.AddCommand(keyCmd) // hostcrypto key ...

	// Data operations
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(randomCmd)

	// Host RPC server
	rootCmd.AddCommand(serveCmd)

	// HSM management (PKCS#11)
	rootCmd.AddCommand(hsmCmd)

	rootCmd.AddCommand(auditCmd)
}
