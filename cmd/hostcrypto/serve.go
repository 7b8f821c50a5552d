package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/internal/audit"
	"github.com/remiblancher/hostcrypto/internal/config"
	"github.com/remiblancher/hostcrypto/internal/hostrpc"
)

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveTLSCert string
	serveTLSKey  string
	serveH2C     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the engine to remote clients",
	Long: `Expose the configured engine over HTTP for the remote engine.

Endpoints:
  POST /v1/host/{operation}  Host operation (CBOR request and response)
  GET  /health               Health check
  GET  /ready                Readiness check (the engine answers)

The backend is the soft or pkcs11 engine of the configuration; a remote
engine cannot be served. Flags override the server section of the file.

Examples:
  # Serve the software engine on port 8443
  hostcrypto serve --port 8443

  # Serve an HSM with TLS
  hostcrypto serve --config ./hsm.yaml --tls-cert server.crt --tls-key server.key

  # HTTP/2 without TLS for a sidecar
  hostcrypto serve --host 127.0.0.1 --h2c`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default: server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: all interfaces)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
	serveCmd.Flags().BoolVar(&serveH2C, "h2c", false, "Serve HTTP/2 without TLS")
}

// serverConfig merges the serve flags over the server section.
func serverConfig(cmd *cobra.Command, sc config.ServerConfig) (*hostrpc.Config, error) {
	rc := sc.RPC()
	if cmd.Flags().Changed("port") {
		rc.Port = servePort
	}
	if serveHost != "" {
		rc.Host = serveHost
	}
	if serveTLSCert != "" {
		rc.TLSCert = serveTLSCert
	}
	if serveTLSKey != "" {
		rc.TLSKey = serveTLSKey
	}
	if serveH2C {
		rc.H2C = true
	}
	if (rc.TLSCert == "") != (rc.TLSKey == "") {
		return nil, fmt.Errorf("--tls-cert and --tls-key must be given together")
	}
	return rc, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Engine.Type == config.EngineRemote {
		return fmt.Errorf("cannot serve a remote engine: configure engine.type soft or pkcs11")
	}
	rc, err := serverConfig(cmd, cfg.Server)
	if err != nil {
		return err
	}

	h, err := host()
	if err != nil {
		return err
	}
	srv, err := hostrpc.NewServer(rc, version, cfg.Engine.Type, h)
	if err != nil {
		return err
	}

	if err := audit.LogEngineServe(cfg.Engine.Type, rc.Address()); err != nil {
		return err
	}

	serving.Store(true)
	defer serving.Store(false)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "hostcrypto host RPC server\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  Version:  %s\n", version)
	fmt.Fprintf(cmd.OutOrStdout(), "  Engine:   %s\n", cfg.Engine.Type)
	fmt.Fprintf(cmd.OutOrStdout(), "  Address:  %s\n", rc.Address())
	if rc.TLS() {
		fmt.Fprintln(cmd.OutOrStdout(), "  TLS:      enabled")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\nUse Ctrl+C to stop")

	return srv.Run(ctx)
}
