package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/remiblancher/hostcrypto/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for managing and verifying audit logs.

The audit log provides a tamper-evident record of key lifecycle events
(generate, import, unwrap, derive, export, wrap, save, load, delete) and
of engine serving. Each event is chained to the previous one by SHA-256.

Examples:
  # Verify audit log integrity
  hostcrypto audit verify --log /var/log/hostcrypto/audit.jsonl

  # Show last 10 events
  hostcrypto audit tail --log /var/log/hostcrypto/audit.jsonl -n 10`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [log]",
	Short: "Verify audit log integrity",
	Long: `Verify the cryptographic hash chain of an audit log file.

Each event in the log contains:
  - hash_prev: SHA-256 hash of the previous event
  - hash: SHA-256 hash of the current event

The chain starts with hash_prev="sha256:genesis" for the first event.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [log]",
	Short: "Show recent audit events",
	Long:  `Display the most recent audit events from the log file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var (
	auditLogFile  string
	auditTailNum  int
	auditShowJSON bool
)

func init() {
	auditVerifyCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file")
	auditTailCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file")
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Output as JSON")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

// auditLogPathArg resolves the log path from --log or the positional argument.
func auditLogPathArg(args []string) (string, error) {
	if auditLogFile != "" {
		return auditLogFile, nil
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return "", fmt.Errorf("an audit log path is required (--log)")
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditLogPathArg(args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", path)

	count, err := audit.VerifyChain(path)
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION FAILED\n")
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		fmt.Fprintf(out, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION PASSED\n")
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: VALID\n")
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditLogPathArg(args)
	if err != nil {
		return err
	}
	events, err := audit.Tail(path, auditTailNum)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if auditShowJSON {
		if events == nil {
			events = []audit.Event{}
		}
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "Audit log is empty")
		return nil
	}
	for i := range events {
		printEvent(out, &events[i])
	}
	return nil
}

func printEvent(w io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	fmt.Fprintf(w, "[%s] %s %s\n", e.Timestamp, resultIcon, e.EventType)
	fmt.Fprintf(w, "    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	if e.Object.Type != "" {
		fmt.Fprintf(w, "    Object: %s", e.Object.Type)
		if e.Object.Alias != "" {
			fmt.Fprintf(w, " alias=%s", e.Object.Alias)
		}
		if e.Object.ID != "" && e.Object.ID != e.Object.Alias {
			fmt.Fprintf(w, " id=%s", e.Object.ID)
		}
		if e.Object.Kind != "" {
			fmt.Fprintf(w, " kind=%s", e.Object.Kind)
		}
		fmt.Fprintln(w)
	}

	ctx := []struct{ name, value string }{
		{"algorithm", e.Context.Algorithm},
		{"format", e.Context.Format},
		{"wrapping", e.Context.Wrapping},
		{"base", e.Context.Base},
		{"engine", e.Context.Engine},
		{"address", e.Context.Address},
		{"reason", e.Context.Reason},
	}
	printed := false
	for _, kv := range ctx {
		if kv.value == "" {
			continue
		}
		if !printed {
			fmt.Fprint(w, "    Context:")
			printed = true
		}
		fmt.Fprintf(w, " %s=%s", kv.name, kv.value)
	}
	if printed {
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
}
