// Package cmd wires the process entry points: serve (webhook ingress),
// worker (debounce + follow-up loop), migrate, and tenant onboarding.
// Grounded on the teacher's cmd/root.go cobra tree shape, trimmed to
// the four process roles this system actually has — no agent_chat,
// pairing, or skills subcommands since there is no agent-facing UI
// (spec.md Non-goals).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentico",
	Short: "Multi-tenant WhatsApp conversational sales/support platform",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $AGENTICO_CONFIG)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("AGENTICO_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
