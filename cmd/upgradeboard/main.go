package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "upgradeboard",
	Short: "upgradeboard - Splunk upgrade dashboard",
	Long: `upgradeboard tracks a Splunk upgrade driven by an external workflow: it dispatches the
workflow, reconciles its jobs into a five-phase checklist, aggregates logs and exports reports.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
