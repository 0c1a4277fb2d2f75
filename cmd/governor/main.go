// Package main provides the CLI entry point for the trace-analysis and
// governance pipeline.
//
// # Basic Usage
//
// Run an incremental trace analysis pass:
//
//	governor trace-analyze
//
// Force a full reprocessing of the event stream:
//
//	governor trace-analyze --full
//
// Inspect the last persisted checkpoint:
//
//	governor trace-status
//
// Check governance engine health (loaded policies, trust store):
//
//	governor governance status
//
// Probe the durable event bus connection:
//
//	governor eventstatus
//
// # Environment Variables
//
//   - GOVERNOR_CONFIG: path to the YAML configuration file
//   - GOVERNOR_WORKSPACE: root directory for persisted state (trust store,
//     audit log, policies, reports); defaults to the current directory
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
	workspace  string
)

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "governor",
		Short:         "Agent-trace analysis and governance pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultWorkspace := os.Getenv("GOVERNOR_WORKSPACE")
	if defaultWorkspace == "" {
		defaultWorkspace = "."
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GOVERNOR_CONFIG"), "path to the governor YAML config file")
	cmd.PersistentFlags().StringVar(&workspace, "workspace", defaultWorkspace, "workspace root for persisted governance state")

	cmd.AddCommand(
		buildTraceAnalyzeCmd(),
		buildTraceStatusCmd(),
		buildGovernanceCmd(),
		buildEventStatusCmd(),
		buildVersionCmd(),
	)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "governor %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
