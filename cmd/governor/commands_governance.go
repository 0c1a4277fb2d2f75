package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nexustrace/governor/internal/domain"
)

func buildGovernanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "governance",
		Short: "Inspect the governance engine (policies, trust, audit)",
	}
	cmd.AddCommand(buildGovernanceStatusCmd())
	cmd.AddCommand(buildGovernanceEvaluateCmd())
	return cmd
}

// buildGovernanceEvaluateCmd wires a hook's EvaluationContext, read as JSON
// from stdin, through the Governance Engine's single real-time operation.
// This is the production call path hooks (before_tool_call,
// message_sending) invoke the governance binary from.
func buildGovernanceEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a hook's EvaluationContext (read as JSON from stdin) and print the resulting verdict",
		Long: `Reads a single domain.EvaluationContext JSON object from stdin, runs it
through cross-agent trust enrichment, policy evaluation (bounded by
performance.maxEvalUs), outbound claim validation, and Layer 1/2
redaction, and prints the resulting domain.Verdict as JSON to stdout.

Intended to be invoked by a before_tool_call or message_sending hook.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGovernanceEvaluate(cmd)
		},
	}
}

func runGovernanceEvaluate(cmd *cobra.Command) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx, configPath, workspace)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("governance evaluate: read stdin: %w", err)
	}

	var ectx domain.EvaluationContext
	if err := json.Unmarshal(raw, &ectx); err != nil {
		return fmt.Errorf("governance evaluate: parse evaluation context: %w", err)
	}

	verdict := app.Engine.Evaluate(ctx, ectx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}

func buildGovernanceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print loaded policy count, tracked agent count, and audit sink status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGovernanceStatus(cmd)
		},
	}
}

func runGovernanceStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx, configPath, workspace)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "policies loaded:  %d\n", len(app.Policy.Policies()))
	fmt.Fprintf(out, "agents tracked:   %d\n", app.Trust.Count())
	fmt.Fprintf(out, "fail mode:        %s\n", app.Config.FailMode)
	fmt.Fprintf(out, "audit dir:        %s\n", app.Audit.Dir())
	return nil
}
