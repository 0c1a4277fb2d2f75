package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/pipeline"
)

func buildTraceAnalyzeCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "trace-analyze",
		Short: "Run a trace-analyzer pass over the durable event bus",
		Long: `Run a trace-analyzer pass: fetch the event window, reconstruct
conversation chains, detect behavioral anti-patterns, optionally classify
findings, and persist an updated checkpoint and report.

With no flags this resumes from the last checkpoint. --full reprocesses
the entire event stream from the beginning.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceAnalyze(cmd, full)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "reprocess the entire event stream, ignoring the checkpoint")
	return cmd
}

func runTraceAnalyze(cmd *cobra.Command, full bool) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx, configPath, workspace)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	report, err := app.Pipeline.Run(ctx, pipeline.RunOptions{Full: full})
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), "trace-analyze: a run is already in progress")
			return nil
		}
		return fmt.Errorf("trace-analyze: %w", err)
	}

	if app.EventBus == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "trace-analyze: event bus unreachable, wrote an empty report")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "trace-analyze: processed %d events across %d chains, kept %d of %d findings, generated %d outputs\n",
		report.Stats.EventsFetched, report.Stats.ChainsBuilt, report.Stats.FindingsKept, report.Stats.FindingsRaw, len(report.GeneratedOutputs))
	return nil
}

func buildTraceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace-status",
		Short: "Show the last persisted trace-analyzer checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceStatus(cmd)
		},
	}
}

func runTraceStatus(cmd *cobra.Command) error {
	statePath := workspace + "/memory/reboot/trace-analysis-state.json"
	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "trace-status: no checkpoint yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("trace-status: read checkpoint: %w", err)
	}

	var state domain.ProcessingState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("trace-status: parse checkpoint: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "last processed: ts=%d events=%d findings=%d updated=%s\n",
		state.LastProcessedTS, state.TotalEventsProcessed, state.TotalFindings, state.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
