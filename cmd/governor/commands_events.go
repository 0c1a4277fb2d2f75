package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildEventStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eventstatus",
		Short: "Probe the durable event bus connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventStatus(cmd)
		},
	}
}

func runEventStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx, configPath, workspace)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	out := cmd.OutOrStdout()
	if app.EventBus == nil {
		fmt.Fprintln(out, "event bus: not configured or unreachable")
		return nil
	}

	status := app.EventBus.Status()
	fmt.Fprintf(out, "event bus: connected=%v streamExists=%v\n", status.Connected, status.StreamExists)
	return nil
}
