package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"trace-analyze", "trace-status", "governance", "eventstatus", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestGovernanceCmdHasStatusSubcommand(t *testing.T) {
	cmd := buildGovernanceCmd()
	for _, sub := range cmd.Commands() {
		if sub.Name() == "status" {
			return
		}
	}
	t.Fatal("expected governance status subcommand to be registered")
}

func TestGovernanceCmdHasEvaluateSubcommand(t *testing.T) {
	cmd := buildGovernanceCmd()
	for _, sub := range cmd.Commands() {
		if sub.Name() == "evaluate" {
			return
		}
	}
	t.Fatal("expected governance evaluate subcommand to be registered")
}
