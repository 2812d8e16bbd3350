package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// settingsCmd stubs the "ax settings {get,set,unset,schema}" surface
// named in spec.md §6's CLI listing. Schema-governed settings validation
// and storage are an explicit core Non-goal (spec.md §1); these
// subcommands exist so the command tree matches that listing, and report
// the boundary clearly rather than silently doing nothing.
func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "get/set node settings (passthrough stub)"}
	notImplemented := func(action string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("settings %s: settings storage and schema validation are not part of this node's core; wire this against your settings service", action)
		}
	}
	cmd.AddCommand(&cobra.Command{Use: "get <path>", Short: "read a settings value", Args: cobra.ExactArgs(1), RunE: notImplemented("get")})
	cmd.AddCommand(&cobra.Command{Use: "set <path> <json>", Short: "write a settings value", Args: cobra.ExactArgs(2), RunE: notImplemented("set")})
	cmd.AddCommand(&cobra.Command{Use: "unset <path>", Short: "remove a settings value", Args: cobra.ExactArgs(1), RunE: notImplemented("unset")})
	cmd.AddCommand(&cobra.Command{Use: "schema <path>", Short: "print the JSON schema for a settings path", Args: cobra.ExactArgs(1), RunE: notImplemented("schema")})
	return cmd
}
