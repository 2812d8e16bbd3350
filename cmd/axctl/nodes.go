package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func nodesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "nodes", Short: "inspect node identity"}
	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "print this node's id and display info",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := doJSON(cmd, "GET", "/api/v2/node/info", nil, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})
	return cmd
}
