package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/streamlog"
)

// internalCmd adds a debug-only "trees" tree that reads a node's block
// store directly off disk, bypassing the HTTP API entirely — useful to
// inspect a stopped node's stream headers. This supplements spec.md's
// external CLI surface with the kind of operator escape hatch the
// original system exposes as its node-manager UI (out of this module's
// scope per spec.md §1), expressed here as a CLI subcommand instead.
func internalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "internal", Short: "debug tooling operating directly on a node's working directory"}
	trees := &cobra.Command{Use: "trees", Short: "inspect banyan tree headers on disk"}
	trees.AddCommand(treesDumpCmd())
	trees.AddCommand(treesExploreCmd())
	cmd.AddCommand(trees)
	return cmd
}

func treesDumpCmd() *cobra.Command {
	var dir string
	c := &cobra.Command{
		Use:   "dump",
		Short: "list every known stream's header (root CID, lamport, count)",
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := blockstore.Open(dir, 1024)
			if err != nil {
				return fmt.Errorf("open block store at %s: %w", dir, err)
			}
			defer bs.Close()

			engine := banyan.New(bs, banyan.DefaultConfig())
			_ = engine

			table := streamlog.New(bs, engine, zeroNode())
			ctx := context.Background()
			for _, id := range table.KnownStreams() {
				hdr, ok, err := table.Header(ctx, id)
				if err != nil {
					return fmt.Errorf("header for %s: %w", id, err)
				}
				if !ok {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s root=%s lamport=%d count=%d\n", id, hdr.Root, hdr.Lamport, hdr.Count)
			}
			return nil
		},
	}
	c.Flags().StringVar(&dir, "working-dir", ".", "node working directory")
	return c
}

func treesExploreCmd() *cobra.Command {
	var dir, cidStr string
	c := &cobra.Command{
		Use:   "explore",
		Short: "print a single block's raw byte length and CID",
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := blockstore.Open(dir, 1024)
			if err != nil {
				return fmt.Errorf("open block store at %s: %w", dir, err)
			}
			defer bs.Close()

			c, err := parseCID(cidStr)
			if err != nil {
				return err
			}
			data, err := bs.Get(cmd.Context(), c)
			if err != nil {
				return fmt.Errorf("get %s: %w", cidStr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes\n", cidStr, len(data))
			return nil
		},
	}
	c.Flags().StringVar(&dir, "working-dir", ".", "node working directory")
	c.Flags().StringVar(&cidStr, "cid", "", "CID to fetch")
	return c
}
