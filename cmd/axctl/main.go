// Command axctl is a thin HTTP/WebSocket client for an axnode's
// /api/v2/events and /api/v2/node surfaces, in the teacher pack's
// cmd/cli style: each resource gets its own cobra sub-command tree
// (cmd/cli/swarm.go), wired together from main via a package-level root
// command (cmd/synnergy/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{Use: "axctl", Short: "interact with an axnode's events API"}
	root.PersistentFlags().String("server", "http://127.0.0.1:4454", "axnode base URL")
	root.PersistentFlags().String("token", "", "bearer token for authenticated requests")

	root.AddCommand(eventsCmd())
	root.AddCommand(nodesCmd())
	root.AddCommand(settingsCmd())
	root.AddCommand(internalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
