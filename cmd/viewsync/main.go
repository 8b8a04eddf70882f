package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "viewsync",
		Short: "Server-driven view synchronization over WebSocket",
		Long: `viewsync runs and exercises a view synchronization server.

The server owns all view state and pushes tree patches to connected
clients over WebSocket; clients send interaction events back on the
same channel and reconnect with full state recovery.

Commands:
  serve     run a sync server with the demo counter view
  loadtest  drive concurrent clients against a server and report latency
  version   print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		loadtestCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
