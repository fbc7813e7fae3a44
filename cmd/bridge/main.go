// Bridge serves ticket operations over HTTP and routes each one to the
// legacy table API or the new record repository according to a rollout
// policy that can change while the process runs.
//
// Usage:
//
//	# Start the server
//	bridge serve --config /etc/bridge/config.yaml
//
//	# Validate a policy file before shipping it
//	bridge policy check rollout.yaml
//
//	# Where does a caller land?
//	bridge policy bucket U024BE7LH --policy rollout.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "Progressive migration router for ticket operations",
		Long: `bridge fronts the legacy table API and the new record repository.
Each operation is routed by a per-operation rollout state: off, a percentage
of callers, on, or forced back to legacy.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newPolicyCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bridge\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
