package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/logger"
)

// VersionOptions holds options for the version command
type VersionOptions struct {
	*GlobalOptions

	// Client shows only the CLI version
	Client bool

	// Monitor shows only the monitor daemon version
	Monitor bool
}

// NewVersionCommand creates the version command.
//
// The version command displays version information for the CLI and the
// monitor daemon. It corresponds to 'kubectl version' in Kubernetes.
//
// Usage:
//
//	xformer version [--client] [--monitor]
//
// Examples:
//
//	# Show CLI and monitor versions
//	xformer version
//
//	# Show only the CLI version
//	xformer version --client
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for displaying version info
func NewVersionCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &VersionOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long: `Display version information for the xformer CLI and the monitor
daemon it talks to.

By default, shows both. Use --client or --monitor to show only one.`,
		Example: `  # Show CLI and monitor versions
  xformer version

  # Show only the CLI version
  xformer version --client

  # Version of a remote monitor
  xformer --server http://worker7:11633 version --monitor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Client, "client", false,
		"show CLI version only")
	cmd.Flags().BoolVar(&opts.Monitor, "monitor", false,
		"show monitor version only")

	return cmd
}

// runVersion executes the version command logic.
//
// Parameters:
//   - opts: Version command options
//
// Returns:
//   - nil on success
//   - error if the monitor query fails when explicitly requested
func runVersion(opts *VersionOptions) error {
	showClient := opts.Client || (!opts.Client && !opts.Monitor)
	showMonitor := opts.Monitor || (!opts.Client && !opts.Monitor)

	if showClient {
		fmt.Println("Client Version:")
		fmt.Printf("  Version:    %s\n", versionString)
		fmt.Printf("  Build Time: %s\n", buildTime)
		fmt.Printf("  Git Commit: %s\n", gitCommit)
	}

	if showMonitor {
		if showClient {
			fmt.Println()
		}

		client := getClient(opts.GlobalOptions)
		resp, err := client.Version()
		if err != nil {
			// Without an explicit request a silent monitor is normal,
			// most hosts only run the CLI.
			if !opts.Monitor {
				logger.Debug("Monitor version query failed: %v", err)
				fmt.Println("Monitor: not reachable")
				return nil
			}
			return fmt.Errorf("failed to get monitor version: %w", err)
		}

		fmt.Println("Monitor Version:")
		fmt.Printf("  Version:    %s\n", resp.Version)
		fmt.Printf("  Build Time: %s\n", resp.BuildTime)
		fmt.Printf("  Git Commit: %s\n", resp.GitCommit)
	}

	return nil
}
