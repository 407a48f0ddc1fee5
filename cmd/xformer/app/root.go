// Package app provides the command-line interface implementation for
// xformer.
//
// This package contains all CLI commands and their implementations, following
// the Kubernetes CLI architecture pattern with cobra. Commands are organized
// hierarchically with a root command and subcommands.
//
// Commands that operate on jobs (ps, logs, stop, rm) work directly on the
// local job store by default and switch to the monitor HTTP API when
// --server is given, so a single host needs no running daemon.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/client"
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"

	// Model families register their cards at init time.
	_ "github.com/zhenhua32/mindformers/internal/models/bloom"
	_ "github.com/zhenhua32/mindformers/internal/models/gpt"
	_ "github.com/zhenhua32/mindformers/internal/models/llama"
	_ "github.com/zhenhua32/mindformers/internal/models/t5"
)

const (
	// cliName is the name of the CLI application
	cliName = "xformer"

	// cliDescription is the short description shown in help text
	cliDescription = "xformer - distributed training operations for Ascend clusters"
)

// Version metadata set from main at startup, ldflags-overridable there.
var (
	versionString = "0.0.0"
	buildTime     = "unknown"
	gitCommit     = "dev"
)

// SetVersionInfo records the build metadata main was linked with.
func SetVersionInfo(version, built, commit string) {
	if version != "" {
		versionString = version
	}
	if built != "" {
		buildTime = built
	}
	if commit != "" {
		gitCommit = commit
	}
}

// GetVersion returns the CLI version string.
func GetVersion() string {
	return versionString
}

// GlobalOptions holds options that are common to all commands
type GlobalOptions struct {
	// ServerURL is the xformer monitor address. Empty means operate on
	// the local job store directly.
	ServerURL string

	// Debug enables debug logging
	Debug bool

	// Quiet suppresses info logging
	Quiet bool
}

// NewXformerCommand creates the root xformer command with all subcommands.
//
// The root command provides the main entry point for the CLI. It sets up
// global flags, initializes logging, and registers all subcommands.
//
// Returns:
//   - A configured cobra.Command ready for execution
//
// Example:
//
//	cmd := NewXformerCommand()
//	if err := cmd.Execute(); err != nil {
//	    os.Exit(1)
//	}
func NewXformerCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   cliName,
		Short: cliDescription,
		Long: `xformer is a command-line tool for launching and operating distributed
model pretraining on Ascend NPU clusters.

It generates and validates the rank table descriptors the collective
communication layer consumes, checks trainer configurations against the
device topology before anything touches a chip, and launches the training
entrypoint across devices as plain processes, under mpirun, or in per-rank
containers. Launched jobs are tracked on disk so they can be listed,
followed, and stopped from any shell, or through the monitor daemon
('xformer serve') from other machines.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetDebug(opts.Debug)
			logger.SetQuiet(opts.Quiet)
		},
	}

	// Add global flags
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "",
		"monitor address (default: operate on the local job store)")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false,
		"enable debug logging")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false,
		"suppress informational logging")

	// Add subcommands
	cmd.AddCommand(
		NewLaunchCommand(opts),
		NewSuperviseCommand(opts),
		NewRankTableCommand(opts),
		NewValidateCommand(opts),
		NewConvertCommand(opts),
		NewPsCommand(opts),
		NewLogsCommand(opts),
		NewStopCommand(opts),
		NewRmCommand(opts),
		NewModelsCommand(opts),
		NewShowCommand(opts),
		NewDeviceCommand(opts),
		NewInitCommand(opts),
		NewServeCommand(opts),
		NewVersionCommand(opts),
	)

	return cmd
}

// getClient creates and returns a configured monitor API client.
//
// This helper initializes an HTTP client for communicating with the
// xformer monitor. It determines the server address using the following
// priority:
//  1. --server flag (if specified)
//  2. XFORMER_SERVER environment variable
//  3. Default: http://localhost:11633
//
// Parameters:
//   - opts: Global options containing the server URL
//
// Returns:
//   - A configured client.Client instance
func getClient(opts *GlobalOptions) *client.Client {
	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = os.Getenv("XFORMER_SERVER")
	}
	if serverURL == "" {
		serverURL = "http://localhost:11633"
	}
	return client.NewClient(serverURL)
}

// useMonitor reports whether job commands should go through the monitor
// API instead of the local job store.
func useMonitor(opts *GlobalOptions) bool {
	return opts.ServerURL != "" || os.Getenv("XFORMER_SERVER") != ""
}

// openStore loads the application configuration and opens the local job
// store, creating the directory layout on first use.
func openStore() (*config.Config, *job.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.BinaryVersion = GetVersion()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	store, err := job.NewStore(cfg.Storage.GetJobsDir(), cfg.Storage.GetLogsDir())
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

// checkError prints an error and exits if err is not nil.
//
// This is a convenience function for fatal error handling in CLI commands.
// It prints the error to stderr and exits with code 1.
//
// Parameters:
//   - err: The error to check
func checkError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
