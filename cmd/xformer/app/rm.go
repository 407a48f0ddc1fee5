package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// RmOptions holds options for the rm command
type RmOptions struct {
	*GlobalOptions

	// Force removes running jobs, stopping their workers first
	Force bool

	// Prune removes all finished jobs older than the retention period
	Prune bool

	// OlderThan overrides the retention period for --prune, e.g. 48h
	OlderThan time.Duration

	refs []string
}

// NewRmCommand creates the rm command.
//
// The rm command removes job records and their logs.
//
// Usage:
//
//	xformer rm JOB [JOB...] [OPTIONS]
//	xformer rm --prune
//
// Examples:
//
//	# Remove a finished job
//	xformer rm llama-7b-4f3a
//
//	# Remove every finished job older than two days
//	xformer rm --prune --older-than 48h
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for removing jobs
func NewRmCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &RmOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "rm JOB [JOB...]",
		Short: "Remove job records and logs",
		Long: `Remove job records and their log directories.

Running jobs are refused unless --force is given; --force stops the
workers first. --prune removes every finished job older than the
configured retention period in one go.`,
		Example: `  # Remove a finished job
  xformer rm llama-7b-4f3a

  # Stop and remove a running job
  xformer rm llama-7b-4f3a --force

  # Clear out old records
  xformer rm --prune`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.refs = args
			if opts.Prune == (len(args) > 0) {
				return fmt.Errorf("give either job references or --prune")
			}
			return runRm(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false,
		"remove running jobs, stopping their workers first")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false,
		"remove all finished jobs older than the retention period")
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0,
		"retention override for --prune, e.g. 48h (default: configured)")

	return cmd
}

// runRm executes the rm command logic
func runRm(opts *RmOptions) error {
	if useMonitor(opts.GlobalOptions) && !opts.Prune {
		client := getClient(opts.GlobalOptions)
		for _, ref := range opts.refs {
			if err := client.RemoveJob(ref, opts.Force); err != nil {
				return fmt.Errorf("failed to remove job %s: %w", ref, err)
			}
			fmt.Printf("Removed job: %s\n", ref)
		}
		return nil
	}

	cfg, store, err := openStore()
	if err != nil {
		return err
	}

	if opts.Prune {
		olderThan := opts.OlderThan
		if olderThan <= 0 {
			olderThan = time.Duration(cfg.Jobs.RetentionDays) * 24 * time.Hour
		}
		removed, err := store.Prune(olderThan)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("Nothing to prune")
			return nil
		}
		for _, id := range removed {
			fmt.Printf("Removed job: %s\n", id)
		}
		fmt.Printf("\nTotal: %d job(s) pruned\n", len(removed))
		return nil
	}

	grace := time.Duration(cfg.Jobs.StopGraceSeconds) * time.Second
	for _, ref := range opts.refs {
		j, err := store.Resolve(ref)
		if err != nil {
			return err
		}
		if _, err := store.Refresh(j); err != nil {
			logger.Warn("Failed to refresh job %s: %v", j.ID, err)
		}
		if j.State == job.StateRunning && !opts.Force {
			return fmt.Errorf("job %s is running, stop it first or use --force", j.ID)
		}

		if j.State == job.StateRunning && j.Mode != job.ModeDocker {
			if err := launcher.StopJob(store, j, grace); err != nil {
				logger.Warn("Failed to stop job %s before removal: %v", j.ID, err)
			}
		}
		if j.Mode == job.ModeDocker && len(j.ContainerIDs) > 0 {
			removeJobContainers(store, j)
		}

		if err := store.Remove(j.ID, opts.Force); err != nil {
			return err
		}
		fmt.Printf("Removed job: %s\n", j.ID)
	}
	return nil
}

// removeJobContainers deletes the job's containers from the engine.
// The engine being unreachable only warns, the record goes away anyway.
func removeJobContainers(store *job.Store, j *job.Job) {
	dl, err := launcher.NewDockerLauncher(store, launcher.DefaultGrace)
	if err != nil {
		logger.Warn("Docker engine not reachable, containers of %s not removed: %v", j.ID, err)
		return
	}
	defer dl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dl.Remove(ctx, j); err != nil {
		logger.Warn("Failed to remove containers of job %s: %v", j.ID, err)
	}
}
