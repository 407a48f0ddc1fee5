package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
)

// StopOptions holds options for the stop command
type StopOptions struct {
	*GlobalOptions

	// Timeout is the grace period in seconds before SIGKILL
	Timeout int

	refs []string
}

// NewStopCommand creates the stop command.
//
// The stop command stops running jobs.
//
// Usage:
//
//	xformer stop JOB [JOB...] [OPTIONS]
//
// Examples:
//
//	# Stop a job
//	xformer stop llama-7b-4f3a
//
//	# Give the workers a minute to checkpoint before SIGKILL
//	xformer stop llama-7b-4f3a --timeout 60
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for stopping jobs
func NewStopCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &StopOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "stop JOB [JOB...]",
		Short: "Stop running jobs",
		Long: `Stop a running job by id, unique id prefix, or name.

Workers receive SIGTERM first so the training framework can flush its
checkpoint, then SIGKILL after the grace period. The job record is kept
and shows up in 'xformer ps' as stopped; remove it with 'xformer rm'.`,
		Example: `  # Stop a job
  xformer stop llama-7b-4f3a

  # Stop two jobs with a one minute grace period
  xformer stop llama-7b-4f3a gpt2-81c2 --timeout 60`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.refs = args
			return runStop(opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Timeout, "timeout", "t", 0,
		"seconds before SIGKILL (default: configured stop grace)")

	return cmd
}

// runStop executes the stop command logic
func runStop(opts *StopOptions) error {
	if useMonitor(opts.GlobalOptions) {
		client := getClient(opts.GlobalOptions)
		for _, ref := range opts.refs {
			state, err := client.StopJob(ref, opts.Timeout)
			if err != nil {
				return fmt.Errorf("failed to stop job %s: %w", ref, err)
			}
			fmt.Printf("Job %s is now %s\n", ref, state)
		}
		return nil
	}

	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	grace := time.Duration(opts.Timeout) * time.Second
	if opts.Timeout <= 0 {
		grace = time.Duration(cfg.Jobs.StopGraceSeconds) * time.Second
	}

	for _, ref := range opts.refs {
		j, err := store.Resolve(ref)
		if err != nil {
			return err
		}
		if _, err := store.Refresh(j); err != nil {
			return err
		}

		if err := stopLocalJob(store, j, grace); err != nil {
			return err
		}
		fmt.Printf("Stopped job: %s\n", j.ID)
	}
	return nil
}

// stopLocalJob dispatches the stop to the launcher owning the job.
func stopLocalJob(store *job.Store, j *job.Job, grace time.Duration) error {
	if j.Mode != job.ModeDocker {
		return launcher.StopJob(store, j, grace)
	}

	dl, err := launcher.NewDockerLauncher(store, grace)
	if err != nil {
		return err
	}
	defer dl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), grace+30*time.Second)
	defer cancel()
	return dl.Stop(ctx, j, grace)
}
