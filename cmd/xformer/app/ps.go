package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// PsOptions holds options for the ps command
type PsOptions struct {
	*GlobalOptions

	// All shows finished jobs too
	All bool

	// JSON emits the job list as JSON
	JSON bool
}

// NewPsCommand creates the ps command.
//
// The ps command lists tracked jobs, similar to 'docker ps'.
//
// Usage:
//
//	xformer ps [OPTIONS]
//
// Examples:
//
//	# List jobs, finished ones included
//	xformer ps
//
//	# Only pending and running jobs
//	xformer ps --all=false
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for listing jobs
func NewPsCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &PsOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:     "ps",
		Short:   "List training and conversion jobs",
		Aliases: []string{"list"},
		Long: `List tracked jobs with their state and device assignments.

Job liveness is re-checked on the way: a job whose workers died without
reporting back is shown as failed, not running. With --server set the
listing comes from the monitor daemon instead of the local store.`,
		Example: `  # List jobs
  xformer ps

  # Machine-readable output
  xformer ps --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPs(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.All, "all", "a", true,
		"show finished jobs too (default: true)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false,
		"emit the job list as JSON")

	return cmd
}

// runPs executes the ps command logic
func runPs(opts *PsOptions) error {
	summaries, err := listJobSummaries(opts.GlobalOptions)
	if err != nil {
		return err
	}

	if !opts.All {
		summaries = lo.Filter(summaries, func(s api.JobSummary, _ int) bool {
			return s.State == string(job.StatePending) || s.State == string(job.StateRunning)
		})
	}

	if opts.JSON {
		data, err := json.MarshalIndent(api.ListJobsResponse{Jobs: summaries}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(summaries) == 0 {
		fmt.Println("No jobs found")
		fmt.Println()
		fmt.Println("Launch one with: xformer launch [flags] -- COMMAND")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODEL\tMODE\tSTATE\tRANKS\tDEVICES\tAGE")

	for _, s := range summaries {
		model := s.Model
		if model == "" {
			model = "-"
		}

		age := "-"
		if created, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			age = formatDuration(time.Since(created))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID,
			s.Name,
			model,
			s.Mode,
			s.State,
			s.RankSize,
			formatRanks(s.Devices),
			age)
	}

	w.Flush()

	return nil
}

// listJobSummaries reads the job list from the monitor daemon when one
// is configured, else from the local store with liveness re-checked.
func listJobSummaries(globalOpts *GlobalOptions) ([]api.JobSummary, error) {
	if useMonitor(globalOpts) {
		client := getClient(globalOpts)
		summaries, err := client.ListJobs()
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}
		return summaries, nil
	}

	_, store, err := openStore()
	if err != nil {
		return nil, err
	}
	jobs, err := store.RefreshAll()
	if err != nil {
		return nil, err
	}
	refreshDockerJobs(store, jobs)

	return lo.Map(jobs, func(j *job.Job, _ int) api.JobSummary {
		return j.Summary()
	}), nil
}

// refreshDockerJobs reconciles running docker records against the
// engine. The engine being unreachable is not an error here, the
// records just keep their last known state.
func refreshDockerJobs(store *job.Store, jobs []*job.Job) {
	running := lo.Filter(jobs, func(j *job.Job, _ int) bool {
		return j.Mode == job.ModeDocker && j.State == job.StateRunning
	})
	if len(running) == 0 {
		return
	}

	dl, err := launcher.NewDockerLauncher(store, launcher.DefaultGrace)
	if err != nil {
		logger.Debug("Docker engine not reachable, %d container job(s) not refreshed: %v", len(running), err)
		return
	}
	defer dl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, j := range running {
		changed, err := dl.Refresh(ctx, j)
		if err != nil {
			logger.Debug("Failed to refresh container job %s: %v", j.ID, err)
			continue
		}
		if changed {
			logger.Debug("Reconciled container job %s to state %s", j.ID, j.State)
		}
	}
}

// formatDuration formats a duration in human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	} else {
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}
