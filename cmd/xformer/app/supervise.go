package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

// superviseCommandName is the hidden verb a detached launch re-execs
// itself with.
const superviseCommandName = "__supervise"

// SuperviseOptions holds options for the supervise command
type SuperviseOptions struct {
	*GlobalOptions

	jobID string
}

// NewSuperviseCommand creates the hidden supervisor command.
//
// 'xformer launch --detach' re-execs the binary as
// 'xformer __supervise JOB_ID' in its own session. The supervisor picks
// the pending record up, runs it exactly like a foreground launch
// would, and finalizes the record when the workers exit. It is hidden
// because nothing but launch should ever invoke it.
func NewSuperviseCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &SuperviseOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:    superviseCommandName + " JOB_ID",
		Short:  "Supervise a detached job (internal)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.jobID = args[0]
			return runSupervise(opts)
		},
	}

	return cmd
}

// runSupervise executes the supervise command logic
func runSupervise(opts *SuperviseOptions) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}

	j, err := store.Get(opts.jobID)
	if err != nil {
		return err
	}
	if j.State != job.StatePending {
		return fmt.Errorf("job %s is %s, supervisor expects a pending job", j.ID, j.State)
	}

	// The table is re-read here rather than serialized into the record
	// so the supervisor sees the same file preflight validated.
	var tbl *ranktable.RankTable
	if j.Bootstrap == job.BootstrapRankTable && j.Mode != job.ModeMPI {
		if tbl, err = ranktable.LoadValid(j.RankTablePath); err != nil {
			j.State = job.StateFailed
			j.Error = err.Error()
			j.FinishedAt = time.Now()
			if saveErr := store.Save(j); saveErr != nil {
				logger.Error("Failed to record rank table error: %v", saveErr)
			}
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		logger.Info("Supervisor for %s received %v, stopping workers", j.ID, sig)
		cancel()
	}()

	logger.Info("Supervising job %s: %d rank(s), mode %s", j.ID, j.RankSize, j.Mode)
	grace := time.Duration(cfg.Jobs.StopGraceSeconds) * time.Second
	return runForeground(ctx, store, j, tbl, grace, nil, false)
}
