package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
)

// LogsOptions holds options for the logs command
type LogsOptions struct {
	*GlobalOptions

	// JobRef is the job id, unique prefix, or name
	JobRef string

	// Rank selects which rank's log to read
	Rank int

	// Follow continues streaming logs in real-time
	Follow bool

	// Tail limits output to the last N lines
	Tail int

	// Supervisor reads the detach supervisor's log instead
	Supervisor bool

	// Scheduler reads the rendezvous scheduler's log instead
	Scheduler bool
}

// NewLogsCommand creates the logs command.
//
// The logs command displays worker output from a tracked job.
//
// Usage:
//
//	xformer logs JOB [OPTIONS]
//
// Examples:
//
//	# View rank 0 output
//	xformer logs llama-7b-4f3a
//
//	# Follow rank 3 in real-time (like tail -f)
//	xformer logs llama-7b-4f3a --rank 3 -f
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for viewing logs
func NewLogsCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &LogsOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "logs JOB",
		Short: "View worker output from a job",
		Long: `View worker output from a tracked job.

Each rank writes its own log file; --rank selects which one (default:
the first rank that ran on this host). MPI jobs have a single merged
stream. By default existing output is shown and the command exits, use
-f/--follow to keep streaming until the job finishes.`,
		Example: `  # Show rank 0 output
  xformer logs llama-7b-4f3a

  # Follow the last 100 lines of rank 3 (press Ctrl+C to stop)
  xformer logs llama-7b-4f3a --rank 3 --tail 100 -f

  # The detach supervisor's own log
  xformer logs llama-7b-4f3a --supervisor`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JobRef = args[0]
			return runLogs(opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Rank, "rank", "r", -1,
		"rank whose log to read (default: first local rank)")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false,
		"follow log output (stream logs in real-time)")
	cmd.Flags().IntVarP(&opts.Tail, "tail", "n", 0,
		"only show the last N lines")
	cmd.Flags().BoolVar(&opts.Supervisor, "supervisor", false,
		"read the detach supervisor's log")
	cmd.Flags().BoolVar(&opts.Scheduler, "scheduler", false,
		"read the rendezvous scheduler's log")

	return cmd
}

// runLogs executes the logs command logic
func runLogs(opts *LogsOptions) error {
	if opts.Supervisor && opts.Scheduler {
		return fmt.Errorf("--supervisor and --scheduler are mutually exclusive")
	}

	if useMonitor(opts.GlobalOptions) {
		return streamMonitorLogs(opts)
	}

	_, store, err := openStore()
	if err != nil {
		return err
	}
	j, err := store.Resolve(opts.JobRef)
	if err != nil {
		return err
	}

	if j.Mode == job.ModeDocker && !opts.Supervisor && !opts.Scheduler {
		return streamDockerLogs(store, j, opts)
	}

	path, err := resolveLogPath(store, j, opts)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no log recorded yet at %s", path)
		}
		return err
	}
	defer f.Close()

	if opts.Tail > 0 {
		if err := seekToTail(f, opts.Tail); err != nil {
			return err
		}
	}
	if _, err := io.Copy(os.Stdout, f); err != nil {
		return err
	}
	if !opts.Follow {
		return nil
	}
	return followLocalFile(store, j, f)
}

// resolveLogPath maps the flags onto one of the job's log files.
func resolveLogPath(store *job.Store, j *job.Job, opts *LogsOptions) (string, error) {
	switch {
	case opts.Supervisor:
		return store.SupervisorLogPath(j.ID), nil
	case opts.Scheduler:
		if j.Bootstrap != job.BootstrapDynamic {
			return "", fmt.Errorf("job %s has no scheduler, it uses %s bootstrap", j.ID, j.Bootstrap)
		}
		return store.SchedulerLogPath(j.ID), nil
	}

	rank := opts.Rank
	if j.Mode == job.ModeMPI {
		// mpirun collects every rank into one merged stream.
		rank = 0
	} else if rank < 0 {
		rank = 0
		if len(j.Ranks) > 0 {
			rank = j.Ranks[0]
		}
	} else if len(j.Ranks) > 0 && !lo.Contains(j.Ranks, rank) {
		return "", fmt.Errorf("rank %d did not run on this host (local ranks: %v)", rank, j.Ranks)
	}
	return store.RankLogPath(j.ID, rank), nil
}

// followLocalFile polls for appended data until the job reaches a
// terminal state with no further output. Ctrl+C detaches.
func followLocalFile(store *job.Store, j *job.Job, f *os.File) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-sigChan:
			return nil
		case <-ticker.C:
			wrote := false
			for {
				n, err := f.Read(buf)
				if n > 0 {
					os.Stdout.Write(buf[:n])
					wrote = true
				}
				if err != nil {
					break
				}
			}
			if wrote {
				continue
			}
			cur, err := store.Get(j.ID)
			if err != nil {
				return err
			}
			if _, refreshErr := store.Refresh(cur); refreshErr == nil && cur.State.IsTerminal() {
				return nil
			}
		}
	}
}

// streamDockerLogs reads container logs through the engine API.
func streamDockerLogs(store *job.Store, j *job.Job, opts *LogsOptions) error {
	dl, err := launcher.NewDockerLauncher(store, launcher.DefaultGrace)
	if err != nil {
		return err
	}
	defer dl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	rank := opts.Rank
	if rank < 0 {
		rank = 0
		if len(j.Ranks) > 0 {
			rank = j.Ranks[0]
		}
	}
	tail := ""
	if opts.Tail > 0 {
		tail = fmt.Sprintf("%d", opts.Tail)
	}

	rc, err := dl.Logs(ctx, j, rank, opts.Follow, tail)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.Copy(os.Stdout, rc); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// streamMonitorLogs reads logs over the monitor daemon's HTTP API.
func streamMonitorLogs(opts *LogsOptions) error {
	if opts.Supervisor || opts.Scheduler {
		return fmt.Errorf("--supervisor and --scheduler read local files, they are not served by the monitor")
	}
	client := getClient(opts.GlobalOptions)

	// A negative rank lets the monitor pick the job's first local rank.
	rank := opts.Rank

	print := func(chunk string) {
		fmt.Print(chunk)
		os.Stdout.Sync()
	}

	if opts.Follow {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		logDone := make(chan error, 1)
		go func() {
			logDone <- client.StreamJobLogs(opts.JobRef, rank, true, opts.Tail, print)
		}()

		select {
		case <-sigChan:
			return nil
		case err := <-logDone:
			if err != nil {
				return fmt.Errorf("failed to stream logs: %w", err)
			}
			return nil
		}
	}

	if err := client.StreamJobLogs(opts.JobRef, rank, false, opts.Tail, print); err != nil {
		return fmt.Errorf("failed to get logs: %w", err)
	}
	return nil
}

// seekToTail positions f so that only the last n lines remain to read.
func seekToTail(f *os.File, n int) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	const chunk = 32 * 1024
	buf := make([]byte, chunk)
	lines := 0
	offset := size

	for offset > 0 {
		readFrom := offset - chunk
		if readFrom < 0 {
			readFrom = 0
		}
		m, err := f.ReadAt(buf[:offset-readFrom], readFrom)
		if err != nil && err != io.EOF {
			return err
		}
		for i := m - 1; i >= 0; i-- {
			if buf[i] != '\n' {
				continue
			}
			// The trailing newline of the file does not start a line.
			if readFrom+int64(i) == size-1 {
				continue
			}
			lines++
			if lines >= n {
				_, err := f.Seek(readFrom+int64(i)+1, io.SeekStart)
				return err
			}
		}
		offset = readFrom
	}

	_, err = f.Seek(0, io.SeekStart)
	return err
}
