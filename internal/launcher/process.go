// Package launcher starts distributed training workers.
//
// Three launch mechanisms are implemented behind a shared job record:
// process mode spawns one local OS process per rank, mpi mode delegates
// placement to mpirun, and docker mode runs one container per rank
// through the Docker engine. All three converge on the same environment
// contract so the training framework sees identical variables regardless
// of how its workers came to exist.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

// DefaultGrace is how long workers get between SIGTERM and SIGKILL.
const DefaultGrace = 30 * time.Second

// ProcessLauncher runs one worker process per local rank.
//
// Workers share a dedicated process group so the whole gang can be
// signalled at once. The first worker's pid becomes the group id and is
// persisted on the job record for later stop and liveness probes.
type ProcessLauncher struct {
	store *job.Store
	grace time.Duration
}

// NewProcessLauncher creates a process launcher backed by the given
// store. A non-positive grace falls back to DefaultGrace.
func NewProcessLauncher(store *job.Store, grace time.Duration) *ProcessLauncher {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &ProcessLauncher{store: store, grace: grace}
}

// RunOptions tune a single launch.
type RunOptions struct {
	// Table is the parsed rank table. Nil in dynamic bootstrap mode.
	Table *ranktable.RankTable

	// TTY attaches the single worker to a pseudo-terminal and streams
	// its output. Requires exactly one local rank.
	TTY bool

	// Output additionally streams rank 0 (or the TTY worker) to this
	// writer. Nil leaves output in the log files only.
	Output io.Writer

	// StartScheduler spawns the rendezvous scheduler on this host,
	// dynamic bootstrap mode only.
	StartScheduler bool
}

// workerResult reports one finished worker.
type workerResult struct {
	rank int
	code int
	err  error
}

// Run launches every local worker and blocks until the job finishes.
//
// The job record transitions pending -> running on first spawn and ends
// in succeeded, failed, or stopped. On the first nonzero exit the rest
// of the group is terminated after the grace period. Cancelling the
// context stops the group and marks the job stopped.
//
// Returns an error describing the failure for failed jobs, nil for
// succeeded and stopped ones.
func (l *ProcessLauncher) Run(ctx context.Context, j *job.Job, opts RunOptions) error {
	envs, ranks, _, err := workerEnvs(j, opts.Table)
	if err != nil {
		return l.fail(j, err)
	}
	j.Ranks = ranks
	if opts.TTY && len(j.Devices) != 1 {
		return l.fail(j, fmt.Errorf("tty mode requires exactly one local rank, got %d", len(j.Devices)))
	}

	logDir, err := l.store.LogDirFor(j.ID)
	if err != nil {
		return l.fail(j, err)
	}
	j.LogDir = logDir

	var (
		closers []io.Closer
		results = make(chan workerResult, len(ranks)+1)
		pgid    int
	)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	kill := func() {
		if pgid > 0 {
			StopProcessGroup(pgid, l.grace)
		}
	}

	spawn := func(name string, env []string, logPath string, stream io.Writer) (*exec.Cmd, error) {
		logFile, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file %s: %w", logPath, err)
		}
		closers = append(closers, logFile)

		var out io.Writer = logFile
		if stream != nil {
			out = io.MultiWriter(logFile, stream)
		}

		cmd := exec.Command(j.Entrypoint[0], j.Entrypoint[1:]...)
		cmd.Dir = j.WorkDir
		cmd.Env = mergeEnv(append(os.Environ(), env...), j.Env)
		cmd.Stdout = out
		cmd.Stderr = out
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", name, err)
		}
		if pgid == 0 {
			pgid = cmd.Process.Pid
		}
		logger.Debug("Started %s for job %s, pid %d", name, j.ID, cmd.Process.Pid)
		return cmd, nil
	}

	if opts.TTY {
		return l.runTTY(ctx, j, envs[0], ranks[0], opts.Output)
	}

	if opts.StartScheduler {
		env := SchedulerEnv(j.MasterAddr, j.MasterPort, j.RankSize)
		cmd, err := spawn("scheduler", env, l.store.SchedulerLogPath(j.ID), nil)
		if err != nil {
			kill()
			return l.fail(j, err)
		}
		go func() {
			// The scheduler outliving the workers is normal, only a
			// premature nonzero exit is a failure.
			err := cmd.Wait()
			code := exitCode(cmd, err)
			if code != 0 {
				results <- workerResult{rank: -1, code: code, err: fmt.Errorf("scheduler exited with code %d", code)}
			}
		}()
	}

	for i, env := range envs {
		var stream io.Writer
		if i == 0 && opts.Output != nil {
			stream = opts.Output
		}
		name := fmt.Sprintf("rank %d worker", ranks[i])
		cmd, err := spawn(name, env, l.store.RankLogPath(j.ID, ranks[i]), stream)
		if err != nil {
			kill()
			return l.fail(j, err)
		}

		rank := ranks[i]
		go func(c *exec.Cmd) {
			err := c.Wait()
			results <- workerResult{rank: rank, code: exitCode(c, err), err: err}
		}(cmd)
	}

	j.PGID = pgid
	j.State = job.StateRunning
	j.StartedAt = time.Now()
	if err := l.store.Save(j); err != nil {
		kill()
		return err
	}
	logger.Info("Job %s running: %d worker(s), process group %d", j.ID, len(ranks), pgid)

	return l.wait(ctx, j, results, len(ranks), kill, opts.StartScheduler)
}

// wait collects worker results until all ranks finished, the first
// failure, or cancellation, then finalizes the record.
func (l *ProcessLauncher) wait(ctx context.Context, j *job.Job, results <-chan workerResult, workers int, kill func(), schedulerRunning bool) error {
	remaining := workers
	for remaining > 0 {
		select {
		case <-ctx.Done():
			logger.Info("Stopping job %s", j.ID)
			kill()
			drain(results, remaining)
			return l.finish(j, job.StateStopped, 0, "")

		case res := <-results:
			if res.rank >= 0 {
				remaining--
			}
			if res.code == 0 && res.err == nil {
				logger.Debug("Rank %d of job %s finished", res.rank, j.ID)
				continue
			}

			reason := fmt.Sprintf("rank %d exited with code %d", res.rank, res.code)
			if res.rank < 0 {
				reason = res.err.Error()
			}
			logger.Error("Job %s: %s, terminating remaining workers", j.ID, reason)
			kill()
			drain(results, remaining)
			if err := l.finish(j, job.StateFailed, res.code, reason); err != nil {
				return err
			}
			return errors.New(reason)
		}
	}

	logger.Info("Job %s succeeded", j.ID)
	if schedulerRunning {
		// The scheduler outlives its workers; take the group down with
		// the job instead of leaving it to linger.
		kill()
	}
	return l.finish(j, job.StateSucceeded, 0, "")
}

// runTTY runs the single worker on a pseudo-terminal so interactive
// entrypoints behave. pty.Start puts the child in its own session, which
// doubles as the stoppable process group.
func (l *ProcessLauncher) runTTY(ctx context.Context, j *job.Job, env []string, rank int, output io.Writer) error {
	logPath := l.store.RankLogPath(j.ID, rank)
	logFile, err := os.Create(logPath)
	if err != nil {
		return l.fail(j, fmt.Errorf("failed to create log file %s: %w", logPath, err))
	}
	defer logFile.Close()

	cmd := exec.Command(j.Entrypoint[0], j.Entrypoint[1:]...)
	cmd.Dir = j.WorkDir
	cmd.Env = mergeEnv(append(os.Environ(), env...), j.Env)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return l.fail(j, fmt.Errorf("failed to start worker with pty: %w", err))
	}
	defer ptmx.Close()

	j.PGID = cmd.Process.Pid
	j.State = job.StateRunning
	j.StartedAt = time.Now()
	if err := l.store.Save(j); err != nil {
		cmd.Process.Kill()
		return err
	}
	logger.Info("Job %s running on a pty, pid %d", j.ID, cmd.Process.Pid)

	if output == nil {
		output = io.Discard
	}
	var copyWG sync.WaitGroup
	copyWG.Add(1)
	go func() {
		defer copyWG.Done()
		// The copy ends with EIO when the child closes the slave side.
		io.Copy(io.MultiWriter(logFile, output), ptmx)
	}()
	go func() {
		io.Copy(ptmx, os.Stdin)
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		StopProcessGroup(j.PGID, l.grace)
		<-done
		copyWG.Wait()
		return l.finish(j, job.StateStopped, 0, "")
	case err := <-done:
		copyWG.Wait()
		code := exitCode(cmd, err)
		if code != 0 {
			reason := fmt.Sprintf("worker exited with code %d", code)
			if ferr := l.finish(j, job.StateFailed, code, reason); ferr != nil {
				return ferr
			}
			return errors.New(reason)
		}
		return l.finish(j, job.StateSucceeded, 0, "")
	}
}

// workerEnvs builds the per-rank environment list, the global rank ids,
// and the matching device binding for this host. envs[i], ranks[i], and
// devs[i] describe the same worker.
func workerEnvs(j *job.Job, tbl *ranktable.RankTable) ([][]string, []int, []int, error) {
	if len(j.Entrypoint) == 0 {
		return nil, nil, nil, fmt.Errorf("job %s has no entrypoint", j.ID)
	}

	// Conversion runs are a single process with no distributed identity
	// and no device binding.
	if j.Kind == job.KindConvert {
		return [][]string{baseEnv()}, []int{0}, nil, nil
	}

	if len(j.Devices) == 0 {
		return nil, nil, nil, fmt.Errorf("job %s has no devices assigned", j.ID)
	}

	if j.Bootstrap == job.BootstrapDynamic {
		envs := make([][]string, len(j.Devices))
		ranks := make([]int, len(j.Devices))
		for i, dev := range j.Devices {
			ranks[i] = i
			envs[i] = WorkerEnv{
				Rank:       i,
				Device:     dev,
				RankSize:   j.RankSize,
				LocalNum:   len(j.Devices),
				Bootstrap:  job.BootstrapDynamic,
				MasterAddr: j.MasterAddr,
				MasterPort: j.MasterPort,
				Role:       RoleWorker,
			}.Build()
		}
		return envs, ranks, append([]int(nil), j.Devices...), nil
	}

	if tbl == nil {
		return nil, nil, nil, fmt.Errorf("rank table bootstrap requires a rank table")
	}
	localRanks, err := tbl.LocalRanks(j.ServerID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(localRanks) == 0 {
		return nil, nil, nil, fmt.Errorf("server %s hosts no devices in the rank table", j.ServerID)
	}
	if err := validateWorkerCount(j, localRanks); err != nil {
		return nil, nil, nil, err
	}
	serverIndex := 0
	for i, id := range tbl.ServerIDs() {
		if id == j.ServerID {
			serverIndex = i
			break
		}
	}

	selected := make(map[int]bool, len(j.Devices))
	for _, dev := range j.Devices {
		selected[dev] = true
	}

	// The table binds each rank to the device carrying its device_ip.
	// LocalRanks sorts while the table file orders devices freely, so
	// the device must come from the rank's own table entry, never from
	// positional pairing.
	envs := make([][]string, len(localRanks))
	devs := make([]int, len(localRanks))
	for i, rank := range localRanks {
		_, dev, ok := tbl.FindRank(rank)
		if !ok {
			return nil, nil, nil, fmt.Errorf("rank %d missing from rank table", rank)
		}
		devID, convErr := strconv.Atoi(dev.DeviceID)
		if convErr != nil {
			return nil, nil, nil, fmt.Errorf("rank %d: invalid device id %q in rank table", rank, dev.DeviceID)
		}
		if !selected[devID] {
			return nil, nil, nil, fmt.Errorf(
				"rank %d is bound to device %d in the rank table but that device was not selected",
				rank, devID)
		}
		devs[i] = devID
		envs[i] = WorkerEnv{
			Rank:          rank,
			Device:        devID,
			RankSize:      j.RankSize,
			LocalNum:      len(j.Devices),
			ServerIndex:   serverIndex,
			RankTablePath: j.RankTablePath,
			Bootstrap:     job.BootstrapRankTable,
		}.Build()
	}
	return envs, localRanks, devs, nil
}

// fail finalizes the record as failed and returns the original error.
func (l *ProcessLauncher) fail(j *job.Job, cause error) error {
	if err := l.finish(j, job.StateFailed, 0, cause.Error()); err != nil {
		logger.Warn("Failed to record job failure: %v", err)
	}
	return cause
}

// finish writes the terminal state onto the record.
func (l *ProcessLauncher) finish(j *job.Job, state job.State, code int, reason string) error {
	return finishJob(l.store, j, state, code, reason)
}

// finishJob writes a terminal state onto the record.
//
// A stop requested through another process signals the group and records
// the job as stopped; the supervising launcher then observes its workers
// dying with SIGTERM and would record failed. The reload keeps the stop
// marker in that race: the signal-caused failure is not a failure.
func finishJob(store *job.Store, j *job.Job, state job.State, code int, reason string) error {
	if state == job.StateFailed {
		if cur, err := store.Get(j.ID); err == nil && cur.State == job.StateStopped {
			*j = *cur
			return nil
		}
	}
	j.State = state
	j.ExitCode = code
	j.Error = reason
	j.FinishedAt = time.Now()
	return store.Save(j)
}

// StopJob terminates a running process or mpi mode job from outside its
// supervising launcher and records it as stopped.
//
// The process group is signalled and given grace to drain. The record is
// reloaded afterwards so a FinishedAt already written by the supervisor
// survives; the state is forced to stopped either way because that is
// what the caller asked for.
func StopJob(store *job.Store, j *job.Job, grace time.Duration) error {
	if j.Mode == job.ModeDocker {
		return fmt.Errorf("job %s runs in docker mode, stop it through the docker launcher", j.ID)
	}
	if j.State != job.StateRunning {
		return fmt.Errorf("job %s is not running (state %s)", j.ID, j.State)
	}
	if j.PGID <= 0 {
		return fmt.Errorf("job %s has no recorded process group", j.ID)
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	StopProcessGroup(j.PGID, grace)

	if cur, err := store.Get(j.ID); err == nil {
		*j = *cur
	}
	j.State = job.StateStopped
	j.Error = ""
	if j.FinishedAt.IsZero() {
		j.FinishedAt = time.Now()
	}
	return store.Save(j)
}

// StopProcessGroup sends SIGTERM to the group, waits up to grace for it
// to drain, then SIGKILLs whatever is left.
func StopProcessGroup(pgid int, grace time.Duration) {
	if pgid <= 0 {
		return
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		logger.Warn("Failed to signal process group %d: %v", pgid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(-pgid, 0); errors.Is(err, syscall.ESRCH) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	logger.Warn("Process group %d did not exit within %s, sending SIGKILL", pgid, grace)
	syscall.Kill(-pgid, syscall.SIGKILL)
}

// drain consumes outstanding worker results after a kill so their
// goroutines can exit.
func drain(results <-chan workerResult, remaining int) {
	for remaining > 0 {
		res := <-results
		if res.rank >= 0 {
			remaining--
		}
	}
}

// exitCode extracts the exit code from a finished command. Signalled
// processes report 128 plus the signal number, matching shell behavior.
func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
