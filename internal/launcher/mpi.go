package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// MPIBinary is the launcher executable mpi mode shells out to.
const MPIBinary = "mpirun"

// MPILauncher delegates worker placement to mpirun.
//
// Unlike process mode there is a single local child, the mpirun process
// itself, which fans out over the hostfile. Worker output is collected
// by mpirun's own per-rank log tree under the job log directory.
type MPILauncher struct {
	store *job.Store
	grace time.Duration
}

// NewMPILauncher creates an mpi launcher backed by the given store.
func NewMPILauncher(store *job.Store, grace time.Duration) *MPILauncher {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &MPILauncher{store: store, grace: grace}
}

// BuildMPIArgs assembles the mpirun argument vector for a job.
//
// The generated command runs rank_size copies of the entrypoint across
// the hostfile, merges each rank's stderr into stdout, and writes
// per-rank logs under logDir. Environment keys listed in forward are
// exported to the remote ranks with -x.
func BuildMPIArgs(j *job.Job, hostfilePath, logDir string, forward []string) []string {
	args := []string{
		"--allow-run-as-root",
		"-n", fmt.Sprintf("%d", j.RankSize),
	}
	if hostfilePath != "" {
		args = append(args, "--hostfile", hostfilePath)
	}
	args = append(args,
		"--output-filename", logDir,
		"--merge-stderr-to-stdout",
	)
	for _, key := range forward {
		args = append(args, "-x", key)
	}
	return append(args, j.Entrypoint...)
}

// ForwardKeys lists the environment variables exported to remote ranks:
// the shared log defaults plus the keys of the job's extra environment.
func ForwardKeys(j *job.Job) []string {
	keys := make([]string, 0, 3+len(j.Env))
	for _, kv := range baseEnv() {
		keys = append(keys, envKey(kv))
	}
	for _, kv := range j.Env {
		keys = append(keys, envKey(kv))
	}
	return keys
}

// CommandLine renders the full mpirun invocation for dry runs.
func CommandLine(j *job.Job, hostfilePath, logDir string) string {
	parts := append([]string{MPIBinary}, BuildMPIArgs(j, hostfilePath, logDir, ForwardKeys(j))...)
	return strings.Join(parts, " ")
}

// Run launches mpirun and blocks until it exits, finalizing the job
// record the same way process mode does.
func (l *MPILauncher) Run(ctx context.Context, j *job.Job, hostfilePath string) error {
	if len(j.Entrypoint) == 0 {
		return l.fail(j, fmt.Errorf("job %s has no entrypoint", j.ID))
	}
	if _, err := exec.LookPath(MPIBinary); err != nil {
		return l.fail(j, fmt.Errorf("%s not found in PATH: %w", MPIBinary, err))
	}

	logDir, err := l.store.LogDirFor(j.ID)
	if err != nil {
		return l.fail(j, err)
	}
	j.LogDir = logDir

	logPath := l.store.RankLogPath(j.ID, 0)
	logFile, err := os.Create(logPath)
	if err != nil {
		return l.fail(j, fmt.Errorf("failed to create log file %s: %w", logPath, err))
	}
	defer logFile.Close()

	args := BuildMPIArgs(j, hostfilePath, logDir, ForwardKeys(j))
	logger.Debug("Launching: %s %v", MPIBinary, args)

	cmd := exec.Command(MPIBinary, args...)
	cmd.Dir = j.WorkDir
	cmd.Env = mergeEnv(append(os.Environ(), baseEnv()...), j.Env)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return l.fail(j, fmt.Errorf("failed to start %s: %w", MPIBinary, err))
	}

	j.PGID = cmd.Process.Pid
	j.State = job.StateRunning
	j.StartedAt = time.Now()
	if err := l.store.Save(j); err != nil {
		StopProcessGroup(j.PGID, l.grace)
		return err
	}
	logger.Info("Job %s running under %s, %d rank(s), pid %d", j.ID, MPIBinary, j.RankSize, cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		logger.Info("Stopping job %s", j.ID)
		StopProcessGroup(j.PGID, l.grace)
		<-done
		return l.finish(j, job.StateStopped, 0, "")
	case err := <-done:
		code := exitCode(cmd, err)
		if code != 0 {
			reason := fmt.Sprintf("%s exited with code %d", MPIBinary, code)
			if ferr := l.finish(j, job.StateFailed, code, reason); ferr != nil {
				return ferr
			}
			return errors.New(reason)
		}
		logger.Info("Job %s succeeded", j.ID)
		return l.finish(j, job.StateSucceeded, 0, "")
	}
}

func (l *MPILauncher) fail(j *job.Job, cause error) error {
	if err := l.finish(j, job.StateFailed, 0, cause.Error()); err != nil {
		logger.Warn("Failed to record job failure: %v", err)
	}
	return cause
}

func (l *MPILauncher) finish(j *job.Job, state job.State, code int, reason string) error {
	return finishJob(l.store, j, state, code, reason)
}
