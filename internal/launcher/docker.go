package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/zhenhua32/mindformers/internal/device"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// Container labels identifying job containers on the engine.
const (
	LabelJobID  = "xformer.job.id"
	LabelRank   = "xformer.rank"
	LabelDevice = "xformer.device"
)

// DockerLauncher runs one container per local rank through the Docker
// engine.
//
// Containers share the host network and IPC namespace so HCCL device
// communication and the rank table's device IPs work unchanged. The
// engine keeps containers alive independently of this process, which
// makes docker mode the natural choice for detached multi-day runs.
type DockerLauncher struct {
	client *client.Client
	store  *job.Store
	grace  time.Duration
}

// NewDockerLauncher connects to the Docker engine and verifies it is
// reachable. Engine location honors DOCKER_HOST and friends.
func NewDockerLauncher(store *job.Store, grace time.Duration) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon is not accessible: %w", err)
	}

	if grace <= 0 {
		grace = DefaultGrace
	}
	return &DockerLauncher{client: cli, store: store, grace: grace}, nil
}

// Close releases the engine connection.
func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

// deviceMappings exposes the per-rank chip plus the shared management
// devices every Ascend container needs.
func deviceMappings(deviceID int) []container.DeviceMapping {
	paths := []string{
		fmt.Sprintf("%s%d", device.DevDavinciPrefix, deviceID),
		device.DevDavinciManager,
		device.DevDevmmSvm,
		device.DevHisiHdc,
	}
	mappings := make([]container.DeviceMapping, 0, len(paths))
	for _, p := range paths {
		mappings = append(mappings, container.DeviceMapping{
			PathOnHost:        p,
			PathInContainer:   p,
			CgroupPermissions: "rwm",
		})
	}
	return mappings
}

// driverMounts binds the host driver stack read-only into the container.
func driverMounts() []mount.Mount {
	readOnly := []string{
		"/usr/local/dcmi",
		"/usr/local/bin/npu-smi",
		device.DriverDir + "/lib64",
		device.DriverDir + "/version.info",
		"/etc/ascend_install.info",
	}
	mounts := make([]mount.Mount, 0, len(readOnly))
	for _, p := range readOnly {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   p,
			Target:   p,
			ReadOnly: true,
		})
	}
	return mounts
}

// jobMounts binds the job's inputs at their host paths so the worker
// environment needs no path translation.
func jobMounts(j *job.Job) []mount.Mount {
	var mounts []mount.Mount
	add := func(path string, readOnly bool) {
		if path == "" {
			return
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   path,
			Target:   path,
			ReadOnly: readOnly,
		})
	}
	add(j.RankTablePath, true)
	add(j.ConfigPath, true)
	add(j.DatasetPath, true)
	add(j.WorkDir, false)
	add(j.LogDir, false)
	return mounts
}

// containerName derives a stable engine name for one rank of a job.
func containerName(jobID string, rank int) string {
	return fmt.Sprintf("%s-rank%d", jobID, rank)
}

// Run creates and starts one container per local rank, then blocks
// until all of them exit. The job record carries the engine container
// ids so stop, logs, and refresh work from other processes.
func (l *DockerLauncher) Run(ctx context.Context, j *job.Job, opts RunOptions) error {
	if j.Image == "" {
		return l.fail(j, fmt.Errorf("docker mode requires an image"))
	}
	envs, ranks, devs, err := workerEnvs(j, opts.Table)
	if err != nil {
		return l.fail(j, err)
	}
	if len(devs) != len(ranks) {
		return l.fail(j, fmt.Errorf("job %s has no device bindings for container launch", j.ID))
	}
	j.Ranks = ranks

	logDir, err := l.store.LogDirFor(j.ID)
	if err != nil {
		return l.fail(j, err)
	}
	j.LogDir = logDir

	boolTrue := true
	for i, env := range envs {
		rank := ranks[i]
		labels := map[string]string{
			LabelJobID:  j.ID,
			LabelRank:   strconv.Itoa(rank),
			LabelDevice: strconv.Itoa(devs[i]),
		}
		cfg := &container.Config{
			Image:      j.Image,
			Cmd:        j.Entrypoint,
			Env:        mergeEnv(env, j.Env),
			WorkingDir: j.WorkDir,
			Labels:     labels,
		}
		hostCfg := &container.HostConfig{
			Resources: container.Resources{
				Devices: deviceMappings(devs[i]),
			},
			Mounts: append(driverMounts(), jobMounts(j)...),
			// Host network and IPC keep HCCL's device IPs and shared
			// memory reachable from inside the container.
			NetworkMode: "host",
			IpcMode:     "host",
			Privileged:  true,
			Runtime:     "runc",
			Init:        &boolTrue,
		}

		resp, err := l.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(j.ID, rank))
		if err != nil {
			l.removeContainers(context.Background(), j)
			return l.fail(j, fmt.Errorf("failed to create container for rank %d: %w", rank, err))
		}
		j.ContainerIDs = append(j.ContainerIDs, resp.ID)
		logger.Debug("Created container %s for rank %d of job %s", resp.ID[:12], rank, j.ID)
	}

	for i, id := range j.ContainerIDs {
		if err := l.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			l.removeContainers(context.Background(), j)
			return l.fail(j, fmt.Errorf("failed to start container for rank %d: %w", ranks[i], err))
		}
	}

	j.State = job.StateRunning
	j.StartedAt = time.Now()
	if err := l.store.Save(j); err != nil {
		l.removeContainers(context.Background(), j)
		return err
	}
	logger.Info("Job %s running: %d container(s) on image %s", j.ID, len(j.ContainerIDs), j.Image)

	return l.waitContainers(ctx, j, ranks)
}

// waitContainers blocks until every container exits, terminating the
// rest on first failure or cancellation.
func (l *DockerLauncher) waitContainers(ctx context.Context, j *job.Job, ranks []int) error {
	results := make(chan workerResult, len(j.ContainerIDs))
	for i, id := range j.ContainerIDs {
		rank := ranks[i]
		go func(containerID string) {
			// Background context: cancellation is handled in the select
			// below so a stopped job still collects exit codes.
			statusCh, errCh := l.client.ContainerWait(context.Background(), containerID, container.WaitConditionNotRunning)
			select {
			case status := <-statusCh:
				results <- workerResult{rank: rank, code: int(status.StatusCode)}
			case err := <-errCh:
				results <- workerResult{rank: rank, code: 1, err: err}
			}
		}(id)
	}

	remaining := len(j.ContainerIDs)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			logger.Info("Stopping job %s", j.ID)
			l.stopContainers(context.Background(), j)
			drain(results, remaining)
			return l.finish(j, job.StateStopped, 0, "")

		case res := <-results:
			remaining--
			if res.err != nil {
				reason := fmt.Sprintf("waiting on rank %d failed: %v", res.rank, res.err)
				l.stopContainers(context.Background(), j)
				drain(results, remaining)
				if err := l.finish(j, job.StateFailed, res.code, reason); err != nil {
					return err
				}
				return errors.New(reason)
			}
			if res.code != 0 {
				reason := fmt.Sprintf("rank %d exited with code %d", res.rank, res.code)
				logger.Error("Job %s: %s, stopping remaining containers", j.ID, reason)
				l.stopContainers(context.Background(), j)
				drain(results, remaining)
				if err := l.finish(j, job.StateFailed, res.code, reason); err != nil {
					return err
				}
				return errors.New(reason)
			}
			logger.Debug("Rank %d of job %s finished", res.rank, j.ID)
		}
	}

	logger.Info("Job %s succeeded", j.ID)
	return l.finish(j, job.StateSucceeded, 0, "")
}

// Stop gracefully stops every container of a job and marks it stopped.
func (l *DockerLauncher) Stop(ctx context.Context, j *job.Job, grace time.Duration) error {
	if grace <= 0 {
		grace = l.grace
	}
	timeout := int(grace.Seconds())
	var firstErr error
	for _, id := range j.ContainerIDs {
		if err := l.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to stop container %s: %w", id[:12], err)
			}
			logger.Warn("Failed to stop container %s: %v", id[:12], err)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return l.finish(j, job.StateStopped, 0, "")
}

// stopContainers stops without touching the record, used on the failure
// paths where finish runs afterwards.
func (l *DockerLauncher) stopContainers(ctx context.Context, j *job.Job) {
	timeout := int(l.grace.Seconds())
	for _, id := range j.ContainerIDs {
		if err := l.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			logger.Warn("Failed to stop container %s: %v", id[:12], err)
		}
	}
}

// Remove deletes the job's containers from the engine. Missing
// containers are ignored so Remove is safe to retry.
func (l *DockerLauncher) Remove(ctx context.Context, j *job.Job) error {
	l.removeContainers(ctx, j)
	j.ContainerIDs = nil
	return l.store.Save(j)
}

func (l *DockerLauncher) removeContainers(ctx context.Context, j *job.Job) {
	for _, id := range j.ContainerIDs {
		err := l.client.ContainerRemove(ctx, id, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
		if err != nil && !client.IsErrNotFound(err) {
			logger.Warn("Failed to remove container %s: %v", id[:12], err)
		}
	}
}

// Logs streams one rank's container output. The engine multiplexes
// stdout and stderr, so the stream is demuxed before returning.
func (l *DockerLauncher) Logs(ctx context.Context, j *job.Job, rank int, follow bool, tail string) (io.ReadCloser, error) {
	idx := -1
	for i, r := range j.Ranks {
		if r == rank {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(j.ContainerIDs) {
		return nil, fmt.Errorf("job %s has no container for rank %d", j.ID, rank)
	}
	if tail == "" {
		tail = "all"
	}

	reader, err := l.client.ContainerLogs(ctx, j.ContainerIDs[idx], container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		reader.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// Refresh reconciles a running docker job with actual container states.
// Returns true when the record changed.
func (l *DockerLauncher) Refresh(ctx context.Context, j *job.Job) (bool, error) {
	if j.Mode != job.ModeDocker || j.State != job.StateRunning {
		return false, nil
	}

	allExited := true
	exitCode := 0
	for _, id := range j.ContainerIDs {
		inspect, err := l.client.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				// Container removed behind our back, treat as exited.
				continue
			}
			return false, fmt.Errorf("failed to inspect container %s: %w", id[:12], err)
		}
		if inspect.State != nil && inspect.State.Running {
			allExited = false
			break
		}
		if inspect.State != nil && inspect.State.ExitCode != 0 && exitCode == 0 {
			exitCode = inspect.State.ExitCode
		}
	}
	if !allExited {
		return false, nil
	}

	state := job.StateSucceeded
	reason := ""
	if exitCode != 0 {
		state = job.StateFailed
		reason = fmt.Sprintf("container exited with code %d", exitCode)
	}
	if err := l.finish(j, state, exitCode, reason); err != nil {
		return false, err
	}
	logger.Info("Job %s containers exited, marked %s", j.ID, state)
	return true, nil
}

func (l *DockerLauncher) fail(j *job.Job, cause error) error {
	if err := l.finish(j, job.StateFailed, 0, cause.Error()); err != nil {
		logger.Warn("Failed to record job failure: %v", err)
	}
	return cause
}

func (l *DockerLauncher) finish(j *job.Job, state job.State, code int, reason string) error {
	return finishJob(l.store, j, state, code, reason)
}

// EnsureImage checks the image exists locally, pulling it when missing.
// Pull progress is discarded, only the outcome is logged.
func (l *DockerLauncher) EnsureImage(ctx context.Context, imageName string) error {
	if imageName == "" {
		return fmt.Errorf("image name cannot be empty")
	}

	_, err := l.client.ImageInspect(ctx, imageName)
	if err == nil {
		logger.Debug("Docker image found locally: %s", imageName)
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to check Docker image: %w", err)
	}

	logger.Info("Pulling Docker image: %s", imageName)
	reader, err := l.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("image pull interrupted: %w", err)
	}
	logger.Info("Docker image ready: %s", imageName)
	return nil
}
