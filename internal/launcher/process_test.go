package launcher

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

func newTestStore(t *testing.T) *job.Store {
	t.Helper()
	base := t.TempDir()
	s, err := job.NewStore(filepath.Join(base, "jobs"), filepath.Join(base, "logs"))
	require.NoError(t, err)
	return s
}

func dynamicJob(id string, entrypoint ...string) *job.Job {
	return &job.Job{
		ID:         id,
		Name:       "test",
		Kind:       job.KindTrain,
		Mode:       job.ModeProcess,
		Bootstrap:  job.BootstrapDynamic,
		RankSize:   1,
		Devices:    []int{0},
		Entrypoint: entrypoint,
	}
}

func TestProcessRunSucceeds(t *testing.T) {
	store := newTestStore(t)
	l := NewProcessLauncher(store, 2*time.Second)

	j := dynamicJob("ok-aaaa1111", "sh", "-c", "echo training step 1; exit 0")
	require.NoError(t, store.Create(j))

	err := l.Run(context.Background(), j, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, j.State)
	assert.Equal(t, 0, j.ExitCode)
	assert.False(t, j.StartedAt.IsZero())
	assert.False(t, j.FinishedAt.IsZero())
	assert.Equal(t, []int{0}, j.Ranks)

	// Worker output lands in the rank log.
	data, err := os.ReadFile(store.RankLogPath(j.ID, 0))
	require.NoError(t, err)
	assert.Contains(t, string(data), "training step 1")

	// The persisted record matches.
	got, err := store.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, got.State)
	assert.True(t, got.PGID > 0)
}

func TestProcessRunSchedulerStoppedAfterSuccess(t *testing.T) {
	store := newTestStore(t)
	l := NewProcessLauncher(store, 2*time.Second)

	// The scheduler would idle long after the workers are done; the
	// launcher has to take it down with the job.
	j := dynamicJob("sched-aaaa1111",
		"sh", "-c", `if [ "$MS_ROLE" = "MS_SCHED" ]; then sleep 30; fi`)
	j.MasterAddr = "127.0.0.1"
	j.MasterPort = 18118
	require.NoError(t, store.Create(j))

	start := time.Now()
	err := l.Run(context.Background(), j, RunOptions{StartScheduler: true})
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, j.State)
	assert.Less(t, time.Since(start), 10*time.Second)

	// The whole process group, scheduler included, is gone.
	killErr := syscall.Kill(-j.PGID, 0)
	assert.ErrorIs(t, killErr, syscall.ESRCH)
}

func TestProcessRunWorkerFails(t *testing.T) {
	store := newTestStore(t)
	l := NewProcessLauncher(store, 2*time.Second)

	j := dynamicJob("bad-aaaa1111", "sh", "-c", "exit 7")
	require.NoError(t, store.Create(j))

	err := l.Run(context.Background(), j, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 7")
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, 7, j.ExitCode)
}

func TestProcessRunStopped(t *testing.T) {
	store := newTestStore(t)
	l := NewProcessLauncher(store, 2*time.Second)

	j := dynamicJob("stop-aaaa1111", "sleep", "30")
	require.NoError(t, store.Create(j))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := l.Run(ctx, j, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, job.StateStopped, j.State)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestProcessRunMissingEntrypoint(t *testing.T) {
	store := newTestStore(t)
	l := NewProcessLauncher(store, time.Second)

	j := dynamicJob("none-aaaa1111")
	require.NoError(t, store.Create(j))

	err := l.Run(context.Background(), j, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entrypoint")
	assert.Equal(t, job.StateFailed, j.State)
}

func TestWorkerEnvsRankTable(t *testing.T) {
	tbl := &ranktable.RankTable{
		Version:     ranktable.Version,
		ServerCount: "2",
		ServerList: []ranktable.Server{
			{
				ServerID: "90.90.66.30",
				Device: []ranktable.Device{
					{DeviceID: "0", DeviceIP: "192.98.92.10", RankID: "0"},
					{DeviceID: "1", DeviceIP: "192.98.92.11", RankID: "1"},
				},
			},
			{
				ServerID: "90.90.66.31",
				Device: []ranktable.Device{
					{DeviceID: "0", DeviceIP: "192.98.93.10", RankID: "2"},
					{DeviceID: "1", DeviceIP: "192.98.93.11", RankID: "3"},
				},
			},
		},
		Status: ranktable.StatusCompleted,
	}

	j := &job.Job{
		ID:            "multi-aaaa1111",
		Mode:          job.ModeProcess,
		Bootstrap:     job.BootstrapRankTable,
		ServerID:      "90.90.66.31",
		RankSize:      4,
		Devices:       []int{0, 1},
		RankTablePath: "/tmp/hccl_4p.json",
		Entrypoint:    []string{"python3", "train.py"},
	}

	envs, ranks, devs, err := workerEnvs(j, tbl)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, []int{2, 3}, ranks)
	assert.Equal(t, []int{0, 1}, devs)

	assert.Contains(t, envs[0], "RANK_ID=2")
	assert.Contains(t, envs[0], "DEVICE_ID=0")
	assert.Contains(t, envs[1], "RANK_ID=3")
	assert.Contains(t, envs[1], "DEVICE_ID=1")
	for _, env := range envs {
		assert.Contains(t, env, "RANK_SIZE=4")
		assert.Contains(t, env, "SERVER_ID=1")
		assert.Contains(t, env, "DEVICE_NUM=2")
	}
}

func TestWorkerEnvsNonMonotoneTable(t *testing.T) {
	// A valid table may bind ranks to devices in any order (hand-edited
	// or generated by other tooling); device 0 carries rank 1 here. The
	// worker env must follow each rank's own table entry.
	tbl := &ranktable.RankTable{
		Version:     ranktable.Version,
		ServerCount: "1",
		ServerList: []ranktable.Server{
			{
				ServerID: "90.90.66.30",
				Device: []ranktable.Device{
					{DeviceID: "0", DeviceIP: "192.98.92.10", RankID: "1"},
					{DeviceID: "1", DeviceIP: "192.98.92.11", RankID: "0"},
				},
			},
		},
		Status: ranktable.StatusCompleted,
	}
	require.NoError(t, tbl.Validate())

	j := &job.Job{
		ID:            "twist-aaaa1111",
		Mode:          job.ModeProcess,
		Bootstrap:     job.BootstrapRankTable,
		ServerID:      "90.90.66.30",
		RankSize:      2,
		Devices:       []int{0, 1},
		RankTablePath: "/tmp/hccl_2p.json",
		Entrypoint:    []string{"python3", "train.py"},
	}

	envs, ranks, devs, err := workerEnvs(j, tbl)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ranks)

	// Rank 0 lives on device 1 and rank 1 on device 0.
	assert.Equal(t, []int{1, 0}, devs)
	assert.Contains(t, envs[0], "RANK_ID=0")
	assert.Contains(t, envs[0], "DEVICE_ID=1")
	assert.Contains(t, envs[1], "RANK_ID=1")
	assert.Contains(t, envs[1], "DEVICE_ID=0")

	// Selecting devices the table does not bind these ranks to is an
	// error, not a silent remap.
	j.Devices = []int{2, 3}
	_, _, _, err = workerEnvs(j, tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was not selected")
}

func TestWorkerEnvsMismatch(t *testing.T) {
	tbl := &ranktable.RankTable{
		Version:     ranktable.Version,
		ServerCount: "1",
		ServerList: []ranktable.Server{
			{
				ServerID: "90.90.66.30",
				Device: []ranktable.Device{
					{DeviceID: "0", RankID: "0"},
					{DeviceID: "1", RankID: "1"},
				},
			},
		},
		Status: ranktable.StatusCompleted,
	}

	// Two ranks in the table, one device selected.
	j := &job.Job{
		ID:         "short-aaaa1111",
		Bootstrap:  job.BootstrapRankTable,
		ServerID:   "90.90.66.30",
		RankSize:   2,
		Devices:    []int{0},
		Entrypoint: []string{"python3"},
	}
	_, _, _, err := workerEnvs(j, tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 ranks")

	// Unknown server id.
	j.Devices = []int{0, 1}
	j.ServerID = "10.0.0.99"
	_, _, _, err = workerEnvs(j, tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in rank table")

	// Missing table in rank table mode.
	_, _, _, err = workerEnvs(j, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a rank table")
}

func TestStopProcessGroupGone(t *testing.T) {
	// Signalling a long-gone group returns promptly.
	start := time.Now()
	StopProcessGroup(999999, 5*time.Second)
	assert.Less(t, time.Since(start), time.Second)
}
