package launcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

func preflightJob() *job.Job {
	return &job.Job{
		ID:         "pf-aaaa1111",
		Mode:       job.ModeProcess,
		Bootstrap:  job.BootstrapDynamic,
		RankSize:   1,
		Devices:    []int{0},
		Entrypoint: []string{"sh", "-c", "true"},
	}
}

func TestPreflightPasses(t *testing.T) {
	// No accelerators and no busy map only produces warnings.
	err := Preflight(preflightJob(), nil, nil, nil)
	assert.NoError(t, err)
}

func TestPreflightMissingEntrypoint(t *testing.T) {
	j := preflightJob()
	j.Entrypoint = nil
	err := Preflight(j, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entrypoint")

	j.Entrypoint = []string{"definitely-not-a-real-binary-8861"}
	err = Preflight(j, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in PATH")
}

func TestPreflightDockerSkipsPathLookup(t *testing.T) {
	j := preflightJob()
	j.Mode = job.ModeDocker
	j.Image = "mindformers:latest"
	j.Entrypoint = []string{"python-only-inside-the-image"}
	assert.NoError(t, Preflight(j, nil, nil, nil))
}

func TestPreflightMissingPaths(t *testing.T) {
	j := preflightJob()
	j.DatasetPath = filepath.Join(t.TempDir(), "no-such-dataset")
	err := Preflight(j, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset path")
}

func TestPreflightBusyDevice(t *testing.T) {
	j := preflightJob()
	busy := map[int]string{0: "other-job-bbbb2222"}
	err := Preflight(j, nil, nil, busy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "held by running job other-job-bbbb2222")
}

func TestPreflightDuplicateDevice(t *testing.T) {
	j := preflightJob()
	j.Devices = []int{2, 2}
	err := Preflight(j, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selected twice")
}

func TestPreflightRankTableChecks(t *testing.T) {
	tbl := &ranktable.RankTable{
		Version:     ranktable.Version,
		ServerCount: "1",
		ServerList: []ranktable.Server{
			{
				ServerID: "90.90.66.30",
				Device: []ranktable.Device{
					{DeviceID: "0", RankID: "0"},
				},
			},
		},
		Status: ranktable.StatusCompleted,
	}

	j := preflightJob()
	j.Bootstrap = job.BootstrapRankTable
	j.ServerID = "90.90.66.30"
	j.RankSize = 1
	assert.NoError(t, Preflight(j, tbl, nil, nil))

	// Wrong total rank count.
	j.RankSize = 8
	err := Preflight(j, tbl, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match rank table")

	// Unknown server.
	j.RankSize = 1
	j.ServerID = "10.9.9.9"
	err = Preflight(j, tbl, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in rank table")
}

func TestPreflightMPIIgnoresDevices(t *testing.T) {
	j := preflightJob()
	j.Mode = job.ModeMPI
	j.Devices = nil
	assert.NoError(t, Preflight(j, nil, nil, nil))
}
