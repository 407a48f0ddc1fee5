package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenhua32/mindformers/internal/job"
)

func newAppTestStore(t *testing.T) *job.Store {
	t.Helper()
	base := t.TempDir()
	s, err := job.NewStore(filepath.Join(base, "jobs"), filepath.Join(base, "logs"))
	require.NoError(t, err)
	return s
}

func TestRefreshDockerJobsSkipsNonContainerJobs(t *testing.T) {
	store := newAppTestStore(t)

	proc := &job.Job{
		ID:         "proc-aaaa1111",
		Name:       "proc",
		Kind:       job.KindTrain,
		Mode:       job.ModeProcess,
		State:      job.StateRunning,
		RankSize:   1,
		Entrypoint: []string{"sh"},
	}
	finished := &job.Job{
		ID:         "done-aaaa1111",
		Name:       "done",
		Kind:       job.KindTrain,
		Mode:       job.ModeDocker,
		State:      job.StateSucceeded,
		RankSize:   1,
		Entrypoint: []string{"sh"},
	}
	require.NoError(t, store.Create(proc))
	require.NoError(t, store.Create(finished))

	// Neither record is a running container job, so no engine connection
	// is attempted and both records stay untouched.
	refreshDockerJobs(store, []*job.Job{proc, finished})

	got, err := store.Get(proc.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, got.State)

	got, err = store.Get(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, got.State)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "3m", formatDuration(3*time.Minute+20*time.Second))
	assert.Equal(t, "5h", formatDuration(5*time.Hour))
	assert.Equal(t, "2d", formatDuration(49*time.Hour))
}
