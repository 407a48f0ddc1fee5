package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/job"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewDefaultConfig()
	cfg.Storage.ConfigDir = dir
	cfg.Storage.DataDir = filepath.Join(dir, "data")

	srv, err := NewServer(cfg, "test")
	require.NoError(t, err)

	ts := httptest.NewServer(srv.loggingMiddleware(srv.buildRouter()))
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestRoutes(t *testing.T) {
	srv, ts := newTestServer(t)

	require.NoError(t, srv.store.Create(&job.Job{
		ID:    "routed-0001",
		Name:  "routed",
		Kind:  job.KindTrain,
		Mode:  job.ModeProcess,
		State: job.StateSucceeded,
	}))

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/version", http.StatusOK},
		{http.MethodGet, "/api/jobs", http.StatusOK},
		{http.MethodGet, "/api/jobs/routed-0001", http.StatusOK},
		{http.MethodGet, "/api/jobs/missing", http.StatusNotFound},
		{http.MethodGet, "/api/models", http.StatusOK},
		{http.MethodGet, "/api/devices", http.StatusOK},
		// Wrong method on a registered path
		{http.MethodPost, "/api/jobs", http.StatusMethodNotAllowed},
	}

	client := ts.Client()
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.status, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestBootstrapFinalizesOrphans(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Storage.ConfigDir = dir
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	require.NoError(t, cfg.EnsureDirectories())

	store, err := job.NewStore(cfg.Storage.GetJobsDir(), cfg.Storage.GetLogsDir())
	require.NoError(t, err)

	// A short-lived process leaves behind a dead, reaped process group.
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	deadPGID := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	require.NoError(t, store.Create(&job.Job{
		ID:    "orphan-0001",
		Name:  "orphan",
		Kind:  job.KindTrain,
		Mode:  job.ModeProcess,
		State: job.StateRunning,
		PGID:  deadPGID,
	}))

	store2, err := Bootstrap(cfg)
	require.NoError(t, err)

	j, err := store2.Get("orphan-0001")
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, j.State)
	assert.NotEmpty(t, j.Error)
}

func TestStopWithoutStart(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Storage.ConfigDir = dir
	cfg.Storage.DataDir = filepath.Join(dir, "data")

	srv, err := NewServer(cfg, "test")
	require.NoError(t, err)
	assert.NoError(t, srv.Stop(t.Context()))
}

func TestVersionEndpointPayload(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	var v api.VersionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "test", v.Version)
	assert.NotEmpty(t, v.BuildTime)
}

func TestScheduleRetentionRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Storage.ConfigDir = dir
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Server.CleanupSchedule = "not a cron line"

	srv, err := NewServer(cfg, "test")
	require.NoError(t, err)

	err = srv.scheduleRetention()
	assert.Error(t, err)
}

func TestScheduleRetentionDisabled(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Storage.ConfigDir = dir
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Jobs.RetentionDays = 0

	srv, err := NewServer(cfg, "test")
	require.NoError(t, err)

	require.NoError(t, srv.scheduleRetention())
	assert.Nil(t, srv.cron)
}
