package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeMonitor(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, fn := range routes {
		mux.HandleFunc(pattern, fn)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/health": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		},
	})

	resp, err := NewClient(ts.URL).Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
}

func TestListJobs(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/jobs": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"jobs":[{"id":"a-1","name":"a","kind":"train","mode":"process","state":"running","rank_size":8,"exit_code":0,"created_at":"2026-01-01T00:00:00Z"}],"total":1}`))
		},
	})

	jobs, err := NewClient(ts.URL).ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a-1", jobs[0].ID)
	assert.Equal(t, "running", jobs[0].State)
	assert.Equal(t, 8, jobs[0].RankSize)
}

func TestGetJobNotFound(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/jobs/missing": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Job not found: missing"}`))
		},
	})

	_, err := NewClient(ts.URL).GetJob("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job not found: missing")
}

func TestStopJob(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/jobs/a-1/stop": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"state":"stopped"}`))
		},
	})

	state, err := NewClient(ts.URL).StopJob("a-1", 30)
	require.NoError(t, err)
	assert.Equal(t, "stopped", state)
}

func TestRemoveJobForce(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/jobs/a-1": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "true", r.URL.Query().Get("force"))
			w.WriteHeader(http.StatusNoContent)
		},
	})

	require.NoError(t, NewClient(ts.URL).RemoveJob("a-1", true))
}

func TestStreamJobLogs(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/jobs/a-1/logs": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "3", r.URL.Query().Get("rank"))
			assert.Equal(t, "true", r.URL.Query().Get("follow"))
			assert.Equal(t, "100", r.URL.Query().Get("tail"))
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("epoch 1 loss 2.31\nepoch 2 loss 2.07\n"))
		},
	})

	var sb strings.Builder
	err := NewClient(ts.URL).StreamJobLogs("a-1", 3, true, 100, func(chunk string) {
		sb.WriteString(chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "epoch 1 loss 2.31\nepoch 2 loss 2.07\n", sb.String())
}

func TestStreamJobLogsError(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/jobs/a-1/logs": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"No log recorded for rank 9 of job a-1"}`))
		},
	})

	err := NewClient(ts.URL).StreamJobLogs("a-1", 9, false, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No log recorded")
}

func TestConnectionRefusedMessage(t *testing.T) {
	// A port nothing listens on.
	_, err := NewClient("http://127.0.0.1:1").Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Is the monitor running?")
}

func TestListDevices(t *testing.T) {
	ts := newFakeMonitor(t, map[string]http.HandlerFunc{
		"/api/devices": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"devices":[{"id":0,"product":"Ascend 910B","busy":true,"job_id":"a-1"}]}`))
		},
	})

	devices, err := NewClient(ts.URL).ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Ascend 910B", devices[0].Product)
	assert.True(t, devices[0].Busy)
}
