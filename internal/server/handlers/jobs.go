// Package handlers - jobs.go implements the job tracking endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// logTailChunk bounds how far back a tail request reads from the end of
// a log file. Requests for more lines than fit are truncated.
const logTailChunk = 256 * 1024

// ListJobs handles requests to list tracked jobs.
//
// Job records are refreshed against live process state before listing,
// so jobs whose supervisor died show up as failed rather than running
// forever.
//
// HTTP Method: GET
// Endpoint: /api/jobs
//
// Response: 200 OK with ListJobsResponse JSON
//
//	{
//	  "jobs": [
//	    {
//	      "id": "llama-7b-pretrain-3f2a91c4",
//	      "name": "llama-7b-pretrain",
//	      "kind": "train",
//	      "mode": "process",
//	      "state": "running",
//	      "rank_size": 8,
//	      "devices": [0,1,2,3,4,5,6,7],
//	      ...
//	    }
//	  ],
//	  "total": 1
//	}
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.RefreshAll()
	if err != nil {
		h.WriteError(w, fmt.Sprintf("Failed to list jobs: %v", err), http.StatusInternalServerError)
		return
	}

	summaries := lo.Map(jobs, func(j *job.Job, _ int) api.JobSummary {
		return j.Summary()
	})

	h.WriteJSON(w, api.ListJobsResponse{
		Jobs:  summaries,
		Total: len(summaries),
	}, http.StatusOK)
}

// GetJob handles requests for a single job.
//
// The id path variable accepts a full job id, a unique id prefix, or a
// unique job name, matching what the CLI accepts.
//
// HTTP Method: GET
// Endpoint: /api/jobs/{id}
//
// Response: 200 OK with JobSummary JSON, 404 when no job matches.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.resolveJob(w, r)
	if !ok {
		return
	}
	if _, err := h.store.Refresh(j); err != nil {
		logger.Warn("Failed to refresh job %s: %v", j.ID, err)
	}
	h.WriteJSON(w, j.Summary(), http.StatusOK)
}

// JobLogs handles requests to read or stream a job's logs.
//
// For process and mpi mode jobs the per-rank log files are served
// directly. For docker mode jobs the container log stream is demuxed
// from the Docker daemon.
//
// HTTP Method: GET
// Endpoint: /api/jobs/{id}/logs
//
// Query parameters:
//   - rank: Global rank whose log to read (default: first local rank)
//   - tail: Only return the last N lines (default: whole log)
//   - follow: Keep the connection open and stream appended output
//
// Response: 200 OK with text/plain log content. With follow the
// response is chunked and ends when the client disconnects or the job
// reaches a terminal state.
func (h *Handler) JobLogs(w http.ResponseWriter, r *http.Request) {
	j, ok := h.resolveJob(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	follow := q.Get("follow") == "true" || q.Get("follow") == "1"
	tail, err := parseIntParam(q.Get("tail"), 0)
	if err != nil {
		h.WriteError(w, fmt.Sprintf("Invalid tail parameter: %v", err), http.StatusBadRequest)
		return
	}

	defaultRank := 0
	if len(j.Ranks) > 0 {
		defaultRank = j.Ranks[0]
	}
	rank, err := parseIntParam(q.Get("rank"), defaultRank)
	if err != nil {
		h.WriteError(w, fmt.Sprintf("Invalid rank parameter: %v", err), http.StatusBadRequest)
		return
	}

	if j.Mode == job.ModeDocker {
		h.streamDockerLogs(w, r, j, rank, follow, tail)
		return
	}

	// mpirun collects every rank into one merged stream.
	if j.Mode == job.ModeMPI {
		rank = 0
	} else if len(j.Ranks) > 0 && !lo.Contains(j.Ranks, rank) {
		h.WriteError(w, fmt.Sprintf("Rank %d did not run on this host (local ranks: %v)", rank, j.Ranks), http.StatusBadRequest)
		return
	}

	path := h.store.RankLogPath(j.ID, rank)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			h.WriteError(w, fmt.Sprintf("No log recorded for rank %d of job %s", rank, j.ID), http.StatusNotFound)
			return
		}
		h.WriteError(w, fmt.Sprintf("Failed to open log: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if tail > 0 {
		if err := seekToTail(f, tail); err != nil {
			logger.Warn("Failed to seek log %s: %v", path, err)
		}
	}
	if _, err := io.Copy(w, f); err != nil {
		return
	}
	if !follow {
		return
	}
	h.followFile(w, r, j, f)
}

// followFile streams data appended to f until the client disconnects or
// the job finishes with no further output.
func (h *Handler) followFile(w http.ResponseWriter, r *http.Request, j *job.Job, f *os.File) {
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			wrote := false
			for {
				n, err := f.Read(buf)
				if n > 0 {
					if _, werr := w.Write(buf[:n]); werr != nil {
						return
					}
					wrote = true
				}
				if err != nil {
					break
				}
			}
			if wrote {
				if flusher != nil {
					flusher.Flush()
				}
				continue
			}
			// No new output. Stop following once the job is over.
			if cur, err := h.store.Get(j.ID); err == nil && cur.State.IsTerminal() {
				return
			}
		}
	}
}

// streamDockerLogs serves logs for a docker mode job from the daemon.
func (h *Handler) streamDockerLogs(w http.ResponseWriter, r *http.Request, j *job.Job, rank int, follow bool, tail int) {
	d, err := h.dockerLauncher()
	if err != nil {
		h.WriteError(w, fmt.Sprintf("Docker is not available: %v", err), http.StatusServiceUnavailable)
		return
	}

	tailStr := ""
	if tail > 0 {
		tailStr = strconv.Itoa(tail)
	}
	rc, err := d.Logs(r.Context(), j, rank, follow, tailStr)
	if err != nil {
		h.WriteError(w, fmt.Sprintf("Failed to read container logs: %v", err), http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// StopJob handles requests to stop a running job.
//
// HTTP Method: POST
// Endpoint: /api/jobs/{id}/stop
//
// Request body (optional): StopJobRequest JSON
//
//	{"timeout_seconds": 60}
//
// Response: 200 OK with StopJobResponse JSON once the job's workers are
// gone and the record says stopped.
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.resolveJob(w, r)
	if !ok {
		return
	}

	var req api.StopJobRequest
	if r.Body != nil {
		// An empty body selects the server default grace.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.WriteError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}

	if _, err := h.store.Refresh(j); err != nil {
		logger.Warn("Failed to refresh job %s: %v", j.ID, err)
	}
	if j.State.IsTerminal() {
		h.WriteJSON(w, api.StopJobResponse{State: string(j.State)}, http.StatusOK)
		return
	}

	grace := time.Duration(h.config.Jobs.StopGraceSeconds) * time.Second
	if req.TimeoutSeconds > 0 {
		grace = time.Duration(req.TimeoutSeconds) * time.Second
	}

	if j.Mode == job.ModeDocker {
		d, err := h.dockerLauncher()
		if err != nil {
			h.WriteError(w, fmt.Sprintf("Docker is not available: %v", err), http.StatusServiceUnavailable)
			return
		}
		if err := d.Stop(r.Context(), j, grace); err != nil {
			h.WriteError(w, fmt.Sprintf("Failed to stop job: %v", err), http.StatusInternalServerError)
			return
		}
	} else {
		if err := launcher.StopJob(h.store, j, grace); err != nil {
			h.WriteError(w, fmt.Sprintf("Failed to stop job: %v", err), http.StatusInternalServerError)
			return
		}
	}

	logger.Info("Stopped job %s", j.ID)
	h.WriteJSON(w, api.StopJobResponse{State: string(j.State)}, http.StatusOK)
}

// DeleteJob handles requests to remove a job record and its logs.
//
// Running jobs are refused unless force is given; force stops docker
// containers and removes them first.
//
// HTTP Method: DELETE
// Endpoint: /api/jobs/{id}
//
// Query parameters:
//   - force: Remove even if the record says running
//
// Response: 204 No Content on success.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.resolveJob(w, r)
	if !ok {
		return
	}
	force := r.URL.Query().Get("force") == "true" || r.URL.Query().Get("force") == "1"

	if _, err := h.store.Refresh(j); err != nil {
		logger.Warn("Failed to refresh job %s: %v", j.ID, err)
	}
	if j.State == job.StateRunning && !force {
		h.WriteError(w, fmt.Sprintf("Job %s is running, stop it first or use force", j.ID), http.StatusConflict)
		return
	}

	if j.Mode == job.ModeDocker && len(j.ContainerIDs) > 0 {
		if d, err := h.dockerLauncher(); err == nil {
			if err := d.Remove(r.Context(), j); err != nil {
				logger.Warn("Failed to remove containers of job %s: %v", j.ID, err)
			}
		}
	}

	if err := h.store.Remove(j.ID, force); err != nil {
		h.WriteError(w, fmt.Sprintf("Failed to remove job: %v", err), http.StatusInternalServerError)
		return
	}
	logger.Info("Removed job %s", j.ID)
	w.WriteHeader(http.StatusNoContent)
}

// resolveJob looks up the job referenced by the id path variable,
// writing the error response itself when the lookup fails.
func (h *Handler) resolveJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	ref := mux.Vars(r)["id"]
	if ref == "" {
		h.WriteError(w, "Job id is required", http.StatusBadRequest)
		return nil, false
	}
	j, err := h.store.Resolve(ref)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			h.WriteError(w, fmt.Sprintf("Job not found: %s", ref), http.StatusNotFound)
		} else {
			h.WriteError(w, err.Error(), http.StatusBadRequest)
		}
		return nil, false
	}
	return j, true
}

// parseIntParam parses an optional integer query parameter.
func parseIntParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("%d is negative", v)
	}
	return v, nil
}

// seekToTail positions f so that roughly the last wanted lines remain.
//
// The scan is bounded by logTailChunk; a request for more lines than
// the bound holds returns the bound. Training logs are line oriented,
// so cutting at a line start keeps the output readable.
func seekToTail(f *os.File, lines int) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	start := size - logTailChunk
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	// Walk backwards counting newlines. The position after the newline
	// preceding the Nth-from-last line is where serving starts.
	seen := 0
	offset := 0
	for i := len(chunk) - 1; i >= 0; i-- {
		if chunk[i] != '\n' {
			continue
		}
		// Ignore the trailing newline of the final line.
		if i == len(chunk)-1 {
			continue
		}
		seen++
		if seen == lines {
			offset = i + 1
			break
		}
	}

	_, err = f.Seek(start+int64(offset), io.SeekStart)
	return err
}
