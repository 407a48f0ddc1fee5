package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zhenhua32/mindformers/internal/logger"
)

// ErrNotFound is returned when no job record matches the given id.
var ErrNotFound = errors.New("job not found")

// Store persists job records as one JSON file per job.
//
// The file on disk is the source of truth; the Store holds no in-memory
// cache, so multiple processes (CLI invocations, a detached supervisor,
// the monitor server) can share one data directory. The mutex serializes
// read-modify-write cycles within a single process.
type Store struct {
	mu      sync.RWMutex
	jobsDir string
	logsDir string
}

// NewStore opens a store rooted at the given directories, creating them
// when missing.
func NewStore(jobsDir, logsDir string) (*Store, error) {
	for _, dir := range []string{jobsDir, logsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Store{jobsDir: jobsDir, logsDir: logsDir}, nil
}

// recordPath returns the JSON file path for a job id.
func (s *Store) recordPath(id string) string {
	return filepath.Join(s.jobsDir, id+".json")
}

// LogDirFor returns the per-job log directory, creating it.
func (s *Store) LogDirFor(id string) (string, error) {
	dir := filepath.Join(s.logsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return dir, nil
}

// RankLogPath returns the log file path for one rank of a job.
func (s *Store) RankLogPath(id string, rank int) string {
	return filepath.Join(s.logsDir, id, fmt.Sprintf("rank_%d.log", rank))
}

// SupervisorLogPath returns the log file of a detached supervisor.
func (s *Store) SupervisorLogPath(id string) string {
	return filepath.Join(s.logsDir, id, "supervisor.log")
}

// SchedulerLogPath returns the log file of the rendezvous scheduler,
// dynamic bootstrap mode only.
func (s *Store) SchedulerLogPath(id string) string {
	return filepath.Join(s.logsDir, id, "scheduler.log")
}

// Create writes a brand-new record. It fails if the id is taken.
func (s *Store) Create(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(j.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.State == "" {
		j.State = StatePending
	}
	return s.write(j)
}

// Save overwrites the record for an existing job.
func (s *Store) Save(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(j)
}

// write marshals the record and renames it into place so readers never
// observe a half-written file. Caller holds the lock.
func (s *Store) write(j *Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
	}
	path := s.recordPath(j.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write job record: %w", err)
	}
	return nil
}

// Get loads one record by exact id.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// read loads a record without locking. Caller holds at least RLock.
func (s *Store) read(id string) (*Job, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse job record %s: %w", id, err)
	}
	return &j, nil
}

// Resolve finds a job by exact id first, then by unique id prefix, then
// by exact name. Ambiguous prefixes are an error listing the candidates.
func (s *Store) Resolve(ref string) (*Job, error) {
	if j, err := s.Get(ref); err == nil {
		return j, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	var matches []*Job
	for _, j := range jobs {
		if strings.HasPrefix(j.ID, ref) || j.Name == ref {
			matches = append(matches, j)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, j := range matches {
			ids[i] = j.ID
		}
		return nil, fmt.Errorf("ambiguous job reference %s matches: %s", ref, strings.Join(ids, ", "))
	}
}

// List loads every record, newest first. Unreadable records are skipped
// with a warning rather than failing the whole listing.
func (s *Store) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	var jobs []*Job
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		j, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			logger.Warn("Skipping unreadable job record %s: %v", name, err)
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// Remove deletes a job record and its logs. Running jobs are refused,
// use force to override.
func (s *Store) Remove(id string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.read(id)
	if err != nil {
		return err
	}
	if j.State == StateRunning && !force {
		return fmt.Errorf("job %s is running, stop it first or use force", id)
	}
	if err := os.Remove(s.recordPath(id)); err != nil {
		return fmt.Errorf("failed to remove job record: %w", err)
	}
	logDir := filepath.Join(s.logsDir, id)
	if err := os.RemoveAll(logDir); err != nil {
		logger.Warn("Failed to remove log directory %s: %v", logDir, err)
	}
	return nil
}

// Prune removes terminal jobs older than the given age and returns the
// removed ids.
func (s *Store) Prune(olderThan time.Duration) ([]string, error) {
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-olderThan)
	var removed []string
	for _, j := range jobs {
		if !j.State.IsTerminal() {
			continue
		}
		at := j.FinishedAt
		if at.IsZero() {
			at = j.CreatedAt
		}
		if at.After(cutoff) {
			continue
		}
		if err := s.Remove(j.ID, false); err != nil {
			logger.Warn("Failed to prune job %s: %v", j.ID, err)
			continue
		}
		removed = append(removed, j.ID)
	}
	return removed, nil
}

// Refresh reconciles a record with reality. For process and mpi jobs
// marked running it probes the worker process group; when every process
// is gone but no final state was recorded, the job is marked failed.
// Docker jobs are reconciled by the docker launcher instead. Returns
// true when the record was updated.
func (s *Store) Refresh(j *Job) (bool, error) {
	if j.State != StateRunning || j.Mode == ModeDocker {
		return false, nil
	}

	if j.PGID > 0 && processGroupAlive(j.PGID) {
		return false, nil
	}
	if j.SupervisorPID > 0 && processAlive(j.SupervisorPID) {
		// The supervisor is still between worker exit and record
		// update, let it finish the bookkeeping.
		return false, nil
	}

	// Reload under the lock in case the supervisor finalized the record
	// after our snapshot was taken.
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh, err := s.read(j.ID)
	if err != nil {
		return false, err
	}
	if fresh.State != StateRunning {
		*j = *fresh
		return true, nil
	}

	fresh.State = StateFailed
	fresh.Error = "worker processes exited without a recorded result"
	fresh.FinishedAt = time.Now()
	if err := s.write(fresh); err != nil {
		return false, err
	}
	*j = *fresh
	logger.Warn("Job %s lost its workers, marked failed", j.ID)
	return true, nil
}

// RefreshAll applies Refresh to every record and returns the fresh list.
func (s *Store) RefreshAll() ([]*Job, error) {
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if _, err := s.Refresh(j); err != nil {
			logger.Warn("Failed to refresh job %s: %v", j.ID, err)
		}
	}
	return jobs, nil
}

// RunningDevices maps each local device id held by a running job to the
// job id holding it. Records are refreshed first so stale claims do not
// block new launches.
func (s *Store) RunningDevices() (map[int]string, error) {
	jobs, err := s.RefreshAll()
	if err != nil {
		return nil, err
	}
	busy := make(map[int]string)
	for _, j := range jobs {
		if j.State != StateRunning {
			continue
		}
		for _, d := range j.Devices {
			busy[d] = j.ID
		}
	}
	return busy, nil
}

// processGroupAlive reports whether any process remains in the group.
func processGroupAlive(pgid int) bool {
	err := syscall.Kill(-pgid, 0)
	// EPERM means a process exists but belongs to another user.
	return err == nil || errors.Is(err, syscall.EPERM)
}

// processAlive reports whether the pid exists.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
