package server

import (
	"fmt"

	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// Bootstrap prepares the persistent state the monitor serves from.
//
// This function should be called during server startup, before the
// first request is accepted. It is responsible for:
//  1. Creating the storage directory layout
//  2. Opening the job store
//  3. Sweeping job records once against live process state
//
// The startup sweep matters after a host crash: records of jobs that
// died with the host still say running, and would otherwise stay that
// way until a client happened to list them.
//
// Parameters:
//   - cfg: Effective application configuration
//
// Returns:
//   - The opened job store
//   - Error if directories cannot be created or the store cannot open
func Bootstrap(cfg *config.Config) (*job.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to prepare storage directories: %w", err)
	}

	store, err := job.NewStore(cfg.Storage.GetJobsDir(), cfg.Storage.GetLogsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	jobs, err := store.RefreshAll()
	if err != nil {
		logger.Warn("Startup job sweep failed: %v", err)
		return store, nil
	}

	running := 0
	for _, j := range jobs {
		if j.State == job.StateRunning {
			running++
		}
	}
	logger.Info("Tracking %d job(s), %d running", len(jobs), running)

	return store, nil
}
