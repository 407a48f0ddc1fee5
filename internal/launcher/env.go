package launcher

import (
	"fmt"
	"strconv"

	"github.com/zhenhua32/mindformers/internal/job"
)

// Scheduler role names understood by the MindSpore distributed runtime.
const (
	RoleScheduler = "MS_SCHED"
	RoleWorker    = "MS_WORKER"
)

// WorkerEnv describes one worker's distributed identity.
type WorkerEnv struct {
	// Rank is the global rank id of this worker.
	Rank int

	// Device is the local accelerator id the worker binds to.
	Device int

	// RankSize is the total worker count across all servers.
	RankSize int

	// LocalNum is the worker count on this host.
	LocalNum int

	// ServerIndex is the position of this host in the rank table.
	ServerIndex int

	// RankTablePath distributes the table location, rank table
	// bootstrap only.
	RankTablePath string

	// Bootstrap selects which variable set is emitted.
	Bootstrap job.Bootstrap

	// MasterAddr and MasterPort locate the scheduler, dynamic
	// bootstrap only.
	MasterAddr string
	MasterPort int

	// Role is RoleWorker or RoleScheduler, dynamic bootstrap only.
	Role string
}

// Build returns the KEY=VALUE pairs a worker needs on top of the host
// environment.
//
// Rank table bootstrap exports the classic Ascend variables:
//
//	RANK_TABLE_FILE, RANK_SIZE, RANK_ID, DEVICE_ID, DEVICE_NUM, SERVER_ID
//
// Dynamic bootstrap instead exports the scheduler rendezvous variables:
//
//	MS_ROLE, MS_SCHED_HOST, MS_SCHED_PORT, MS_WORKER_NUM, MS_NODE_ID
//
// Both sets include DEVICE_ID so the framework binds the right chip, and
// the shared log defaults from baseEnv.
func (w WorkerEnv) Build() []string {
	env := baseEnv()
	env = append(env, "DEVICE_ID="+strconv.Itoa(w.Device))

	switch w.Bootstrap {
	case job.BootstrapDynamic:
		env = append(env,
			"MS_ROLE="+w.Role,
			"MS_SCHED_HOST="+w.MasterAddr,
			"MS_SCHED_PORT="+strconv.Itoa(w.MasterPort),
			"MS_WORKER_NUM="+strconv.Itoa(w.RankSize),
		)
		if w.Role == RoleWorker {
			env = append(env, "MS_NODE_ID="+strconv.Itoa(w.Rank))
		}
	default:
		env = append(env,
			"RANK_TABLE_FILE="+w.RankTablePath,
			"RANK_SIZE="+strconv.Itoa(w.RankSize),
			"RANK_ID="+strconv.Itoa(w.Rank),
			"DEVICE_NUM="+strconv.Itoa(w.LocalNum),
			"SERVER_ID="+strconv.Itoa(w.ServerIndex),
		)
	}
	return env
}

// baseEnv returns the log routing defaults shared by every worker. Chip
// runtime logs go to stdout so per-rank log files capture everything.
func baseEnv() []string {
	return []string{
		"GLOG_v=2",
		"ASCEND_SLOG_PRINT_TO_STDOUT=1",
		"ASCEND_GLOBAL_LOG_LEVEL=3",
	}
}

// SchedulerEnv returns the environment for the rendezvous scheduler
// process in dynamic bootstrap mode. The scheduler binds no device.
func SchedulerEnv(addr string, port, rankSize int) []string {
	env := baseEnv()
	return append(env,
		"MS_ROLE="+RoleScheduler,
		"MS_SCHED_HOST="+addr,
		"MS_SCHED_PORT="+strconv.Itoa(port),
		"MS_WORKER_NUM="+strconv.Itoa(rankSize),
	)
}

// mergeEnv appends extra KEY=VALUE pairs, with later entries overriding
// earlier keys.
func mergeEnv(base []string, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	for i, kv := range base {
		index[envKey(kv)] = i
	}
	for _, kv := range extra {
		if i, ok := index[envKey(kv)]; ok {
			base[i] = kv
			continue
		}
		index[envKey(kv)] = len(base)
		base = append(base, kv)
	}
	return base
}

// envKey extracts the KEY part of a KEY=VALUE pair.
func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}

// validateWorkerCount checks that a job's device list matches its share
// of the rank table.
func validateWorkerCount(j *job.Job, localRanks []int) error {
	if len(localRanks) != len(j.Devices) {
		return fmt.Errorf("rank table assigns %d ranks to server %s but %d devices were selected",
			len(localRanks), j.ServerID, len(j.Devices))
	}
	return nil
}
