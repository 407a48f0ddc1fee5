// Package job persists and tracks launched jobs.
//
// Every launch (training or weight conversion) produces one Job record,
// stored as a JSON file under the data directory. Records outlive the CLI
// process that created them so that ps, logs, stop, and the monitor can
// operate on jobs launched from other shells or detached sessions.
package job

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhenhua32/mindformers/internal/api"
)

// State is the lifecycle state of a job.
type State string

const (
	// StatePending is set between record creation and first worker spawn.
	StatePending State = "pending"

	// StateRunning means workers are (believed to be) alive.
	StateRunning State = "running"

	// StateSucceeded means every worker exited zero.
	StateSucceeded State = "succeeded"

	// StateFailed means a worker exited nonzero or the launch broke.
	StateFailed State = "failed"

	// StateStopped means the job was terminated on request.
	StateStopped State = "stopped"

	// StateUnknown means the record exists but its state cannot be
	// determined (unreadable record, foreign host).
	StateUnknown State = "unknown"
)

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateStopped:
		return true
	}
	return false
}

// Kind distinguishes what a job runs.
type Kind string

const (
	// KindTrain is a distributed training launch.
	KindTrain Kind = "train"

	// KindConvert is a weight conversion run.
	KindConvert Kind = "convert"
)

// Mode is the launch mechanism.
type Mode string

const (
	// ModeProcess spawns one local worker process per rank.
	ModeProcess Mode = "process"

	// ModeMPI delegates process placement to mpirun.
	ModeMPI Mode = "mpi"

	// ModeDocker runs one container per rank via the Docker engine.
	ModeDocker Mode = "docker"
)

// Bootstrap selects how workers discover each other.
type Bootstrap string

const (
	// BootstrapRankTable distributes a rank table file to every worker.
	BootstrapRankTable Bootstrap = "ranktable"

	// BootstrapDynamic runs a scheduler process that workers register
	// with over TCP; no rank table required.
	BootstrapDynamic Bootstrap = "dynamic"
)

// Job is one tracked launch.
type Job struct {
	// ID uniquely identifies the job, e.g. "llama-7b-3f2a91c4".
	ID string `json:"id"`

	// Name is the display name the ID was derived from.
	Name string `json:"name"`

	// Kind is train or convert.
	Kind Kind `json:"kind"`

	// Model is the registry model name, empty when launched without one.
	Model string `json:"model,omitempty"`

	// Mode is the launch mechanism.
	Mode Mode `json:"mode"`

	// Bootstrap is the worker discovery mechanism.
	Bootstrap Bootstrap `json:"bootstrap,omitempty"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// RankSize is the total rank count across all servers.
	RankSize int `json:"rank_size"`

	// Devices are the local device ids assigned to this host's workers.
	Devices []int `json:"devices,omitempty"`

	// Ranks are the global rank ids of this host's workers, parallel to
	// Devices. Populated at launch time.
	Ranks []int `json:"ranks,omitempty"`

	// ServerID names this host's entry in the rank table.
	ServerID string `json:"server_id,omitempty"`

	// PGID is the process group of the local workers. Zero for docker
	// mode.
	PGID int `json:"pgid,omitempty"`

	// SupervisorPID is the pid of the detached supervisor, when one
	// exists.
	SupervisorPID int `json:"supervisor_pid,omitempty"`

	// ContainerIDs are the engine ids of per-rank containers, docker
	// mode only, rank order.
	ContainerIDs []string `json:"container_ids,omitempty"`

	// RankTablePath is the table the job was launched against.
	RankTablePath string `json:"rank_table_path,omitempty"`

	// HostfilePath is the MPI hostfile, mpi mode only.
	HostfilePath string `json:"hostfile_path,omitempty"`

	// ConfigPath is the trainer YAML forwarded to the entrypoint.
	ConfigPath string `json:"config_path,omitempty"`

	// DatasetPath is the training data location.
	DatasetPath string `json:"dataset_path,omitempty"`

	// Entrypoint is the command each worker runs.
	Entrypoint []string `json:"entrypoint"`

	// WorkDir is the working directory workers run in. Empty means the
	// launcher's own working directory.
	WorkDir string `json:"work_dir,omitempty"`

	// Env carries extra KEY=VALUE pairs exported to workers.
	Env []string `json:"env,omitempty"`

	// MasterAddr and MasterPort locate the scheduler in dynamic
	// bootstrap mode.
	MasterAddr string `json:"master_addr,omitempty"`
	MasterPort int    `json:"master_port,omitempty"`

	// StartScheduler records that this host runs the rendezvous
	// scheduler, dynamic bootstrap mode only.
	StartScheduler bool `json:"start_scheduler,omitempty"`

	// Image is the container image, docker mode only.
	Image string `json:"image,omitempty"`

	// LogDir holds the per-rank log files.
	LogDir string `json:"log_dir"`

	// ExitCode is the exit code of the first failing worker, zero on
	// success.
	ExitCode int `json:"exit_code"`

	// Error is the failure reason for failed jobs.
	Error string `json:"error,omitempty"`

	// CreatedAt, StartedAt, FinishedAt mark the lifecycle transitions.
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// NewID derives a job id from a display name plus a short random suffix.
// The name part is lowercased with spaces and slashes flattened so the id
// is safe as a file and container name.
func NewID(name string) string {
	slug := strings.ToLower(name)
	for _, c := range []string{" ", "/", ":", "_"} {
		slug = strings.ReplaceAll(slug, c, "-")
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "job"
	}
	return slug + "-" + strings.Split(uuid.NewString(), "-")[0]
}

// Summary projects the job into its API form.
func (j *Job) Summary() api.JobSummary {
	s := api.JobSummary{
		ID:        j.ID,
		Name:      j.Name,
		Model:     j.Model,
		Kind:      string(j.Kind),
		Mode:      string(j.Mode),
		State:     string(j.State),
		RankSize:  j.RankSize,
		Devices:   append([]int(nil), j.Devices...),
		ExitCode:  j.ExitCode,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
	}
	if !j.StartedAt.IsZero() {
		s.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if !j.FinishedAt.IsZero() {
		s.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	return s
}

// Age returns how long ago the job was created.
func (j *Job) Age() time.Duration {
	return time.Since(j.CreatedAt)
}

// Duration returns the job runtime: start to finish for terminal jobs,
// start to now for running ones, zero before start.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
