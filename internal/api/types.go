// Package api defines the API types and contracts for the xformer
// application.
//
// This package contains all the data structures used for communication
// between the CLI client and the monitor HTTP server. It defines:
//   - Request and response types for all API endpoints
//   - Job, device, and model summary types
//   - Error response structures
//
// All types in this package are designed to be JSON-serializable for easy
// HTTP transmission. The API follows RESTful principles where applicable.
package api

// JobSummary represents a launched training or conversion job as exposed
// over the API and in CLI listings.
//
// A JobSummary is a read-only projection of a tracked job record. It is
// safe to serve to remote clients: it carries no host-local secrets, only
// paths and identifiers the submitting user already knows.
type JobSummary struct {
	// ID is the unique job identifier (name plus a short random suffix).
	// Examples: "llama-7b-pretrain-3f2a91c4", "convert-bloom-8b12aa01"
	ID string `json:"id"`

	// Name is the user-supplied or generated display name.
	Name string `json:"name"`

	// Model is the registry name of the model being trained or converted.
	// Empty when the job was launched without --model.
	Model string `json:"model,omitempty"`

	// Kind distinguishes training launches from weight conversions.
	// Values: "train", "convert"
	Kind string `json:"kind"`

	// Mode is the launch mode used for this job.
	// Values: "process", "mpi", "docker"
	Mode string `json:"mode"`

	// State is the current lifecycle state.
	// Values: "pending", "running", "succeeded", "failed", "stopped", "unknown"
	State string `json:"state"`

	// RankSize is the total number of ranks in the job.
	RankSize int `json:"rank_size"`

	// Devices lists the local device ids assigned to this job.
	Devices []int `json:"devices,omitempty"`

	// ExitCode is the exit code of the first failing worker, or zero.
	// Only meaningful once State is a terminal state.
	ExitCode int `json:"exit_code"`

	// Error holds the failure reason for failed jobs.
	Error string `json:"error,omitempty"`

	// CreatedAt is the job creation timestamp in RFC3339 format.
	CreatedAt string `json:"created_at"`

	// StartedAt is the time the first worker process started, RFC3339.
	// Empty while the job is still pending.
	StartedAt string `json:"started_at,omitempty"`

	// FinishedAt is the time the job reached a terminal state, RFC3339.
	FinishedAt string `json:"finished_at,omitempty"`
}

// ListJobsResponse represents the response containing tracked jobs.
type ListJobsResponse struct {
	// Jobs is the array of job summaries, newest first.
	Jobs []JobSummary `json:"jobs"`

	// Total is the number of jobs returned.
	Total int `json:"total"`
}

// StopJobRequest represents a request to stop a running job.
type StopJobRequest struct {
	// TimeoutSeconds is the grace period between SIGTERM and SIGKILL.
	// Zero selects the server default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// StopJobResponse represents the response from a stop operation.
type StopJobResponse struct {
	// State is the job state after the stop completed.
	State string `json:"state"`
}

// DeviceInfo represents one detected NPU as exposed over the API.
//
// The monitor reports both the physical inventory (PCI address, product
// name) and the scheduling view (whether a tracked job currently holds
// the device).
type DeviceInfo struct {
	// ID is the logical device id, matching /dev/davinci<ID>.
	ID int `json:"id"`

	// Product is the resolved chip product name, e.g. "Ascend 910B".
	Product string `json:"product"`

	// PCIAddress is the PCI bus address, e.g. "0000:c1:00.0".
	PCIAddress string `json:"pci_address,omitempty"`

	// MemoryMB is the on-chip memory size in MiB, zero when unknown.
	MemoryMB int `json:"memory_mb,omitempty"`

	// NicIP is the device NIC address from hccn.conf, empty when absent.
	NicIP string `json:"nic_ip,omitempty"`

	// Busy reports whether a tracked running job holds this device.
	Busy bool `json:"busy"`

	// JobID names the job holding the device when Busy is true.
	JobID string `json:"job_id,omitempty"`
}

// DeviceListResponse represents the response from listing devices.
type DeviceListResponse struct {
	// Devices is the list of detected NPU devices on the server host.
	Devices []DeviceInfo `json:"devices"`
}

// ModelInfo represents a registry model card as exposed over the API.
type ModelInfo struct {
	// Name is the registry identifier, e.g. "llama_7b".
	Name string `json:"name"`

	// Family is the model family, e.g. "llama", "t5", "gpt", "bloom".
	Family string `json:"family"`

	// DisplayName is the human-readable name, e.g. "LLaMA 7B".
	DisplayName string `json:"display_name"`

	// Params is the approximate parameter count, e.g. "7B".
	Params string `json:"params"`

	// SeqLength is the training sequence length.
	SeqLength int `json:"seq_length"`

	// NumLayers is the transformer layer count.
	NumLayers int `json:"num_layers"`

	// HiddenSize is the model hidden dimension.
	HiddenSize int `json:"hidden_size"`

	// DefaultParallel carries the card's recommended parallel degrees.
	DefaultParallel ParallelInfo `json:"default_parallel"`

	// Description is a short human-readable summary.
	Description string `json:"description,omitempty"`
}

// ParallelInfo mirrors the parallel degrees of a model card or job.
type ParallelInfo struct {
	// DataParallel is the data-parallel degree.
	DataParallel int `json:"data_parallel"`

	// ModelParallel is the tensor (model) parallel degree.
	ModelParallel int `json:"model_parallel"`

	// PipelineStage is the pipeline-parallel stage count.
	PipelineStage int `json:"pipeline_stage"`

	// MicroBatchNum is the pipeline micro-batch count.
	MicroBatchNum int `json:"micro_batch_num"`
}

// ListModelsResponse represents the response containing registry models.
type ListModelsResponse struct {
	// Models is the array of model cards, sorted by name.
	Models []ModelInfo `json:"models"`

	// Total is the number of models in the registry.
	Total int `json:"total"`
}

// SystemResponse represents host-level information about the server.
//
// Returned by the system endpoint; used by preflight checks and by the
// device command when pointed at a remote monitor.
type SystemResponse struct {
	// Hostname is the server host name.
	Hostname string `json:"hostname"`

	// Identity is the persisted monitor identity name.
	Identity string `json:"identity"`

	// OS is the operating system, e.g. "linux".
	OS string `json:"os"`

	// KernelArch is the kernel architecture, e.g. "aarch64".
	KernelArch string `json:"kernel_arch"`

	// CPUCores is the logical CPU count.
	CPUCores int `json:"cpu_cores"`

	// MemoryTotalMB is the total physical memory in MiB.
	MemoryTotalMB uint64 `json:"memory_total_mb"`

	// MemoryAvailableMB is the currently available memory in MiB.
	MemoryAvailableMB uint64 `json:"memory_available_mb"`

	// UptimeSeconds is the host uptime in seconds.
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// VersionResponse represents the server version information.
//
// This response provides build and version metadata about the running
// server instance. Useful for debugging, compatibility checking, and
// support purposes.
type VersionResponse struct {
	// Version is the semantic version of the server.
	// Format: "major.minor.patch" (e.g., "1.0.0")
	Version string `json:"version"`

	// BuildTime is the timestamp when the server binary was built.
	// Format: RFC3339 (e.g., "2026-01-26T10:00:00Z")
	BuildTime string `json:"build_time"`

	// GitCommit is the git commit SHA that the build was created from.
	// Short or full commit hash (e.g., "a1b2c3d" or full 40-char hash)
	GitCommit string `json:"git_commit"`
}

// HealthResponse represents the server health status.
//
// This response is returned by the health check endpoint and indicates
// whether the server is operational and ready to handle requests.
type HealthResponse struct {
	// Status indicates the overall health status.
	// Common values: "healthy", "unhealthy"
	Status string `json:"status"`

	// Message contains additional details about the health status.
	Message string `json:"message,omitempty"`
}

// ErrorResponse represents an error response from the API.
//
// This is the standard error format returned by all API endpoints when an
// error occurs. It provides both a human-readable message and an optional
// machine-readable error code.
type ErrorResponse struct {
	// Error is the human-readable error message.
	// Should clearly describe what went wrong and, if possible, how to fix it.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	// Examples: "JOB_NOT_FOUND", "INVALID_REQUEST", "JOB_NOT_RUNNING"
	Code string `json:"code,omitempty"`
}
