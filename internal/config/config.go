// Package config provides configuration management for the xformer
// application.
//
// This package handles all configuration-related functionality including:
//   - Monitor server configuration (host, port, address)
//   - Storage paths (job records, per-rank logs, generated rank tables)
//   - Trainer YAML configs and their parallelism invariants
//   - Chip model tables used during device detection
//
// The configuration is designed to be flexible and can be customized for
// different deployment scenarios (single host, multi-machine clusters,
// systemd service).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerHost is the default monitor server host address.
	// The server listens on localhost by default for security.
	DefaultServerHost = "localhost"

	// DefaultServerPort is the default monitor server port.
	// Port 11633 is used as it doesn't require root privileges.
	DefaultServerPort = 11633

	// DefaultConfigDirName is the default configuration directory name.
	// This directory is created in the user's home directory.
	DefaultConfigDirName = ".xformer"

	// ConfigFileName is the optional application config file inside the
	// config directory. Absence is not an error; defaults apply.
	ConfigFileName = "config.yaml"

	// DefaultJobsDirName holds tracked job records (one JSON file per job).
	DefaultJobsDirName = "jobs"

	// DefaultLogsDirName holds per-job log directories with one file per rank.
	DefaultLogsDirName = "logs"

	// DefaultRankTablesDirName holds generated rank table descriptors.
	DefaultRankTablesDirName = "ranktables"

	// DefaultRetentionDays is how long finished job records and their logs
	// are kept before the retention sweep removes them.
	DefaultRetentionDays = 14

	// DefaultStopGraceSeconds is the SIGTERM-to-SIGKILL grace period when
	// stopping a job.
	DefaultStopGraceSeconds = 30

	// DefaultPythonBin is the interpreter used to run external converter
	// and training scripts when the entrypoint is a .py file.
	DefaultPythonBin = "python3"

	// DefaultCleanupSchedule is the cron expression for the retention sweep.
	DefaultCleanupSchedule = "0 3 * * *"
)

// Config represents the complete application configuration.
//
// This is the root configuration struct that contains all settings required
// for running the xformer CLI and monitor server. It can be serialized
// to/from YAML; the file at ~/.xformer/config.yaml overrides defaults, and
// a handful of environment variables override the file.
type Config struct {
	// Server holds the monitor HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Storage holds the directory layout for job records, logs, and
	// generated rank tables.
	Storage StorageConfig `yaml:"storage"`

	// Jobs holds launch and retention behavior.
	Jobs JobsConfig `yaml:"jobs"`

	// BinaryVersion is the version of the xformer binary (e.g., "v0.3.0").
	// Set from main.Version during initialization.
	BinaryVersion string `yaml:"-"`
}

// ServerConfig represents the monitor HTTP server configuration.
//
// This configuration controls how the xformer monitor listens for incoming
// HTTP connections from CLI clients or other API consumers.
type ServerConfig struct {
	// Host is the server host address (e.g., "localhost", "0.0.0.0").
	// Using "localhost" restricts access to local clients only.
	// Using "0.0.0.0" allows access from any network interface.
	Host string `yaml:"host"`

	// Port is the TCP port number the server listens on.
	Port int `yaml:"port"`

	// CleanupSchedule is the cron expression for the retention sweep.
	// Empty selects DefaultCleanupSchedule.
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// StorageConfig represents the storage and persistence configuration.
type StorageConfig struct {
	// ConfigDir is the absolute path to the configuration directory.
	// Example: "/home/user/.xformer"
	ConfigDir string `yaml:"config_dir"`

	// DataDir is the absolute path to the main data directory holding job
	// records, logs, and rank tables.
	// Example: "/home/user/.xformer/data"
	DataDir string `yaml:"data_dir"`
}

// JobsConfig controls launch and retention behavior.
type JobsConfig struct {
	// RetentionDays is how long finished jobs are kept.
	RetentionDays int `yaml:"retention_days"`

	// StopGraceSeconds is the SIGTERM-to-SIGKILL grace period.
	StopGraceSeconds int `yaml:"stop_grace_seconds"`

	// PythonBin is the interpreter for .py entrypoints and converters.
	PythonBin string `yaml:"python_bin"`
}

// GetJobsDir returns the directory holding job record files.
// Example: ~/.xformer/data/jobs
func (s *StorageConfig) GetJobsDir() string {
	return filepath.Join(s.DataDir, DefaultJobsDirName)
}

// GetLogsDir returns the directory holding per-job log directories.
// Example: ~/.xformer/data/logs
func (s *StorageConfig) GetLogsDir() string {
	return filepath.Join(s.DataDir, DefaultLogsDirName)
}

// GetRankTablesDir returns the directory holding generated rank tables.
// Example: ~/.xformer/data/ranktables
func (s *StorageConfig) GetRankTablesDir() string {
	return filepath.Join(s.DataDir, DefaultRankTablesDirName)
}

// NewDefaultConfig creates a new configuration instance with default values.
//
// The configuration root honors the XFORMER_HOME environment variable and
// falls back to ~/.xformer. Defaults are suitable for user-level deployment:
//   - Server: localhost:11633 for local-only access
//   - ConfigDir: ~/.xformer for config.yaml and chip overrides
//   - DataDir: ~/.xformer/data for job records, logs, rank tables
//
// Returns:
//   - A pointer to a newly created Config with default values.
func NewDefaultConfig() *Config {
	configDir := os.Getenv("XFORMER_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		configDir = filepath.Join(homeDir, DefaultConfigDirName)
	}

	return &Config{
		Server: ServerConfig{
			Host:            DefaultServerHost,
			Port:            DefaultServerPort,
			CleanupSchedule: DefaultCleanupSchedule,
		},
		Storage: StorageConfig{
			ConfigDir: configDir,
			DataDir:   filepath.Join(configDir, "data"),
		},
		Jobs: JobsConfig{
			RetentionDays:    DefaultRetentionDays,
			StopGraceSeconds: DefaultStopGraceSeconds,
			PythonBin:        DefaultPythonBin,
		},
	}
}

// LoadConfig builds the effective application configuration.
//
// Resolution order, later entries winning:
//  1. Compiled-in defaults (NewDefaultConfig)
//  2. ~/.xformer/config.yaml when present
//  3. Environment variables XFORMER_HOST and XFORMER_PORT
//
// A missing config file is not an error. A malformed one is, so that typos
// do not silently fall back to defaults.
//
// Returns:
//   - The effective Config
//   - Error if the config file exists but cannot be parsed
func LoadConfig() (*Config, error) {
	cfg := NewDefaultConfig()

	path := filepath.Join(cfg.Storage.ConfigDir, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if host := os.Getenv("XFORMER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("XFORMER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid XFORMER_PORT value: %q", port)
		}
		cfg.Server.Port = p
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfig performs validation on the effective configuration.
func validateConfig(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server host is required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Storage.ConfigDir == "" || cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage directories are required")
	}
	if cfg.Jobs.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if cfg.Jobs.StopGraceSeconds <= 0 {
		cfg.Jobs.StopGraceSeconds = DefaultStopGraceSeconds
	}
	if cfg.Jobs.PythonBin == "" {
		cfg.Jobs.PythonBin = DefaultPythonBin
	}
	return nil
}

// GetServerAddress returns the complete monitor server address.
//
// Returns:
//   - A string in the format "http://host:port"
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// EnsureDirectories creates all required directories if they don't exist.
//
// This method ensures that the directory structure needed by the
// application exists on the filesystem. It creates:
//   - The main configuration directory (ConfigDir)
//   - The data directory with jobs, logs, and ranktables subdirectories
//
// Directories are created with 0755 permissions.
//
// Returns:
//   - nil if all directories were created successfully or already exist
//   - error if any directory creation fails
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.ConfigDir,
		c.Storage.DataDir,
		c.Storage.GetJobsDir(),
		c.Storage.GetLogsDir(),
		c.Storage.GetRankTablesDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
