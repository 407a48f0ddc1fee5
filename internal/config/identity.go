package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ServerConfFileName is the name of the persisted monitor identity file.
const ServerConfFileName = "server.conf"

// ServerIdentity represents the monitor's persistent identity.
//
// The identity survives restarts so that logs, docker labels, and remote
// clients can correlate a host across monitor lifetimes.
type ServerIdentity struct {
	// Name is the unique identifier for this monitor instance.
	// Generated on first start as "xformer-<short uuid>".
	Name string `json:"name"`

	// Version is the binary version that last wrote this file.
	Version string `json:"version"`
}

// GenerateServerName generates a fresh monitor instance name.
func GenerateServerName() string {
	return "xformer-" + strings.Split(uuid.NewString(), "-")[0]
}

// GetOrCreateServerIdentity retrieves the monitor identity from server.conf
// or creates a new one if it doesn't exist.
//
// Missing fields in an existing file are filled with defaults and the file
// is rewritten, so upgrades never lose the persisted name.
//
// Returns the identity or an error if reading/writing fails.
func (c *Config) GetOrCreateServerIdentity() (*ServerIdentity, error) {
	confPath := filepath.Join(c.Storage.DataDir, ServerConfFileName)

	if _, err := os.Stat(confPath); err == nil {
		identity, err := readServerIdentity(confPath)
		if err != nil {
			return nil, err
		}

		needsUpdate := false
		if identity.Name == "" {
			identity.Name = GenerateServerName()
			needsUpdate = true
		}
		if identity.Version != c.binaryVersion() {
			identity.Version = c.binaryVersion()
			needsUpdate = true
		}

		if needsUpdate {
			if err := writeServerIdentity(confPath, identity); err != nil {
				return nil, fmt.Errorf("failed to update server identity: %w", err)
			}
		}

		return identity, nil
	}

	identity := &ServerIdentity{
		Name:    GenerateServerName(),
		Version: c.binaryVersion(),
	}

	if err := writeServerIdentity(confPath, identity); err != nil {
		return nil, fmt.Errorf("failed to write server identity: %w", err)
	}

	return identity, nil
}

func (c *Config) binaryVersion() string {
	if c.BinaryVersion != "" {
		return c.BinaryVersion
	}
	return "v0.0.0"
}

func readServerIdentity(path string) (*ServerIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server identity %s: %w", path, err)
	}

	var identity ServerIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("failed to parse server identity %s: %w", path, err)
	}

	return &identity, nil
}

func writeServerIdentity(path string, identity *ServerIdentity) error {
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal server identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for server identity: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write server identity %s: %w", path, err)
	}

	return nil
}
