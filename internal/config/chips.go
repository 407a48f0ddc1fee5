// Chip model tables used during NPU detection.
//
// Detection matches PCI vendor/device identifiers against this table. A
// builtin table covers the Ascend chips the launcher targets; deployments
// with newer silicon can override it with a YAML file without a rebuild.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhenhua32/mindformers/internal/logger"
)

const (
	// VendorIDHuawei is the PCI vendor identifier for Huawei silicon.
	VendorIDHuawei = "0x19e5"

	// chipConfigEnv names an optional YAML file replacing the builtin table.
	chipConfigEnv = "XFORMER_CHIP_CONFIG"
)

// ChipModel defines one recognized NPU model.
type ChipModel struct {
	// VendorID is the PCI vendor identifier (16-bit hex value).
	// Example: "0x19e5"
	VendorID string `yaml:"vendor_id"`

	// DeviceID is the PCI device identifier (16-bit hex value).
	// Example: "0xd802" for Ascend 910B
	DeviceID string `yaml:"device_id"`

	// ModelName is the human-readable chip model name.
	// Example: "Ascend 910B"
	ModelName string `yaml:"model_name"`

	// MemoryMB is the on-chip memory size in MiB, zero when unknown.
	MemoryMB int `yaml:"memory_mb,omitempty"`

	// Generation groups related chip models (optional).
	// Example: "Ascend 9xx"
	Generation string `yaml:"generation,omitempty"`
}

// ChipsConfig is the root structure of a chip table override file.
type ChipsConfig struct {
	// Version specifies the table schema version.
	Version string `yaml:"version"`

	// Chips lists all recognized chip models.
	Chips []ChipModel `yaml:"chips"`
}

// builtinChips is the compiled-in table. Device identifiers follow the
// Ascend driver's PCI ids.
var builtinChips = &ChipsConfig{
	Version: "1",
	Chips: []ChipModel{
		{VendorID: VendorIDHuawei, DeviceID: "0xd100", ModelName: "Ascend 310", MemoryMB: 8192, Generation: "Ascend 3xx"},
		{VendorID: VendorIDHuawei, DeviceID: "0xd500", ModelName: "Ascend 310P", MemoryMB: 24576, Generation: "Ascend 3xx"},
		{VendorID: VendorIDHuawei, DeviceID: "0xd801", ModelName: "Ascend 910", MemoryMB: 32768, Generation: "Ascend 9xx"},
		{VendorID: VendorIDHuawei, DeviceID: "0xd802", ModelName: "Ascend 910B", MemoryMB: 65536, Generation: "Ascend 9xx"},
	},
}

// chipsLoader caches the effective chip table.
//
// Thread Safety: all methods are safe for concurrent use.
type chipsLoader struct {
	mu     sync.RWMutex
	config *ChipsConfig
	loaded bool
}

var chipTable = &chipsLoader{}

// LoadChipsConfig loads the chip table, from the override file when one is
// configured and from the builtin table otherwise.
//
// The table is cached after first load. Subsequent calls return the cached
// table without re-reading the file.
//
// Table Location Priority:
//  1. Provided path parameter
//  2. XFORMER_CHIP_CONFIG environment variable
//  3. Builtin table (no file access)
//
// Parameters:
//   - path: Optional path to an override file (empty string for default)
//
// Returns:
//   - Pointer to the effective ChipsConfig
//   - Error if an override file exists but cannot be read or validated
func LoadChipsConfig(path string) (*ChipsConfig, error) {
	chipTable.mu.Lock()
	defer chipTable.mu.Unlock()

	if chipTable.loaded {
		return chipTable.config, nil
	}

	if path == "" {
		path = os.Getenv(chipConfigEnv)
	}
	if path == "" {
		chipTable.config = builtinChips
		chipTable.loaded = true
		return chipTable.config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chip config file %s: %w", path, err)
	}

	var cfg ChipsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse chip config YAML: %w", err)
	}

	if err := validateChipsConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid chip configuration: %w", err)
	}

	logger.Debug("Loaded chip configuration from %s: %d model(s)", path, len(cfg.Chips))

	chipTable.config = &cfg
	chipTable.loaded = true
	return chipTable.config, nil
}

// ResetChipsConfig clears the cached table so the next load re-resolves it.
// Intended for tests.
func ResetChipsConfig() {
	chipTable.mu.Lock()
	defer chipTable.mu.Unlock()
	chipTable.config = nil
	chipTable.loaded = false
}

// validateChipsConfig performs validation on a chip table.
//
// Validation checks:
//   - Version field is present
//   - At least one chip model is defined
//   - Each model has vendor id, device id, and model name
//   - No duplicate vendor/device id pairs
func validateChipsConfig(cfg *ChipsConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("chip table version is required")
	}
	if len(cfg.Chips) == 0 {
		return fmt.Errorf("at least one chip model must be defined")
	}

	seen := make(map[string]bool)
	for i, chip := range cfg.Chips {
		if chip.VendorID == "" {
			return fmt.Errorf("chip[%d]: vendor_id is required", i)
		}
		if chip.DeviceID == "" {
			return fmt.Errorf("chip[%d]: device_id is required", i)
		}
		if chip.ModelName == "" {
			return fmt.Errorf("chip %s/%s: model_name is required", chip.VendorID, chip.DeviceID)
		}
		key := chip.VendorID + "/" + chip.DeviceID
		if seen[key] {
			return fmt.Errorf("duplicate chip identifier: %s", key)
		}
		seen[key] = true
	}

	return nil
}

// LookupChip searches the effective table for a chip by PCI identifiers.
//
// This is used during device detection to match discovered hardware against
// known chip models.
//
// Parameters:
//   - vendorID: PCI vendor identifier (e.g., "0x19e5")
//   - deviceID: PCI device identifier (e.g., "0xd802")
//
// Returns:
//   - Pointer to the ChipModel if found, nil if the hardware is unknown
//   - Error if the table cannot be loaded
func LookupChip(vendorID, deviceID string) (*ChipModel, error) {
	cfg, err := LoadChipsConfig("")
	if err != nil {
		return nil, err
	}
	for i := range cfg.Chips {
		if cfg.Chips[i].VendorID == vendorID && cfg.Chips[i].DeviceID == deviceID {
			return &cfg.Chips[i], nil
		}
	}
	return nil, nil
}
