// Package device provides Ascend NPU detection and inventory.
//
// This package answers three questions the launcher needs before touching
// any hardware:
//   - which NPUs exist on this host (driver nodes under /dev, PCI scan)
//   - what they are (chip table lookup by PCI identifiers)
//   - how they are addressed on the collective network (hccn.conf)
//
// Detection is filesystem-only. Vendor management tooling can report more
// (utilization, temperature, health) but is not required for launch, and
// hosts in recovery frequently have the tooling broken while the driver
// nodes still work.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

// NPU represents one detected accelerator on the local host.
type NPU struct {
	// ID is the logical device id, matching /dev/davinci<ID>.
	ID int `json:"id"`

	// Product is the chip product name resolved from the chip table,
	// or "unknown" when the PCI identity could not be resolved.
	Product string `json:"product"`

	// PCIAddress is the PCI bus address when the scan could attribute
	// one to this device.
	PCIAddress string `json:"pci_address,omitempty"`

	// MemoryMB is the on-chip memory size in MiB, zero when unknown.
	MemoryMB int `json:"memory_mb,omitempty"`

	// NicIP is the device NIC address from hccn.conf, empty when absent.
	NicIP string `json:"nic_ip,omitempty"`
}

// Manager maintains the per-host NPU inventory.
//
// The Manager performs detection at creation time and serves the result
// from memory. Rescan refreshes the inventory; the monitor calls it on
// each devices request so hot-replugged hardware shows up without a
// restart.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	mu   sync.RWMutex
	root string
	npus []NPU
}

// NewManager creates a manager scanning the real filesystem root and runs
// the initial detection.
func NewManager() *Manager {
	return NewManagerWithRoot("/")
}

// NewManagerWithRoot creates a manager scanning below the given root.
// Tests use this with a fixture tree.
func NewManagerWithRoot(root string) *Manager {
	m := &Manager{root: root}
	if err := m.Rescan(); err != nil {
		logger.Debug("Device detection failed: %v", err)
	}
	return m
}

// Rescan re-runs detection and replaces the inventory.
//
// Detection sources, in order:
//  1. /dev/davinci<N> nodes name the device ids the driver exposes.
//  2. The PCI scan identifies the chip product; chips are attributed to
//     device ids in bus address order, the driver's own assignment order.
//     When sysfs is restricted, `lspci -nn` stands in.
//  3. hccn.conf supplies per-device NIC addresses when configured.
//
// A host with no NPUs yields an empty inventory, not an error; errors are
// reserved for broken scans (unreadable sysfs with driver nodes present).
func (m *Manager) Rescan() error {
	ids := m.scanDavinciNodes()

	chips, err := FindNPUChips(m.root)
	if err != nil && m.root == "/" {
		// Containers and hardened kernels restrict sysfs while lspci
		// still sees the bus. Only meaningful against the real root.
		if fallback, lspciErr := FindNPUChipsLspci(); lspciErr == nil {
			chips, err = fallback, nil
		} else {
			logger.Debug("lspci fallback failed: %v", lspciErr)
		}
	}
	if err != nil {
		if len(ids) > 0 {
			return fmt.Errorf("davinci nodes present but PCI scan failed: %w", err)
		}
		chips = nil
	}

	// Driver nodes are authoritative for ids. Without any (driver not
	// loaded), fall back to sequential ids for whatever PCI reported so
	// the operator at least sees the hardware.
	if len(ids) == 0 {
		for i := range chips {
			ids = append(ids, i)
		}
	}

	nicIPs, err := ranktable.ParseHccnConf(filepath.Join(m.root, ranktable.DefaultHccnConfPath))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to parse hccn.conf: %v", err)
		}
		nicIPs = map[int]string{}
	}

	npus := make([]NPU, 0, len(ids))
	for i, id := range ids {
		npu := NPU{ID: id, Product: "unknown", NicIP: nicIPs[id]}
		if i < len(chips) {
			npu.Product = chips[i].ModelName
			npu.PCIAddress = chips[i].BusAddress
			npu.MemoryMB = chips[i].MemoryMB
		}
		npus = append(npus, npu)
	}

	if len(chips) > 0 && len(chips) != len(npus) {
		logger.Debug("PCI scan found %d NPU(s) but %d davinci node(s) exist", len(chips), len(npus))
	}

	m.mu.Lock()
	m.npus = npus
	m.mu.Unlock()
	return nil
}

// scanDavinciNodes probes for /dev/davinci<N> and returns the ids found,
// ascending.
func (m *Manager) scanDavinciNodes() []int {
	var ids []int
	for id := 0; id <= maxDeviceID; id++ {
		path := filepath.Join(m.root, DevDavinciPrefix+strconv.Itoa(id))
		if _, err := os.Stat(path); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// List returns a copy of the current inventory, ascending by id.
func (m *Manager) List() []NPU {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]NPU(nil), m.npus...)
}

// Count returns the number of detected NPUs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.npus)
}

// Get returns the NPU with the given id.
//
// Returns:
//   - The NPU entry
//   - Error if no such device was detected
func (m *Manager) Get(id int) (NPU, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, npu := range m.npus {
		if npu.ID == id {
			return npu, nil
		}
	}
	return NPU{}, fmt.Errorf("device %d not detected on this host", id)
}

// Exists verifies that every requested device id was detected.
//
// Returns:
//   - nil if all ids are present
//   - Error naming the first missing id
func (m *Manager) Exists(ids ...int) error {
	for _, id := range ids {
		if _, err := m.Get(id); err != nil {
			return err
		}
	}
	return nil
}

// NicIPs returns the device NIC address map for rank table generation.
func (m *Manager) NicIPs() map[int]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ips := make(map[int]string)
	for _, npu := range m.npus {
		if npu.NicIP != "" {
			ips[npu.ID] = npu.NicIP
		}
	}
	return ips
}

// PickFree selects n devices that are not in the busy set, preferring low
// ids. Busy maps device id to the job holding it, so the error can name
// the conflict when the host cannot satisfy the request.
//
// Parameters:
//   - n: Number of devices needed
//   - busy: Devices currently held, device id to job id
//
// Returns:
//   - The selected device ids, ascending
//   - Error if fewer than n devices are free
func (m *Manager) PickFree(n int, busy map[int]string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var free []int
	for _, npu := range m.npus {
		if _, held := busy[npu.ID]; !held {
			free = append(free, npu.ID)
		}
	}
	if len(free) < n {
		return nil, fmt.Errorf("need %d free device(s) but only %d of %d are free",
			n, len(free), len(m.npus))
	}
	sort.Ints(free)
	return free[:n], nil
}
