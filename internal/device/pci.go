package device

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zhenhua32/mindformers/internal/config"
)

// PCIDevice represents a PCI device with its identifiers.
type PCIDevice struct {
	// VendorID is the PCI vendor ID (e.g., "0x19e5")
	VendorID string

	// DeviceID is the PCI device ID (e.g., "0xd802")
	DeviceID string

	// BusAddress is the PCI bus address (e.g., "0000:c1:00.0")
	BusAddress string

	// Class is the PCI device class (e.g., "0x120000")
	Class string
}

// ScanPCIDevices scans the system for PCI devices.
//
// This function reads PCI device information from <root>/sys/bus/pci/devices
// which is the standard location on Linux systems. The root parameter exists
// so tests can point the scan at a fixture tree.
//
// Returns:
//   - Slice of PCIDevice found on the system
//   - Error if scanning fails
func ScanPCIDevices(root string) ([]PCIDevice, error) {
	scanPath := filepath.Join(root, pciDevicesPath)

	if _, err := os.Stat(scanPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("PCI devices path not found: %s", scanPath)
	}

	entries, err := os.ReadDir(scanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCI devices: %w", err)
	}

	var devices []PCIDevice
	for _, entry := range entries {
		devicePath := filepath.Join(scanPath, entry.Name())
		device, err := readPCIDevice(devicePath, entry.Name())
		if err != nil {
			// Individual unreadable entries are skipped, not fatal.
			continue
		}
		devices = append(devices, device)
	}

	return devices, nil
}

// readPCIDevice reads PCI device information from sysfs.
func readPCIDevice(devicePath, busAddress string) (PCIDevice, error) {
	device := PCIDevice{
		BusAddress: busAddress,
	}

	vendorID, err := readPCIFile(filepath.Join(devicePath, "vendor"))
	if err != nil {
		return device, err
	}
	device.VendorID = vendorID

	deviceID, err := readPCIFile(filepath.Join(devicePath, "device"))
	if err != nil {
		return device, err
	}
	device.DeviceID = deviceID

	if class, err := readPCIFile(filepath.Join(devicePath, "class")); err == nil {
		device.Class = class
	}

	return device, nil
}

// readPCIFile reads a single line from a PCI sysfs file.
func readPCIFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// DetectedChip represents one NPU found during a PCI scan.
type DetectedChip struct {
	// VendorID is the PCI vendor ID
	VendorID string `json:"vendor_id"`

	// DeviceID is the PCI device ID
	DeviceID string `json:"device_id"`

	// BusAddress is the PCI bus address
	BusAddress string `json:"bus_address"`

	// ModelName is the chip model name from the chip table
	ModelName string `json:"model_name"`

	// MemoryMB is the on-chip memory size from the chip table
	MemoryMB int `json:"memory_mb"`

	// Generation is the chip generation
	Generation string `json:"generation"`
}

// FindNPUChips scans for known NPU chips on the system.
//
// This function combines PCI device scanning with the chip table to
// identify accelerators present in the system. Chips are returned sorted
// by bus address, which matches the driver's device index assignment on
// every supported platform.
//
// Returns:
//   - Slice of DetectedChip in bus address order
//   - Error if scanning fails
func FindNPUChips(root string) ([]DetectedChip, error) {
	devices, err := ScanPCIDevices(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan PCI devices: %w", err)
	}
	return resolveChips(devices)
}

// lspciCommand runs `lspci -nn`, swapped out in tests.
var lspciCommand = func() ([]byte, error) {
	return exec.Command("lspci", "-nn").Output()
}

// FindNPUChipsLspci detects NPU chips through `lspci -nn`.
//
// This is the fallback path for hosts where sysfs PCI access is
// restricted (containers, hardened kernels) while lspci still works.
// Results match FindNPUChips: chip-table resolved, bus address order.
func FindNPUChipsLspci() ([]DetectedChip, error) {
	output, err := lspciCommand()
	if err != nil {
		return nil, fmt.Errorf("lspci failed: %w", err)
	}
	return resolveChips(ParseLspciOutput(string(output)))
}

// resolveChips maps scanned PCI devices onto chip table entries, keeping
// only known NPUs, sorted by bus address.
func resolveChips(devices []PCIDevice) ([]DetectedChip, error) {
	var chips []DetectedChip
	for _, device := range devices {
		if device.Class != "" && !strings.HasPrefix(device.Class, acceleratorClassPrefix) {
			continue
		}
		chip, err := config.LookupChip(device.VendorID, device.DeviceID)
		if err != nil {
			return nil, err
		}
		if chip == nil {
			// Not a known NPU.
			continue
		}
		chips = append(chips, DetectedChip{
			VendorID:   device.VendorID,
			DeviceID:   device.DeviceID,
			BusAddress: device.BusAddress,
			ModelName:  chip.ModelName,
			MemoryMB:   chip.MemoryMB,
			Generation: chip.Generation,
		})
	}

	sort.Slice(chips, func(i, j int) bool {
		return chips[i].BusAddress < chips[j].BusAddress
	})
	return chips, nil
}

// ParseLspciOutput parses the output of `lspci -nn`.
//
// This is an alternative detection path for systems where sysfs access is
// restricted. The expected line format is:
// "bus:dev.fn Class [class]: Vendor Device [vid:did]"
//
// Parameters:
//   - output: The output from lspci -nn
//
// Returns:
//   - Slice of PCIDevice parsed from the output
func ParseLspciOutput(output string) []PCIDevice {
	var devices []PCIDevice

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if device := parseLspciLine(scanner.Text()); device != nil {
			devices = append(devices, *device)
		}
	}

	return devices
}

// parseLspciLine parses a single line from lspci -nn output.
func parseLspciLine(line string) *PCIDevice {
	// Example: "c1:00.0 Processing accelerators [1200]: Huawei Technologies Co., Ltd. Device [19e5:d802]"
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}

	device := &PCIDevice{
		BusAddress: fields[0],
	}

	idEnd := strings.LastIndex(line, "]")
	lastBracket := strings.LastIndex(line, "[")
	if lastBracket == -1 || idEnd <= lastBracket {
		return nil
	}
	ids := line[lastBracket+1 : idEnd]
	parts := strings.Split(ids, ":")
	if len(parts) != 2 {
		return nil
	}
	device.VendorID = "0x" + strings.TrimSpace(parts[0])
	device.DeviceID = "0x" + strings.TrimSpace(parts[1])

	return device
}
