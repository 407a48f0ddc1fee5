// Package device provides Ascend NPU detection and inventory.
package device

// Device node paths exposed by the NPU driver, relative to the root.
// Workers and containers need the per-device node plus the three shared
// management nodes.
const (
	// DevDavinciPrefix is the per-device node prefix; device N appears
	// as /dev/davinci<N>.
	DevDavinciPrefix = "/dev/davinci"

	// DevDavinciManager is the driver management node.
	DevDavinciManager = "/dev/davinci_manager"

	// DevDevmmSvm is the shared virtual memory node.
	DevDevmmSvm = "/dev/devmm_svm"

	// DevHisiHdc is the host-device communication node.
	DevHisiHdc = "/dev/hisi_hdc"
)

// DriverDir is the host driver installation mounted into containers.
const DriverDir = "/usr/local/Ascend/driver"

// PCI scanning locations and identifiers.
const (
	// pciDevicesPath is the sysfs PCI device directory, relative to root.
	pciDevicesPath = "/sys/bus/pci/devices"

	// acceleratorClassPrefix is the PCI class of processing accelerators.
	acceleratorClassPrefix = "0x1200"

	// maxDeviceID bounds the davinci node probe.
	maxDeviceID = 15
)
