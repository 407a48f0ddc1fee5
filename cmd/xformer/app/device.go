package app

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/device"
)

// NewDeviceCommand creates the device command for NPU inventory
//
// The device command provides subcommands for listing the accelerator
// devices of this host and their interconnect addresses.
//
// Usage:
//
//	xformer device list    # List NPUs with busy state
//	xformer device ips     # Device NIC addresses for rank tables
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for device operations
func NewDeviceCommand(globalOpts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "NPU inventory and interconnect addresses",
		Long: `Inspect the accelerator devices of this host.

Devices are read from the driver's sysfs tree. With --server set the
inventory comes from the monitor daemon of that host instead, which is
how a launch host checks a remote worker before merging rank tables.`,
		Example: `  # List NPUs with their busy state
  xformer device list

  # Device NIC addresses as used in rank tables
  xformer device ips`,
	}

	cmd.AddCommand(
		newDeviceListCommand(globalOpts),
		newDeviceIPsCommand(globalOpts),
	)

	return cmd
}

// newDeviceListCommand creates the 'device list' subcommand
func newDeviceListCommand(globalOpts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List NPUs with their busy state",
		Long:    `List every NPU of the host with its memory and which job, if any, holds it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := listDeviceInfos(globalOpts)
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				fmt.Println("No NPUs detected on this host.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRODUCT\tPCI ADDRESS\tMEMORY\tSTATE")
			fmt.Fprintln(w, "--\t-------\t-----------\t------\t-----")

			busyCount := 0
			for _, d := range devices {
				state := "free"
				if d.Busy {
					state = "busy (" + d.JobID + ")"
					busyCount++
				}
				memory := "-"
				if d.MemoryMB > 0 {
					memory = fmt.Sprintf("%d MB", d.MemoryMB)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					d.ID, d.Product, d.PCIAddress, memory, state)
			}

			w.Flush()

			fmt.Printf("\nTotal: %d NPU(s), %d busy\n", len(devices), busyCount)
			return nil
		},
	}
}

// newDeviceIPsCommand creates the 'device ips' subcommand
func newDeviceIPsCommand(globalOpts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ips",
		Short: "Show device NIC addresses",
		Long: `Show the interconnect NIC address of each device.

These are the device_ip values rank tables carry; a device without one
can only take part in single-server jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := listDeviceInfos(globalOpts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNIC ADDRESS")
			fmt.Fprintln(w, "--\t-----------")

			withIP := 0
			for _, d := range devices {
				ip := d.NicIP
				if ip == "" {
					ip = "-"
				} else {
					withIP++
				}
				fmt.Fprintf(w, "%d\t%s\n", d.ID, ip)
			}

			w.Flush()

			if withIP < len(devices) {
				fmt.Printf("\n%d device(s) have no NIC address, multi-server tables need one per device\n",
					len(devices)-withIP)
			}
			return nil
		},
	}
}

// listDeviceInfos reads the inventory from the monitor daemon when one
// is configured, else from the local driver with busy state filled in
// from the job store.
func listDeviceInfos(globalOpts *GlobalOptions) ([]api.DeviceInfo, error) {
	if useMonitor(globalOpts) {
		client := getClient(globalOpts)
		devices, err := client.ListDevices()
		if err != nil {
			return nil, fmt.Errorf("failed to list devices: %w", err)
		}
		return devices, nil
	}

	_, store, err := openStore()
	if err != nil {
		return nil, err
	}
	busy, err := store.RunningDevices()
	if err != nil {
		return nil, err
	}

	manager := device.NewManager()
	var infos []api.DeviceInfo
	for _, npu := range manager.List() {
		info := api.DeviceInfo{
			ID:         npu.ID,
			Product:    npu.Product,
			PCIAddress: npu.PCIAddress,
			MemoryMB:   npu.MemoryMB,
			NicIP:      npu.NicIP,
		}
		if jobID, held := busy[npu.ID]; held {
			info.Busy = true
			info.JobID = jobID
		}
		infos = append(infos, info)
	}
	return infos, nil
}
