package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/device"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

// NewRankTableCommand creates the ranktable command for HCCL rank
// table files
//
// The ranktable command provides subcommands for generating,
// validating, merging, and inspecting the hccl.json descriptors that
// rank table bootstrap distributes to every worker.
//
// Usage:
//
//	xformer ranktable generate -o hccl_8p.json   # Table for this host
//	xformer ranktable validate hccl_8p.json      # Check an existing table
//	xformer ranktable merge a.json b.json        # Combine per-host tables
//	xformer ranktable show hccl_16p.json         # Rank layout at a glance
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for rank table operations
func NewRankTableCommand(globalOpts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ranktable",
		Aliases: []string{"rt"},
		Short:   "Generate, validate, merge, and inspect rank tables",
		Long: `Work with HCCL rank table files (hccl.json).

A rank table assigns every device in the cluster a global rank and, on
multi-server clusters, the device NIC address the collective library
dials. The multi-machine workflow is: generate a table on each host,
merge them on one host, then distribute the merged table everywhere.`,
		Example: `  # Table for devices 0-7 of this host
  xformer ranktable generate --devices 0-7 -o hccl_8p.json

  # Combine two single-host tables into a 16 rank cluster table
  xformer ranktable merge host_a.json host_b.json -o hccl_16p.json

  # Check a hand-edited table before launching with it
  xformer ranktable validate hccl_16p.json`,
	}

	cmd.AddCommand(
		newRankTableGenerateCommand(globalOpts),
		newRankTableValidateCommand(globalOpts),
		newRankTableMergeCommand(globalOpts),
		newRankTableShowCommand(globalOpts),
	)

	return cmd
}

// newRankTableGenerateCommand creates the 'ranktable generate' subcommand
func newRankTableGenerateCommand(globalOpts *GlobalOptions) *cobra.Command {
	var (
		devicesFlag string
		serverID    string
		hccnConf    string
		deviceIPs   []string
		output      string
	)

	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen"},
		Short:   "Generate a rank table for this host",
		Long: `Generate a single-server rank table.

Devices default to every NPU detected on this host, ranks are assigned
in ascending device id order, and NIC addresses are read from the
device driver, then hccn.conf, then any --device-ip overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := parseDeviceList(devicesFlag)
			if err != nil {
				return err
			}

			manager := device.NewManager()
			if len(devices) == 0 {
				for _, npu := range manager.List() {
					devices = append(devices, npu.ID)
				}
				if len(devices) == 0 {
					return fmt.Errorf("no devices detected on this host, use --devices")
				}
			}

			ips := manager.NicIPs()
			for _, kv := range deviceIPs {
				idStr, ip, found := strings.Cut(kv, "=")
				if !found {
					return fmt.Errorf("invalid --device-ip %q, expected ID=ADDR", kv)
				}
				id, err := strconv.Atoi(strings.TrimSpace(idStr))
				if err != nil {
					return fmt.Errorf("invalid device id in --device-ip %q", kv)
				}
				ips[id] = strings.TrimSpace(ip)
			}

			table, err := ranktable.Generate(ranktable.GenerateOptions{
				ServerID:     serverID,
				Devices:      devices,
				DeviceIPs:    ips,
				HccnConfPath: hccnConf,
			})
			if err != nil {
				return err
			}

			if output == "" {
				output = fmt.Sprintf("hccl_%dp.json", table.RankCount())
			}
			if err := table.Save(output); err != nil {
				return err
			}

			fmt.Printf("✓ Rank table written to %s\n", output)
			fmt.Printf("  %d rank(s) on server %s\n", table.RankCount(), table.ServerList[0].ServerID)
			return nil
		},
	}

	cmd.Flags().StringVar(&devicesFlag, "devices", "", "device ids to include, e.g. 0-7 (default: all detected)")
	cmd.Flags().StringVar(&serverID, "server-id", "", "server id for this host (default: primary IPv4)")
	cmd.Flags().StringVar(&hccnConf, "hccn-conf", "", "hccn.conf location (default: "+ranktable.DefaultHccnConfPath+")")
	cmd.Flags().StringArrayVar(&deviceIPs, "device-ip", nil, "NIC address override as ID=ADDR (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: hccl_<N>p.json)")

	return cmd
}

// newRankTableValidateCommand creates the 'ranktable validate' subcommand
func newRankTableValidateCommand(globalOpts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a rank table file",
		Long: `Check that a rank table parses and satisfies the structural rules:
contiguous global ranks starting at 0, unique device ids per server,
matching server count, and NIC addresses on multi-server tables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := ranktable.LoadValid(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("✓ %s is valid\n", args[0])
			fmt.Printf("  %d rank(s) across %d server(s)\n", table.RankCount(), len(table.ServerList))
			for _, id := range table.ServerIDs() {
				ranks, err := table.LocalRanks(id)
				if err != nil {
					return err
				}
				fmt.Printf("  server %s: %d device(s), ranks %s\n", id, len(ranks), formatRanks(ranks))
			}
			return nil
		},
	}
}

// newRankTableMergeCommand creates the 'ranktable merge' subcommand
func newRankTableMergeCommand(globalOpts *GlobalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "merge FILE FILE...",
		Short: "Merge per-host tables into one cluster table",
		Long: `Merge two or more single-host rank tables into one cluster table.

Global ranks are reassigned sequentially in argument order. Every
device must carry a NIC address, because workers on different hosts
reach each other through the device NICs.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := make([]*ranktable.RankTable, 0, len(args))
			for _, path := range args {
				t, err := ranktable.Load(path)
				if err != nil {
					return err
				}
				tables = append(tables, t)
			}

			merged, err := ranktable.Merge(tables...)
			if err != nil {
				return err
			}

			if output == "" {
				output = fmt.Sprintf("hccl_%dp.json", merged.RankCount())
			}
			if err := merged.Save(output); err != nil {
				return err
			}

			fmt.Printf("✓ Merged %d table(s) into %s\n", len(tables), output)
			fmt.Printf("  %d rank(s) across %d server(s)\n", merged.RankCount(), len(merged.ServerList))
			logger.Debug("Merged servers: %s", strings.Join(merged.ServerIDs(), ", "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: hccl_<N>p.json)")

	return cmd
}

// newRankTableShowCommand creates the 'ranktable show' subcommand
func newRankTableShowCommand(globalOpts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show FILE",
		Short: "Show the rank layout of a table",
		Long:  `Print every rank of a table with its server and device assignment.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := ranktable.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Version: %s  Servers: %s  Status: %s\n\n",
				table.Version, table.ServerCount, table.Status)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tSERVER\tDEVICE\tDEVICE IP")
			fmt.Fprintln(w, "----\t------\t------\t---------")

			for _, server := range table.ServerList {
				for _, dev := range server.Device {
					ip := dev.DeviceIP
					if ip == "" {
						ip = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dev.RankID, server.ServerID, dev.DeviceID, ip)
				}
			}

			w.Flush()

			if err := table.Validate(); err != nil {
				fmt.Printf("\nWarning: table is not valid: %v\n", err)
				return nil
			}
			fmt.Printf("\nTotal: %d rank(s) across %d server(s)\n", table.RankCount(), len(table.ServerList))
			return nil
		},
	}
}

// formatRanks renders a rank list compactly, collapsing runs: 0-3, 6.
func formatRanks(ranks []int) string {
	if len(ranks) == 0 {
		return "-"
	}

	var parts []string
	start, prev := ranks[0], ranks[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, r := range ranks[1:] {
		if r == prev+1 {
			prev = r
			continue
		}
		flush()
		start, prev = r, r
	}
	flush()
	return strings.Join(parts, ",")
}
