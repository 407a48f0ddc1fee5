package ranktable

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultHccnConfPath is where the NPU driver records device NIC
// addresses, one "address_<N>=<ip>" line per device.
const DefaultHccnConfPath = "/etc/hccn.conf"

// GenerateOptions controls single-server table generation.
type GenerateOptions struct {
	// ServerID identifies this host in the table. Empty selects the
	// first non-loopback IPv4 of the host.
	ServerID string

	// Devices are the local device ids to include, ascending rank order.
	// Required.
	Devices []int

	// DeviceIPs maps device id to NIC address. Ids absent from the map
	// fall back to the hccn.conf lookup; a device with no address in
	// either place is left without one (valid on a single server).
	DeviceIPs map[int]string

	// HccnConfPath overrides the hccn.conf location. Empty selects
	// DefaultHccnConfPath; a missing file is not an error.
	HccnConfPath string
}

// Generate builds a validated single-server rank table.
//
// Ranks are assigned 0..N-1 in ascending device id order, matching the
// convention of the cluster tooling this replaces.
//
// Returns:
//   - The generated table, already validated
//   - Error if the options are inconsistent or validation fails
func Generate(opts GenerateOptions) (*RankTable, error) {
	if len(opts.Devices) == 0 {
		return nil, fmt.Errorf("no devices specified")
	}

	devices := append([]int(nil), opts.Devices...)
	sort.Ints(devices)
	for i := 1; i < len(devices); i++ {
		if devices[i] == devices[i-1] {
			return nil, fmt.Errorf("duplicate device id %d", devices[i])
		}
	}

	serverID := opts.ServerID
	if serverID == "" {
		ip, err := hostPrimaryIP()
		if err != nil {
			return nil, fmt.Errorf("server id not given and host IP detection failed: %w", err)
		}
		serverID = ip
	}

	nicIPs := map[int]string{}
	confPath := opts.HccnConfPath
	if confPath == "" {
		confPath = DefaultHccnConfPath
	}
	if parsed, err := ParseHccnConf(confPath); err == nil {
		nicIPs = parsed
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	for id, ip := range opts.DeviceIPs {
		nicIPs[id] = ip
	}

	table := &RankTable{
		Version:     Version,
		ServerCount: "1",
		Status:      StatusCompleted,
		ServerList: []Server{{
			ServerID:  serverID,
			HostNicIP: HostNicReserve,
		}},
	}

	for rank, id := range devices {
		table.ServerList[0].Device = append(table.ServerList[0].Device, Device{
			DeviceID: strconv.Itoa(id),
			DeviceIP: nicIPs[id],
			RankID:   strconv.Itoa(rank),
		})
	}

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("generated table is invalid: %w", err)
	}
	return table, nil
}

// Merge combines per-server tables into one cluster table.
//
// This is the multi-machine workflow: each host generates its own table,
// then one merged table is distributed to all of them. Global rank ids are
// reassigned sequentially, server by server in argument order, devices in
// ascending device id order within each server. Every device must carry a
// NIC address, because the merged table is by construction multi-server.
//
// Returns:
//   - The merged table, already validated
//   - Error on duplicate servers, missing NIC addresses, or any
//     validation failure of the result
func Merge(tables ...*RankTable) (*RankTable, error) {
	if len(tables) < 2 {
		return nil, fmt.Errorf("merge needs at least two tables, got %d", len(tables))
	}

	merged := &RankTable{
		Version: Version,
		Status:  StatusCompleted,
	}

	rank := 0
	seen := make(map[string]bool)
	for ti, t := range tables {
		if t == nil {
			return nil, fmt.Errorf("table[%d] is nil", ti)
		}
		for si := range t.ServerList {
			src := &t.ServerList[si]
			if seen[src.ServerID] {
				return nil, fmt.Errorf("server %q appears in more than one input table", src.ServerID)
			}
			seen[src.ServerID] = true

			devices := append([]Device(nil), src.Device...)
			sort.Slice(devices, func(a, b int) bool {
				ai, _ := strconv.Atoi(devices[a].DeviceID)
				bi, _ := strconv.Atoi(devices[b].DeviceID)
				return ai < bi
			})

			out := Server{ServerID: src.ServerID, HostNicIP: src.HostNicIP}
			if out.HostNicIP == "" {
				out.HostNicIP = HostNicReserve
			}
			for _, d := range devices {
				if d.DeviceIP == "" {
					return nil, fmt.Errorf("server %q device %s: device_ip required to merge into a multi-server table",
						src.ServerID, d.DeviceID)
				}
				out.Device = append(out.Device, Device{
					DeviceID: d.DeviceID,
					DeviceIP: d.DeviceIP,
					RankID:   strconv.Itoa(rank),
				})
				rank++
			}
			merged.ServerList = append(merged.ServerList, out)
		}
	}

	merged.ServerCount = strconv.Itoa(len(merged.ServerList))

	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("merged table is invalid: %w", err)
	}
	return merged, nil
}

// Save writes the table as indented JSON, atomically (temp file plus
// rename) so a concurrent reader never observes a partial table.
func (t *RankTable) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rank table: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".ranktable-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write rank table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close rank table temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod rank table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename rank table into place: %w", err)
	}
	return nil
}

// ParseHccnConf extracts device NIC addresses from an hccn.conf file.
//
// Recognized lines have the form "address_<N>=<ipv4>"; everything else
// (netdetect, gateway, comments) is skipped.
//
// Returns:
//   - Map from device id to NIC address
//   - Error if the file cannot be opened or an address line is malformed
func ParseHccnConf(path string) (map[int]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ips := make(map[int]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "address_") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("%s:%d: malformed line %q", path, lineNo, line)
		}
		id, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(key), "address_"))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad device index in %q", path, lineNo, line)
		}
		ip := strings.TrimSpace(value)
		if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
			return nil, fmt.Errorf("%s:%d: %q is not a valid IPv4 address", path, lineNo, ip)
		}
		ips[id] = ip
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ips, nil
}

// hostPrimaryIP returns the first global unicast IPv4 of the host.
func hostPrimaryIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
