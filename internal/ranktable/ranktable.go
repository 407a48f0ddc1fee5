// Package ranktable implements the rank table descriptor used to launch
// distributed training jobs.
//
// A rank table is a JSON document mapping physical NPU devices to logical
// process ranks and NIC addresses, grouped by server. The collective
// communication library consumes it (via the RANK_TABLE_FILE environment
// variable) to establish the inter-process topology, and it is extremely
// unforgiving about malformed input: a bad table surfaces as a hang or an
// opaque initialization failure minutes into a launch. This package
// therefore validates tables up front, and generates and merges them so
// operators do not have to hand-edit JSON.
//
// The on-disk format is the "version 1.0" schema. All scalar values are
// strings, including counts and ids; this package preserves that on the
// wire and converts at the edges.
package ranktable

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
)

const (
	// Version is the only rank table schema version this package handles.
	Version = "1.0"

	// StatusCompleted marks a table ready for consumption. Tables are
	// written in one shot, so every table this package produces or
	// accepts carries this status.
	StatusCompleted = "completed"

	// HostNicReserve is the conventional placeholder for the host NIC
	// field when the host network is not part of the collective plane.
	HostNicReserve = "reserve"
)

// allowedDeviceCounts are the per-server device counts the collective
// library supports. Asymmetric or odd-sized groups fail inside the ring
// builder, so they are rejected here.
var allowedDeviceCounts = map[int]bool{1: true, 2: true, 4: true, 8: true, 16: true}

// Device maps one physical NPU to a logical rank.
type Device struct {
	// DeviceID is the local device index on its server, as a string.
	// Matches /dev/davinci<DeviceID>.
	DeviceID string `json:"device_id"`

	// DeviceIP is the device NIC address used for inter-chip traffic.
	// Required for multi-server tables; may be empty on a single server
	// where communication stays on the local fabric.
	DeviceIP string `json:"device_ip,omitempty"`

	// RankID is the globally unique logical rank, as a string.
	RankID string `json:"rank_id"`
}

// Server groups the devices of one physical host.
type Server struct {
	// ServerID identifies the host, conventionally its management IP.
	ServerID string `json:"server_id"`

	// Device lists the host's participating NPUs.
	Device []Device `json:"device"`

	// HostNicIP is the host NIC address, or "reserve" when unused.
	HostNicIP string `json:"host_nic_ip,omitempty"`
}

// RankTable is the parsed form of a rank table descriptor.
type RankTable struct {
	// Version is the schema version, always "1.0".
	Version string `json:"version"`

	// ServerCount is the number of servers, as a string.
	ServerCount string `json:"server_count"`

	// ServerList holds one entry per participating host.
	ServerList []Server `json:"server_list"`

	// Status is "completed" for a finished table.
	Status string `json:"status"`
}

// Parse decodes a rank table from JSON bytes.
//
// Parsing alone accepts any structurally valid JSON matching the schema;
// call Validate to enforce the semantic invariants.
func Parse(data []byte) (*RankTable, error) {
	var table RankTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse rank table JSON: %w", err)
	}
	return &table, nil
}

// Load reads and decodes a rank table file.
//
// Parameters:
//   - path: Path to the rank table JSON file
//
// Returns:
//   - The decoded table (not yet validated)
//   - Error if the file cannot be read or parsed
func Load(path string) (*RankTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rank table %s: %w", path, err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rank table %s: %w", path, err)
	}
	return table, nil
}

// LoadValid reads, decodes, and validates a rank table file in one step.
// This is the entry point launch paths use.
func LoadValid(path string) (*RankTable, error) {
	table, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("rank table %s: %w", path, err)
	}
	return table, nil
}

// RankCount returns the total number of devices, which equals the number
// of ranks in a valid table.
func (t *RankTable) RankCount() int {
	n := 0
	for i := range t.ServerList {
		n += len(t.ServerList[i].Device)
	}
	return n
}

// ServerIDs returns the server ids in table order.
func (t *RankTable) ServerIDs() []string {
	ids := make([]string, 0, len(t.ServerList))
	for i := range t.ServerList {
		ids = append(ids, t.ServerList[i].ServerID)
	}
	return ids
}

// FindRank locates a rank id and returns its server and device.
//
// Returns:
//   - The owning server and the device entry
//   - false if the rank id does not appear in the table
func (t *RankTable) FindRank(rankID int) (*Server, *Device, bool) {
	want := strconv.Itoa(rankID)
	for i := range t.ServerList {
		for j := range t.ServerList[i].Device {
			if t.ServerList[i].Device[j].RankID == want {
				return &t.ServerList[i], &t.ServerList[i].Device[j], true
			}
		}
	}
	return nil, nil, false
}

// DevicesOf returns the devices of the named server, or nil when the
// server is not in the table.
func (t *RankTable) DevicesOf(serverID string) []Device {
	for i := range t.ServerList {
		if t.ServerList[i].ServerID == serverID {
			return t.ServerList[i].Device
		}
	}
	return nil
}

// LocalRanks returns the rank ids hosted by the named server, sorted
// ascending. Launchers use this to decide which workers to spawn locally.
func (t *RankTable) LocalRanks(serverID string) ([]int, error) {
	devices := t.DevicesOf(serverID)
	if devices == nil {
		return nil, fmt.Errorf("server %s not found in rank table", serverID)
	}
	ranks := make([]int, 0, len(devices))
	for _, d := range devices {
		r, err := strconv.Atoi(d.RankID)
		if err != nil {
			return nil, fmt.Errorf("server %s device %s: invalid rank id %q", serverID, d.DeviceID, d.RankID)
		}
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks, nil
}

// Validate enforces the semantic invariants of a rank table.
//
// Checks, in order:
//   - version is "1.0" and status is "completed"
//   - server_count parses and equals the server list length
//   - server ids are non-empty, unique, and valid IPv4 when IP-shaped
//   - every server carries the same device count, from the supported set
//   - device ids are integers, unique within their server
//   - device NIC addresses are valid IPv4, unique table-wide, and present
//     on every device of a multi-server table
//   - rank ids are integers, globally unique, covering 0..N-1 exactly
//
// Returns:
//   - nil if the table is valid
//   - Error naming the first violation with server/device context
func (t *RankTable) Validate() error {
	if t.Version != Version {
		return fmt.Errorf("unsupported rank table version %q, want %q", t.Version, Version)
	}
	if t.Status != StatusCompleted {
		return fmt.Errorf("rank table status is %q, want %q", t.Status, StatusCompleted)
	}
	if len(t.ServerList) == 0 {
		return fmt.Errorf("rank table has no servers")
	}

	count, err := strconv.Atoi(t.ServerCount)
	if err != nil {
		return fmt.Errorf("server_count %q is not a number", t.ServerCount)
	}
	if count != len(t.ServerList) {
		return fmt.Errorf("server_count is %d but server_list has %d entries", count, len(t.ServerList))
	}

	multiServer := len(t.ServerList) > 1
	serverIDs := make(map[string]bool)
	deviceIPs := make(map[string]string)
	ranks := make(map[int]string)
	deviceCount := -1

	for si := range t.ServerList {
		srv := &t.ServerList[si]
		if srv.ServerID == "" {
			return fmt.Errorf("server[%d]: server_id is empty", si)
		}
		if serverIDs[srv.ServerID] {
			return fmt.Errorf("duplicate server_id %q", srv.ServerID)
		}
		serverIDs[srv.ServerID] = true

		if looksLikeIP(srv.ServerID) && net.ParseIP(srv.ServerID) == nil {
			return fmt.Errorf("server %q: server_id is not a valid IP address", srv.ServerID)
		}

		if len(srv.Device) == 0 {
			return fmt.Errorf("server %q has no devices", srv.ServerID)
		}
		if deviceCount == -1 {
			deviceCount = len(srv.Device)
			if !allowedDeviceCounts[deviceCount] {
				return fmt.Errorf("server %q has %d devices, supported counts are 1, 2, 4, 8, 16",
					srv.ServerID, deviceCount)
			}
		} else if len(srv.Device) != deviceCount {
			return fmt.Errorf("server %q has %d devices but server %q has %d; all servers must carry the same count",
				srv.ServerID, len(srv.Device), t.ServerList[0].ServerID, deviceCount)
		}

		localIDs := make(map[int]bool)
		for di := range srv.Device {
			dev := &srv.Device[di]

			id, err := strconv.Atoi(dev.DeviceID)
			if err != nil || id < 0 {
				return fmt.Errorf("server %q: invalid device_id %q", srv.ServerID, dev.DeviceID)
			}
			if localIDs[id] {
				return fmt.Errorf("server %q: duplicate device_id %d", srv.ServerID, id)
			}
			localIDs[id] = true

			if dev.DeviceIP == "" {
				if multiServer {
					return fmt.Errorf("server %q device %d: device_ip is required in a multi-server table",
						srv.ServerID, id)
				}
			} else {
				if ip := net.ParseIP(dev.DeviceIP); ip == nil || ip.To4() == nil {
					return fmt.Errorf("server %q device %d: device_ip %q is not a valid IPv4 address",
						srv.ServerID, id, dev.DeviceIP)
				}
				if owner, dup := deviceIPs[dev.DeviceIP]; dup {
					return fmt.Errorf("device_ip %s assigned to both server %q and server %q",
						dev.DeviceIP, owner, srv.ServerID)
				}
				deviceIPs[dev.DeviceIP] = srv.ServerID
			}

			rank, err := strconv.Atoi(dev.RankID)
			if err != nil || rank < 0 {
				return fmt.Errorf("server %q device %d: invalid rank_id %q", srv.ServerID, id, dev.RankID)
			}
			if owner, dup := ranks[rank]; dup {
				return fmt.Errorf("rank_id %d assigned to both server %q and server %q",
					rank, owner, srv.ServerID)
			}
			ranks[rank] = srv.ServerID
		}
	}

	// Contiguity: N ranks, each unique, must be exactly 0..N-1.
	total := t.RankCount()
	for r := 0; r < total; r++ {
		if _, ok := ranks[r]; !ok {
			return fmt.Errorf("rank ids are not contiguous: rank %d missing from range 0..%d", r, total-1)
		}
	}

	return nil
}

// looksLikeIP reports whether s is dotted-decimal shaped. Hostname server
// ids skip IP validation.
func looksLikeIP(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}
