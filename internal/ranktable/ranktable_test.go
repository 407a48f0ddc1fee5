package ranktable

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoServerTable builds a valid 2x8 cluster table.
func twoServerTable() *RankTable {
	table := &RankTable{
		Version:     Version,
		ServerCount: "2",
		Status:      StatusCompleted,
	}
	rank := 0
	for s := 0; s < 2; s++ {
		srv := Server{
			ServerID:  "10.155.111." + strconv.Itoa(140+s),
			HostNicIP: HostNicReserve,
		}
		for d := 0; d < 8; d++ {
			srv.Device = append(srv.Device, Device{
				DeviceID: strconv.Itoa(d),
				DeviceIP: "192.168." + strconv.Itoa(100+s) + "." + strconv.Itoa(d+1),
				RankID:   strconv.Itoa(rank),
			})
			rank++
		}
		table.ServerList = append(table.ServerList, srv)
	}
	return table
}

func singleServerTable(devices int) *RankTable {
	table := &RankTable{
		Version:     Version,
		ServerCount: "1",
		Status:      StatusCompleted,
		ServerList: []Server{{
			ServerID:  "10.155.111.140",
			HostNicIP: HostNicReserve,
		}},
	}
	for d := 0; d < devices; d++ {
		table.ServerList[0].Device = append(table.ServerList[0].Device, Device{
			DeviceID: strconv.Itoa(d),
			RankID:   strconv.Itoa(d),
		})
	}
	return table
}

func TestParseRealWorldTable(t *testing.T) {
	// The exact shape emitted by the cluster tooling this replaces:
	// every scalar a string, host_nic_ip reserved.
	raw := `{
  "version": "1.0",
  "server_count": "1",
  "server_list": [
    {
      "server_id": "10.155.111.140",
      "device": [
        {"device_id": "0", "device_ip": "192.168.100.101", "rank_id": "0"},
        {"device_id": "1", "device_ip": "192.168.101.101", "rank_id": "1"},
        {"device_id": "2", "device_ip": "192.168.102.101", "rank_id": "2"},
        {"device_id": "3", "device_ip": "192.168.103.101", "rank_id": "3"}
      ],
      "host_nic_ip": "reserve"
    }
  ],
  "status": "completed"
}`

	table, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, table.Validate())

	assert.Equal(t, 4, table.RankCount())
	assert.Equal(t, []string{"10.155.111.140"}, table.ServerIDs())

	srv, dev, ok := table.FindRank(2)
	require.True(t, ok)
	assert.Equal(t, "10.155.111.140", srv.ServerID)
	assert.Equal(t, "2", dev.DeviceID)
	assert.Equal(t, "192.168.102.101", dev.DeviceIP)
}

func TestLoadValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hccl_2p.json")
	require.NoError(t, twoServerTable().Save(path))

	table, err := LoadValid(path)
	require.NoError(t, err)
	assert.Equal(t, 16, table.RankCount())
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		assert.ErrorContains(t, err, "failed to read rank table")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "failed to parse rank table JSON")
	})
}

func TestValidateAcceptsSingleServerWithoutDeviceIPs(t *testing.T) {
	// Intra-host jobs do not need NIC addresses.
	assert.NoError(t, singleServerTable(8).Validate())
}

func TestValidateViolations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RankTable)
		wantErr string
	}{
		{
			name:    "wrong version",
			mutate:  func(rt *RankTable) { rt.Version = "2.0" },
			wantErr: "unsupported rank table version",
		},
		{
			name:    "incomplete status",
			mutate:  func(rt *RankTable) { rt.Status = "initializing" },
			wantErr: `status is "initializing"`,
		},
		{
			name:    "server count mismatch",
			mutate:  func(rt *RankTable) { rt.ServerCount = "3" },
			wantErr: "server_count is 3 but server_list has 2",
		},
		{
			name:    "server count not numeric",
			mutate:  func(rt *RankTable) { rt.ServerCount = "two" },
			wantErr: "not a number",
		},
		{
			name:    "empty server id",
			mutate:  func(rt *RankTable) { rt.ServerList[0].ServerID = "" },
			wantErr: "server_id is empty",
		},
		{
			name: "duplicate server id",
			mutate: func(rt *RankTable) {
				rt.ServerList[1].ServerID = rt.ServerList[0].ServerID
			},
			wantErr: "duplicate server_id",
		},
		{
			name:    "ip-shaped server id that is not an ip",
			mutate:  func(rt *RankTable) { rt.ServerList[0].ServerID = "10.155.111.999" },
			wantErr: "not a valid IP address",
		},
		{
			name: "duplicate device id within server",
			mutate: func(rt *RankTable) {
				rt.ServerList[0].Device[3].DeviceID = "0"
			},
			wantErr: "duplicate device_id 0",
		},
		{
			name: "device id not numeric",
			mutate: func(rt *RankTable) {
				rt.ServerList[0].Device[0].DeviceID = "zero"
			},
			wantErr: `invalid device_id "zero"`,
		},
		{
			name: "missing device ip in multi-server table",
			mutate: func(rt *RankTable) {
				rt.ServerList[1].Device[2].DeviceIP = ""
			},
			wantErr: "device_ip is required in a multi-server table",
		},
		{
			name: "invalid device ip",
			mutate: func(rt *RankTable) {
				rt.ServerList[0].Device[0].DeviceIP = "999.1.1.1"
			},
			wantErr: "not a valid IPv4 address",
		},
		{
			name: "device ip reused across servers",
			mutate: func(rt *RankTable) {
				rt.ServerList[1].Device[0].DeviceIP = rt.ServerList[0].Device[0].DeviceIP
			},
			wantErr: "assigned to both server",
		},
		{
			name: "duplicate rank id",
			mutate: func(rt *RankTable) {
				rt.ServerList[1].Device[7].RankID = "0"
			},
			wantErr: "rank_id 0 assigned to both",
		},
		{
			name: "rank ids not contiguous",
			mutate: func(rt *RankTable) {
				rt.ServerList[1].Device[7].RankID = "99"
			},
			wantErr: "not contiguous",
		},
		{
			name: "uneven device counts",
			mutate: func(rt *RankTable) {
				rt.ServerList[1].Device = rt.ServerList[1].Device[:4]
			},
			wantErr: "all servers must carry the same count",
		},
		{
			name: "unsupported device count",
			mutate: func(rt *RankTable) {
				rt.ServerList[0].Device = rt.ServerList[0].Device[:3]
				rt.ServerList[1].Device = rt.ServerList[1].Device[:3]
			},
			wantErr: "supported counts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := twoServerTable()
			tt.mutate(table)
			err := table.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateEmptyTable(t *testing.T) {
	table := &RankTable{Version: Version, ServerCount: "0", Status: StatusCompleted}
	assert.ErrorContains(t, table.Validate(), "no servers")
}

func TestLocalRanks(t *testing.T) {
	table := twoServerTable()

	ranks, err := table.LocalRanks("10.155.111.141")
	require.NoError(t, err)
	assert.Equal(t, []int{8, 9, 10, 11, 12, 13, 14, 15}, ranks)

	_, err = table.LocalRanks("10.155.111.99")
	assert.ErrorContains(t, err, "not found in rank table")
}

func TestDevicesOf(t *testing.T) {
	table := twoServerTable()
	assert.Len(t, table.DevicesOf("10.155.111.140"), 8)
	assert.Nil(t, table.DevicesOf("unknown-host"))
}

func TestFindRankMissing(t *testing.T) {
	_, _, ok := twoServerTable().FindRank(99)
	assert.False(t, ok)
}
