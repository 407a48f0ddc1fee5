package ranktable

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHccnConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hccn.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseHccnConf(t *testing.T) {
	path := writeHccnConf(t, `
# device NIC addresses
address_0=192.168.100.101
address_1=192.168.101.101
netdetect_0=192.168.100.1
gateway_0=192.168.100.1
address_2=192.168.102.101
`)

	ips, err := ParseHccnConf(path)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{
		0: "192.168.100.101",
		1: "192.168.101.101",
		2: "192.168.102.101",
	}, ips)
}

func TestParseHccnConfErrors(t *testing.T) {
	t.Run("bad address", func(t *testing.T) {
		path := writeHccnConf(t, "address_0=not-an-ip\n")
		_, err := ParseHccnConf(path)
		assert.ErrorContains(t, err, "not a valid IPv4 address")
	})

	t.Run("bad device index", func(t *testing.T) {
		path := writeHccnConf(t, "address_x=192.168.100.101\n")
		_, err := ParseHccnConf(path)
		assert.ErrorContains(t, err, "bad device index")
	})

	t.Run("missing file reported as not exist", func(t *testing.T) {
		_, err := ParseHccnConf(filepath.Join(t.TempDir(), "absent.conf"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestGenerate(t *testing.T) {
	conf := writeHccnConf(t, `
address_0=192.168.100.101
address_1=192.168.101.101
address_2=192.168.102.101
address_3=192.168.103.101
`)

	table, err := Generate(GenerateOptions{
		ServerID:     "10.155.111.140",
		Devices:      []int{2, 0, 3, 1},
		HccnConfPath: conf,
	})
	require.NoError(t, err)

	require.Len(t, table.ServerList, 1)
	srv := table.ServerList[0]
	assert.Equal(t, "10.155.111.140", srv.ServerID)
	assert.Equal(t, HostNicReserve, srv.HostNicIP)
	assert.Equal(t, "1", table.ServerCount)

	// Ranks follow ascending device id order regardless of input order.
	require.Len(t, srv.Device, 4)
	for i, dev := range srv.Device {
		assert.Equal(t, i, mustAtoi(t, dev.DeviceID))
		assert.Equal(t, i, mustAtoi(t, dev.RankID))
	}
	assert.Equal(t, "192.168.102.101", srv.Device[2].DeviceIP)
}

func TestGenerateExplicitIPsWinOverConf(t *testing.T) {
	conf := writeHccnConf(t, "address_0=192.168.100.101\n")

	table, err := Generate(GenerateOptions{
		ServerID:     "10.155.111.140",
		Devices:      []int{0},
		DeviceIPs:    map[int]string{0: "192.168.200.5"},
		HccnConfPath: conf,
	})
	require.NoError(t, err)
	assert.Equal(t, "192.168.200.5", table.ServerList[0].Device[0].DeviceIP)
}

func TestGenerateWithoutConfFile(t *testing.T) {
	// Single-server tables are valid without NIC addresses, so a missing
	// hccn.conf must not fail generation.
	table, err := Generate(GenerateOptions{
		ServerID:     "10.155.111.140",
		Devices:      []int{0, 1, 2, 3, 4, 5, 6, 7},
		HccnConfPath: filepath.Join(t.TempDir(), "absent.conf"),
	})
	require.NoError(t, err)
	assert.Equal(t, 8, table.RankCount())
	assert.Empty(t, table.ServerList[0].Device[0].DeviceIP)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("no devices", func(t *testing.T) {
		_, err := Generate(GenerateOptions{ServerID: "10.0.0.1"})
		assert.ErrorContains(t, err, "no devices")
	})

	t.Run("duplicate devices", func(t *testing.T) {
		_, err := Generate(GenerateOptions{ServerID: "10.0.0.1", Devices: []int{0, 1, 1}})
		assert.ErrorContains(t, err, "duplicate device id 1")
	})

	t.Run("unsupported device count", func(t *testing.T) {
		_, err := Generate(GenerateOptions{
			ServerID:     "10.0.0.1",
			Devices:      []int{0, 1, 2},
			HccnConfPath: filepath.Join(t.TempDir(), "absent.conf"),
		})
		assert.ErrorContains(t, err, "supported counts")
	})
}

func TestMerge(t *testing.T) {
	a, err := Generate(GenerateOptions{
		ServerID: "10.155.111.140",
		Devices:  []int{0, 1, 2, 3},
		DeviceIPs: map[int]string{
			0: "192.168.100.101", 1: "192.168.101.101",
			2: "192.168.102.101", 3: "192.168.103.101",
		},
		HccnConfPath: filepath.Join(t.TempDir(), "absent.conf"),
	})
	require.NoError(t, err)

	b, err := Generate(GenerateOptions{
		ServerID: "10.155.111.141",
		Devices:  []int{0, 1, 2, 3},
		DeviceIPs: map[int]string{
			0: "192.168.100.102", 1: "192.168.101.102",
			2: "192.168.102.102", 3: "192.168.103.102",
		},
		HccnConfPath: filepath.Join(t.TempDir(), "absent.conf"),
	})
	require.NoError(t, err)

	merged, err := Merge(a, b)
	require.NoError(t, err)

	assert.Equal(t, "2", merged.ServerCount)
	assert.Equal(t, 8, merged.RankCount())

	// Second server's ranks continue after the first server's.
	ranks, err := merged.LocalRanks("10.155.111.141")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6, 7}, ranks)
}

func TestMergeErrors(t *testing.T) {
	base, err := Generate(GenerateOptions{
		ServerID:     "10.155.111.140",
		Devices:      []int{0, 1},
		DeviceIPs:    map[int]string{0: "192.168.100.101", 1: "192.168.101.101"},
		HccnConfPath: filepath.Join(t.TempDir(), "absent.conf"),
	})
	require.NoError(t, err)

	t.Run("single input", func(t *testing.T) {
		_, err := Merge(base)
		assert.ErrorContains(t, err, "at least two tables")
	})

	t.Run("same server twice", func(t *testing.T) {
		_, err := Merge(base, base)
		assert.ErrorContains(t, err, "more than one input table")
	})

	t.Run("missing device ip", func(t *testing.T) {
		noIP, err := Generate(GenerateOptions{
			ServerID:     "10.155.111.141",
			Devices:      []int{0, 1},
			HccnConfPath: filepath.Join(t.TempDir(), "absent.conf"),
		})
		require.NoError(t, err)

		_, err = Merge(base, noIP)
		assert.ErrorContains(t, err, "device_ip required to merge")
	})
}

func TestSaveRoundTripKeepsStringTyping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "hccl.json")
	require.NoError(t, twoServerTable().Save(path))

	// The consuming stack requires string scalars; make sure the JSON
	// encodes them quoted.
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "2", generic["server_count"])

	servers := generic["server_list"].([]interface{})
	firstDev := servers[0].(map[string]interface{})["device"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "0", firstDev["device_id"])
	assert.Equal(t, "0", firstDev["rank_id"])

	loaded, err := LoadValid(path)
	require.NoError(t, err)
	assert.Equal(t, 16, loaded.RankCount())
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}
