package ranktable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHostfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostfile")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseHostfile(t *testing.T) {
	path := writeHostfile(t, `
# training nodes
10.155.111.140 slots=8
10.155.111.141 slots=8

node-gamma slots=4 max_slots=8
node-delta
`)

	hf, err := ParseHostfile(path)
	require.NoError(t, err)

	require.Len(t, hf.Hosts, 4)
	assert.Equal(t, Host{Name: "10.155.111.140", Slots: 8}, hf.Hosts[0])
	assert.Equal(t, Host{Name: "10.155.111.141", Slots: 8}, hf.Hosts[1])
	// max_slots is an MPI extension we pass over.
	assert.Equal(t, Host{Name: "node-gamma", Slots: 4}, hf.Hosts[2])
	// Missing slots clause assumes a full 8-device server.
	assert.Equal(t, Host{Name: "node-delta", Slots: DefaultSlots}, hf.Hosts[3])

	assert.Equal(t, 28, hf.TotalSlots())
	assert.Equal(t, []string{"10.155.111.140", "10.155.111.141", "node-gamma", "node-delta"}, hf.Names())
}

func TestParseHostfileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "duplicate host",
			content: "node-a slots=8\nnode-a slots=8\n",
			wantErr: "duplicate host",
		},
		{
			name:    "bad slots value",
			content: "node-a slots=eight\n",
			wantErr: "bad slots value",
		},
		{
			name:    "slots out of range",
			content: "node-a slots=64\n",
			wantErr: "slots must be in 1..16",
		},
		{
			name:    "only comments",
			content: "# nothing here\n\n",
			wantErr: "names no hosts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeHostfile(t, tt.content)
			_, err := ParseHostfile(path)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseHostfileMissingFile(t *testing.T) {
	_, err := ParseHostfile(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorContains(t, err, "failed to open hostfile")
}
