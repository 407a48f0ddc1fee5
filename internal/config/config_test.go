package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Setenv("XFORMER_HOME", "")

	cfg := NewDefaultConfig()
	assert.Equal(t, DefaultServerHost, cfg.Server.Host)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Contains(t, cfg.Storage.ConfigDir, DefaultConfigDirName)
	assert.Equal(t, filepath.Join(cfg.Storage.ConfigDir, "data"), cfg.Storage.DataDir)
	assert.Equal(t, DefaultRetentionDays, cfg.Jobs.RetentionDays)
}

func TestNewDefaultConfigHonorsHomeOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XFORMER_HOME", home)

	cfg := NewDefaultConfig()
	assert.Equal(t, home, cfg.Storage.ConfigDir)
	assert.Equal(t, filepath.Join(home, "data"), cfg.Storage.DataDir)
}

func TestLoadConfigFileAndEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XFORMER_HOME", home)
	t.Setenv("XFORMER_HOST", "")
	t.Setenv("XFORMER_PORT", "")

	content := "server:\n  host: 0.0.0.0\n  port: 9000\njobs:\n  retention_days: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFileName), []byte(content), 0644))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Jobs.RetentionDays)

	t.Setenv("XFORMER_PORT", "12345")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Server.Port)
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	t.Setenv("XFORMER_HOME", t.TempDir())
	t.Setenv("XFORMER_PORT", "not-a-port")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "XFORMER_PORT")
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XFORMER_HOME", home)
	t.Setenv("XFORMER_PORT", "")
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFileName), []byte("server: ["), 0644))

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestEnsureDirectories(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XFORMER_HOME", home)

	cfg := NewDefaultConfig()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{
		cfg.Storage.DataDir,
		cfg.Storage.GetJobsDir(),
		cfg.Storage.GetLogsDir(),
		cfg.Storage.GetRankTablesDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestGetServerAddress(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 8080
	assert.Equal(t, "http://10.0.0.5:8080", cfg.GetServerAddress())
}

func TestGetOrCreateServerIdentity(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XFORMER_HOME", home)

	cfg := NewDefaultConfig()
	cfg.BinaryVersion = "v1.2.3"
	require.NoError(t, cfg.EnsureDirectories())

	first, err := cfg.GetOrCreateServerIdentity()
	require.NoError(t, err)
	assert.Contains(t, first.Name, "xformer-")
	assert.Equal(t, "v1.2.3", first.Version)

	// The name must survive restarts.
	second, err := cfg.GetOrCreateServerIdentity()
	require.NoError(t, err)
	assert.Equal(t, first.Name, second.Name)
}

func TestChipLookup(t *testing.T) {
	t.Setenv("XFORMER_CHIP_CONFIG", "")
	ResetChipsConfig()
	t.Cleanup(ResetChipsConfig)

	chip, err := LookupChip(VendorIDHuawei, "0xd802")
	require.NoError(t, err)
	require.NotNil(t, chip)
	assert.Equal(t, "Ascend 910B", chip.ModelName)
	assert.Equal(t, 65536, chip.MemoryMB)

	unknown, err := LookupChip("0x10de", "0x20b2")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestChipConfigOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chips.yaml")
	content := `
version: "1"
chips:
  - vendor_id: "0x19e5"
    device_id: "0xd803"
    model_name: "Ascend 910C"
    memory_mb: 98304
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("XFORMER_CHIP_CONFIG", path)
	ResetChipsConfig()
	t.Cleanup(ResetChipsConfig)

	chip, err := LookupChip(VendorIDHuawei, "0xd803")
	require.NoError(t, err)
	require.NotNil(t, chip)
	assert.Equal(t, "Ascend 910C", chip.ModelName)

	// The override replaces the builtin table entirely.
	builtin, err := LookupChip(VendorIDHuawei, "0xd802")
	require.NoError(t, err)
	assert.Nil(t, builtin)
}

func TestChipConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing version",
			yaml:    "chips:\n  - vendor_id: \"0x19e5\"\n    device_id: \"0xd802\"\n    model_name: X\n",
			wantErr: "version is required",
		},
		{
			name:    "empty chip list",
			yaml:    "version: \"1\"\nchips: []\n",
			wantErr: "at least one chip",
		},
		{
			name: "duplicate identifiers",
			yaml: `
version: "1"
chips:
  - {vendor_id: "0x19e5", device_id: "0xd802", model_name: A}
  - {vendor_id: "0x19e5", device_id: "0xd802", model_name: B}
`,
			wantErr: "duplicate chip identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "chips.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			ResetChipsConfig()
			t.Cleanup(ResetChipsConfig)

			_, err := LoadChipsConfig(path)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
