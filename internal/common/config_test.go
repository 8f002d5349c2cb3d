package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "sqlite", config.Storage.Type)
	assert.Equal(t, "process", config.Worker.Mode)
	assert.Equal(t, 151, config.Elevation.DatasetID)
	assert.Equal(t, "https://elevation.alaska.gov", config.Elevation.BaseURL)
	assert.Len(t, config.Render.OverviewBounds, 4)
	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_MergesInOrder(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
[server]
port = 7000
host = "127.0.0.1"

[storage]
type = "badger"
`), 0644))

	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 7001

[worker]
mode = "inprocess"
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 7001, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, "badger", config.Storage.Type)
	assert.Equal(t, "inprocess", config.Worker.Mode)
	// Untouched sections keep defaults
	assert.Equal(t, 151, config.Elevation.DatasetID)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapgen.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7000\n"), 0644))

	t.Setenv("MAPGEN_SERVER_PORT", "9100")
	t.Setenv("MAPGEN_ELEVATION_BASE_URL", "http://localhost:1234")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "http://localhost:1234", config.Elevation.BaseURL)
}

func TestLoadFromFiles_InvalidStorageType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapgen.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\ntype = \"redis\"\n"), 0644))

	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid storage type")
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 5000, config.Server.Port)

	ApplyFlagOverrides(config, 8181, "example.local")
	assert.Equal(t, 8181, config.Server.Port)
	assert.Equal(t, "example.local", config.Server.Host)
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("@every 15m"))
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.Error(t, ValidateSchedule("not a schedule"))
}

func TestIDs(t *testing.T) {
	id := NewRequestID()
	assert.Len(t, id, 32)
	assert.True(t, IsHexToken(id))
	assert.NotEqual(t, id, NewRequestID())

	assert.False(t, IsHexToken("../etc/passwd"))
	assert.False(t, IsHexToken("abc123"))
}
