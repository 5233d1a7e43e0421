package setup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), BinaryName)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func TestLoadClientConfig_Missing(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)
}

func TestLoadClientConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadClientConfig(path)
	assert.Error(t, err)
}

func TestInstall_PreservesOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{
  "theme": "dark",
  "mcpServers": {"other": {"command": "/usr/bin/other"}}
}`), 0644))

	binary := fakeBinary(t)
	entry, err := Install(InstallOptions{
		ClientConfigPath: path,
		BinaryPath:       binary,
		ConfigFile:       "/etc/biomarker-normalizer/config.yaml",
		CorrectionsDB:    "/var/lib/biomarker/corrections.db",
		Env:              map[string]string{"BIOMARKER_LOGGING_LEVEL": "debug"},
	})
	require.NoError(t, err)
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, []string{
		"-config", "/etc/biomarker-normalizer/config.yaml",
		"-corrections-db", "/var/lib/biomarker/corrections.db",
	}, entry.Args)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "dark", doc["theme"])

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.MCPServers, 2)
	assert.Equal(t, "/usr/bin/other", cfg.MCPServers["other"].Command)
	assert.Equal(t, "debug", cfg.MCPServers[DefaultServerName].Env["BIOMARKER_LOGGING_LEVEL"])
}

func TestInstall_CreatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	_, err := Install(InstallOptions{ClientConfigPath: path, ServerName: "labs", BinaryPath: fakeBinary(t)})
	require.NoError(t, err)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	require.Contains(t, cfg.MCPServers, "labs")
	assert.Empty(t, cfg.MCPServers["labs"].Args)
}

func TestUninstall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := Install(InstallOptions{ClientConfigPath: path, BinaryPath: fakeBinary(t)})
	require.NoError(t, err)

	removed, err := Uninstall(path, "")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = Uninstall(path, "")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGetStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	status, err := GetStatus(path, "")
	require.NoError(t, err)
	assert.False(t, status.Registered)
	assert.Equal(t, []string{"server is not registered"}, status.Issues)

	_, err = Install(InstallOptions{ClientConfigPath: path, BinaryPath: fakeBinary(t)})
	require.NoError(t, err)

	status, err = GetStatus(path, "")
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Empty(t, status.Issues)

	_, err = Install(InstallOptions{
		ClientConfigPath: path,
		BinaryPath:       filepath.Join(t.TempDir(), "missing"),
		ConfigFile:       filepath.Join(t.TempDir(), "missing.yaml"),
	})
	require.NoError(t, err)

	status, err = GetStatus(path, "")
	require.NoError(t, err)
	assert.Len(t, status.Issues, 2)
}

func TestDefaultClientConfigPath_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := DefaultClientConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Claude", "claude_desktop_config.json"), path)
}
