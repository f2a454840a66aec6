package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recyclix/configs"
)

func TestConfigCmd_HasSubcommands(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding config command
	configCmd, _, err := cmd.Find([]string{"config"})
	require.NoError(t, err)

	// Then: all subcommands are registered
	names := make(map[string]bool)
	for _, sc := range configCmd.Commands() {
		names[sc.Name()] = true
	}
	for _, name := range []string{"init", "show", "path", "restore"} {
		assert.True(t, names[name], "should have %s command", name)
	}
}

func TestConfigInit_WritesTemplate(t *testing.T) {
	// Given: an empty project directory
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	// When: running config init
	out, err := run(t, dir, "config", "init")

	// Then: the template is written
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	data, err := os.ReadFile(filepath.Join(dir, ".recyclix.yaml"))
	require.NoError(t, err)
	assert.Equal(t, configs.ProjectConfigTemplate, string(data))
}

func TestConfigInit_KeepsExistingWithoutForce(t *testing.T) {
	dir := newProject(t)

	out, err := run(t, dir, "config", "init")

	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(filepath.Join(dir, ".recyclix.yaml"))
	require.NoError(t, err)
	assert.Equal(t, testProjectConfig, string(data))
}

func TestConfigInitForce_ThenRestore(t *testing.T) {
	// Given: a project config replaced with --force
	dir := newProject(t)
	path := filepath.Join(dir, ".recyclix.yaml")
	out, err := run(t, dir, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup:")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, configs.ProjectConfigTemplate, string(data))

	// When: restoring the newest backup
	out, err = run(t, dir, "config", "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored")

	// Then: the original content is back
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testProjectConfig, string(data))
}

func TestConfigRestore_NoBackups(t *testing.T) {
	dir := newProject(t)

	_, err := run(t, dir, "config", "restore")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backups")
}

func TestConfigPath(t *testing.T) {
	dir := newProject(t)

	out, err := run(t, dir, "config", "path")

	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, ".recyclix.yaml"))
	assert.Contains(t, out, filepath.Join(dir, "xdg", "recyclix", "config.yaml"))
}

func TestConfigShow(t *testing.T) {
	dir := newProject(t)

	t.Run("merged json", func(t *testing.T) {
		out, err := run(t, dir, "config", "show", "--json")
		require.NoError(t, err)

		var cfg map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &cfg))
		sch := cfg["schema"].(map[string]any)
		assert.Equal(t, "articles", sch["name"])
	})

	t.Run("defaults yaml", func(t *testing.T) {
		out, err := run(t, dir, "config", "show", "--source", "defaults")
		require.NoError(t, err)
		assert.Contains(t, out, "entries_before_recycle: 1000000")
	})

	t.Run("invalid source", func(t *testing.T) {
		_, err := run(t, dir, "config", "show", "--source", "nowhere")
		assert.Error(t, err)
	})
}
