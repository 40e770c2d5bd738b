package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"server":{"port":9000},"diff":{"context_lines":5}}`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, 5, c.Diff.ContextLines)
	assert.Equal(t, "127.0.0.1:9000", c.Addr())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "history:\n  limit: 7\n  persist: false\nlog_level: debug\n")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.History.Limit)
	assert.False(t, c.History.Persist)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoadOrDefault(t *testing.T) {
	c, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	_, err = LoadOrDefault(writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("STAGEHAND_PORT", "8123")
	t.Setenv("STAGEHAND_DETECT_RENAMES", "true")
	t.Setenv("STAGEHAND_REPO", "/work/repo")

	c := Default()
	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, 8123, c.Server.Port)
	assert.True(t, c.Diff.DetectRenames)
	assert.Equal(t, "/work/repo", c.Repository.Path)

	t.Setenv("STAGEHAND_PORT", "many")
	assert.Error(t, Default().ApplyEnv())
}

func TestConfigPath(t *testing.T) {
	t.Setenv("STAGEHAND_ENV", "production")
	assert.Equal(t, "config/config.production.json", ConfigPath())
}
