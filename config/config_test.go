package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRequiresHandle(t *testing.T) {
	path := writeConfig(t, `port = 5001
whoisport = 4000
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `handle = "alice"
port = 5001
whoisport = 4000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./receive", cfg.ImagePath)
	assert.NotEmpty(t, cfg.AutoReply)
	assert.False(t, cfg.Away)
	assert.Equal(t, "away.flag", cfg.AwayFlagPath)
}

func TestLoadPortAsSingleElementList(t *testing.T) {
	path := writeConfig(t, `handle = "alice"
port = [5001]
whoisport = 4000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 5001, cfg.Port)
}

func TestSetAutoReplyPersists(t *testing.T) {
	path := writeConfig(t, `handle = "alice"
port = 5001
whoisport = 4000
autoreply = "old"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.SetAutoReply("new reply"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "new reply", reloaded.AutoReply)
}
