package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	// the written file parses back to the defaults
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), again)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[connector]
magic_number = "secret"
servers = ["https://a.example/", "https://b.example/"]
key_ttl_minutes = 30

[popup]
use_wait = true
ban_hours = 1
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Connector.MagicNumber)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, cfg.Connector.Servers)
	assert.True(t, cfg.Popup.UseWait)
	// unspecified values keep their defaults
	assert.Equal(t, 10, cfg.Popup.MaxMessages)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)

	conn := cfg.ToConnectorConfig()
	assert.Equal(t, 30*time.Minute, conn.KeyPolicy.TTL)
	assert.Equal(t, 10*time.Minute, conn.KeyPolicy.MinTTL)

	pop := cfg.ToPopupConfig()
	assert.True(t, pop.UseWait)
	assert.Equal(t, time.Hour, pop.BanDuration)
	assert.Equal(t, 2*time.Second, pop.PollFallbackDelay)
	assert.Equal(t, -1, pop.MaxNames)
}

func TestLoadConfigParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connector\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HAWTHORN_CONNECTOR_MAGIC_NUMBER", "from-env")
	t.Setenv("HAWTHORN_CONNECTOR_SERVERS", "https://a.example/, https://b.example/,")
	t.Setenv("HAWTHORN_TRANSPORT_ATTEMPT_TIMEOUT_SECONDS", "7")
	t.Setenv("HAWTHORN_POPUP_MAX_MESSAGES", "not a number")
	t.Setenv("HAWTHORN_POPUP_USE_WAIT", "true")
	t.Setenv("HAWTHORN_STATE_PATH", "/tmp/state.db")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Connector.MagicNumber)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, cfg.Connector.Servers)
	assert.Equal(t, 10, cfg.Popup.MaxMessages)
	assert.True(t, cfg.Popup.UseWait)

	tr := cfg.ToTransportConfig(cfg.Connector.Servers)
	assert.Equal(t, 7*time.Second, tr.AttemptTimeout)
	assert.Equal(t, 2*time.Second, tr.ScriptTimeout)
	assert.Len(t, tr.Servers, 2)

	path, err := cfg.GetStatePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/state.db", path)
}

func TestGetStatePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultTOMLConfig()
	path, err := cfg.GetStatePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".hawthorn", "state.db"), path)
}
