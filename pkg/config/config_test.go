package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 10, cfg.Poll.Limit)
	assert.Equal(t, "openai", cfg.Completion.Provider)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.False(t, cfg.Ledger.Enabled)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
app:
  name: arena
ledger:
  enabled: true
  rpc_url: https://api.devnet.solana.com
  program_id: Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS
database:
  driver: memory
poll:
  interval: 15s
  limit: 3
  topics: [weather, sports]
completion:
  provider: anthropic
  model: claude-3-5-haiku-latest
  temperature: 0.2
plugins:
  - name: attribution
    enabled: true
  - name: response-guard
    enabled: false
    settings:
      max_length: 200
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "arena", cfg.App.Name)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 15*time.Second, cfg.Poll.Interval)
	assert.Equal(t, []string{"weather", "sports"}, cfg.Poll.Topics)
	assert.Equal(t, "anthropic", cfg.Completion.Provider)
	assert.InDelta(t, 0.2, cfg.Completion.Temperature, 1e-9)
	// Untouched keys keep their defaults.
	assert.Equal(t, 512, cfg.Completion.MaxTokens)

	require.Len(t, cfg.Plugins, 2)
	enabled := cfg.EnabledPlugins()
	require.Len(t, enabled, 1)
	assert.Equal(t, "attribution", enabled[0].Name)
	assert.EqualValues(t, 200, cfg.Plugins[1].Settings["max_length"])
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "poll:\n  limit: 3\n")
	t.Setenv("EXECCLIENT_POLL_LIMIT", "7")
	t.Setenv("EXECCLIENT_COMPLETION_MODEL", "gpt-4.1")
	t.Setenv("EXECCLIENT_GATEWAY_ENABLED", "true")
	t.Setenv("EXECCLIENT_POLL_INTERVAL", "2m")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Poll.Limit)
	assert.Equal(t, "gpt-4.1", cfg.Completion.Model)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Poll.Interval)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.App.Name)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty app", func(c *Config) { c.App.Name = " " }, "app.name"},
		{"ledger without program", func(c *Config) { c.Ledger.Enabled = true }, "ledger.program_id"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"zero interval", func(c *Config) { c.Poll.Interval = 0 }, "poll.interval"},
		{"bad cron", func(c *Config) { c.Poll.Cron = "every minute" }, "poll.cron"},
		{"zero limit", func(c *Config) { c.Poll.Limit = 0 }, "poll.limit"},
		{"duplicate plugin", func(c *Config) {
			c.Plugins = []PluginConfig{{Name: "a"}, {Name: "a"}}
		}, "listed twice"},
		{"gateway port", func(c *Config) {
			c.Gateway.Enabled = true
			c.Gateway.Port = 70000
		}, "gateway.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCronReplacesInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poll.Interval = 0
	cfg.Poll.Cron = "*/5 * * * *"
	assert.NoError(t, cfg.Validate())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".execclient/execclient.db"), expandHome("~/.execclient/execclient.db"))
	assert.Equal(t, "/var/lib/x.db", expandHome("/var/lib/x.db"))
}

func TestDatabasePathIsRelativeToDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.DataDir = "/srv/execclient"
	cfg.Database.Path = "state/execclient.db"
	assert.Equal(t, "/srv/execclient/state/execclient.db", cfg.DatabasePath())

	cfg.Database.Path = "/var/lib/x.db"
	assert.Equal(t, "/var/lib/x.db", cfg.DatabasePath())

	cfg.App.DataDir = ""
	cfg.Database.Path = "x.db"
	assert.Equal(t, "x.db", cfg.DatabasePath())
}
