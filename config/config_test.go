package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-sh/flowd/notify"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	assert.Equal(t, "flowd.db", v.GetString("database.path"))
	assert.Equal(t, ":8077", v.GetString("server.addr"))
	assert.False(t, v.GetBool("server.log_json"))
	assert.Equal(t, "jobs.json", v.GetString("jobs.path"))
	assert.Equal(t, 2, v.GetInt("tasks.workers"))
	assert.Equal(t, 1, v.GetInt("scheduler.interval_seconds"))
	assert.Equal(t, "claude", v.GetString("analysis.cli"))
	assert.Equal(t, "", v.GetString("analysis.model"))
}

func TestLoadAppliesDefaultsToEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flowd.db", cfg.Database.Path)
	assert.Equal(t, ":8077", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Tasks.Workers)
}

func TestLoadFromFile(t *testing.T) {
	content := `
database:
  path: /var/lib/flowd/flowd.db
server:
  addr: ":9000"
  log_json: true
tasks:
  workers: 4
history:
  retention: 50
notify:
  channels:
    - name: ops
      type: slack
      webhook_url: https://hooks.example.com/abc
      enabled: true
    - name: desktop
      type: native
      enabled: true
    - name: pager
      type: pagerduty
      enabled: true
  rules:
    - event: failure
      channels: [ops]
      filter:
        category: deploy
    - event: all
      channels: [desktop]
autofix:
  rules:
    - id: custom-fix
      name: custom fix
      pattern: "out of memory"
      fix: "make clean"
      enabled: true
`
	path := filepath.Join(t.TempDir(), "flowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/flowd/flowd.db", cfg.Database.Path)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.True(t, cfg.Server.LogJSON)
	assert.Equal(t, 4, cfg.Tasks.Workers)
	assert.Equal(t, 50, cfg.History.Retention)

	// Unknown channel types are dropped in conversion
	channels := cfg.NotifyChannels()
	require.Len(t, channels, 2)
	assert.Equal(t, notify.ChannelSlack, channels[0].Type)
	assert.Equal(t, "https://hooks.example.com/abc", channels[0].WebhookURL)
	assert.Equal(t, notify.ChannelNative, channels[1].Type)

	rules := cfg.NotifyRules()
	require.Len(t, rules, 2)
	assert.Equal(t, notify.EventFailure, rules[0].Event)
	require.NotNil(t, rules[0].Filter)
	assert.Equal(t, "deploy", rules[0].Filter.Category)
	assert.Nil(t, rules[1].Filter)

	fixes := cfg.AutoFixRules()
	require.Len(t, fixes, 1)
	assert.Equal(t, "custom-fix", fixes[0].ID)
	assert.Equal(t, "out of memory", fixes[0].Pattern)
	assert.True(t, fixes[0].Enabled)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
