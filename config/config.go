// Package config loads application configuration and the jobs/edges
// definition file, with hot reload of the latter.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
	"github.com/flowd-sh/flowd/notify"
)

// Config is the application configuration, loaded from YAML with
// FLOWD_* environment overrides.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Jobs      JobsFileConfig  `mapstructure:"jobs"`
	History   HistoryConfig   `mapstructure:"history"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	AutoFix   AutoFixConfig   `mapstructure:"autofix"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	LogJSON bool   `mapstructure:"log_json"`
}

// JobsFileConfig locates the jobs/edges definition file.
type JobsFileConfig struct {
	Path string `mapstructure:"path"`
}

// HistoryConfig bounds run history retention.
type HistoryConfig struct {
	Retention int `mapstructure:"retention"`
}

// TasksConfig sizes the async task worker pool.
type TasksConfig struct {
	Workers int `mapstructure:"workers"`
}

// SchedulerConfig tunes the schedule ticker.
type SchedulerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// AnalysisConfig configures the LLM analysis task handler.
type AnalysisConfig struct {
	CLI   string `mapstructure:"cli"`
	Model string `mapstructure:"model"`
}

// NotifyConfig declares notification channels and routing rules.
type NotifyConfig struct {
	Channels []ChannelConfig `mapstructure:"channels"`
	Rules    []RuleConfig    `mapstructure:"rules"`
}

// ChannelConfig is one notification destination.
type ChannelConfig struct {
	Name       string `mapstructure:"name"`
	Type       string `mapstructure:"type"`
	WebhookURL string `mapstructure:"webhook_url"`
	Enabled    bool   `mapstructure:"enabled"`
}

// RuleConfig routes run outcomes to channels.
type RuleConfig struct {
	Event    string       `mapstructure:"event"`
	Channels []string     `mapstructure:"channels"`
	Filter   FilterConfig `mapstructure:"filter"`
}

// FilterConfig narrows a rule to a job subset.
type FilterConfig struct {
	Category string `mapstructure:"category"`
	JobID    string `mapstructure:"job_id"`
}

// AutoFixConfig overrides the built-in auto-fix rule set.
type AutoFixConfig struct {
	Rules []AutoFixRuleConfig `mapstructure:"rules"`
}

// AutoFixRuleConfig is one failure remediation rule.
type AutoFixRuleConfig struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
	Extract string `mapstructure:"extract"`
	Fix     string `mapstructure:"fix"`
	Enabled bool   `mapstructure:"enabled"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "flowd.db")

	v.SetDefault("server.addr", ":8077")
	v.SetDefault("server.log_json", false)

	v.SetDefault("jobs.path", "jobs.json")

	v.SetDefault("history.retention", engine.DefaultHistoryRetention)

	v.SetDefault("tasks.workers", 2)

	v.SetDefault("scheduler.interval_seconds", 1)

	v.SetDefault("analysis.cli", "claude")
	v.SetDefault("analysis.model", "")
}

// Load reads configuration from the given file, or when path is empty
// from ./flowd.yaml then ~/.flowd/config.yaml. A missing file is not an
// error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FLOWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// findConfigFile returns the first existing default config location.
func findConfigFile() string {
	candidates := []string{"flowd.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".flowd", "config.yaml"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// NotifyChannels converts the configured channels to notify types,
// dropping entries with unknown types.
func (c *Config) NotifyChannels() []notify.Channel {
	channels := make([]notify.Channel, 0, len(c.Notify.Channels))
	for _, ch := range c.Notify.Channels {
		if !notify.IsValidChannelType(ch.Type) {
			continue
		}
		channels = append(channels, notify.Channel{
			Name:       ch.Name,
			Type:       notify.ChannelType(ch.Type),
			WebhookURL: ch.WebhookURL,
			Enabled:    ch.Enabled,
		})
	}
	return channels
}

// NotifyRules converts the configured rules to notify types.
func (c *Config) NotifyRules() []notify.Rule {
	rules := make([]notify.Rule, 0, len(c.Notify.Rules))
	for _, r := range c.Notify.Rules {
		rule := notify.Rule{
			Event:    notify.Event(r.Event),
			Channels: r.Channels,
		}
		if r.Filter.Category != "" || r.Filter.JobID != "" {
			rule.Filter = &notify.Filter{
				Category: r.Filter.Category,
				JobID:    r.Filter.JobID,
			}
		}
		rules = append(rules, rule)
	}
	return rules
}

// AutoFixRules converts the configured auto-fix rules to engine types.
// An empty list means the engine's built-in defaults apply.
func (c *Config) AutoFixRules() []engine.AutoFixRule {
	rules := make([]engine.AutoFixRule, 0, len(c.AutoFix.Rules))
	for _, r := range c.AutoFix.Rules {
		rules = append(rules, engine.AutoFixRule{
			ID:      r.ID,
			Name:    r.Name,
			Pattern: r.Pattern,
			Extract: r.Extract,
			Fix:     r.Fix,
			Enabled: r.Enabled,
		})
	}
	return rules
}
