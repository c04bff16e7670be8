package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`

	// Repositories is the registry of repositories the scheduler scans.
	// Each repository owns its own store under storage.dir.
	Repositories []RepositoryConfig `json:"repositories"`

	GitHub    GitHubConfig    `json:"github"`
	Analyzer  AnalyzerConfig  `json:"analyzer"`
	Templates TemplatesConfig `json:"templates"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the polling loop.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "60s"
//   - stop_timeout: "30s"
//
// StartupRecovery is a pointer so an omitted key means "on".
type SchedulerConfig struct {
	Enabled         bool   `json:"enabled"`
	PollInterval    string `json:"poll_interval,omitempty"`
	StartupRecovery *bool  `json:"startup_recovery,omitempty"`
	StopTimeout     string `json:"stop_timeout,omitempty"`
}

// StorageConfig controls the per-repository sqlite stores.
//
// Example:
//
//	"storage": { "dir": "./data", "busy_timeout": "5s" }
type StorageConfig struct {
	Dir         string `json:"dir"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type RepositoryConfig struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
	// Path is the local checkout used as the analyzer working directory.
	Path string `json:"path"`
}

// GitHubConfig controls the issue/PR data provider.
type GitHubConfig struct {
	Token      string `json:"token,omitempty"` // never logged
	BaseURL    string `json:"base_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
}

// AnalyzerConfig controls the external analysis command.
//
// The prompt is written to the command's stdin; stdout becomes the session result.
type AnalyzerConfig struct {
	Binary         string   `json:"binary"`
	Args           []string `json:"args,omitempty"`
	Timeout        string   `json:"timeout,omitempty"`
	MaxOutputBytes int      `json:"max_output_bytes,omitempty"`
}

// TemplatesConfig controls where command templates are loaded from.
//
// Lookup order for a command id in a category:
//  1. <repo_path>/.repocron/commands/<category>/<command_id>.md
//  2. <dir>/<category>/<command_id>.md
type TemplatesConfig struct {
	Dir      string `json:"dir,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// NotifierConfig controls run-summary notifications.
// If the section is omitted, notifications are disabled.
type NotifierConfig struct {
	Telegram TelegramNotifierConfig `json:"telegram"`
}

type TelegramNotifierConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // never logged
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// OnlyFailures suppresses summaries for runs that completed without failed items.
	OnlyFailures bool `json:"only_failures,omitempty"`
}

// OpsConfig controls the operational HTTP server (/metrics, /healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// StartupRecoveryEnabled reports whether running records are reconciled on start.
func (c SchedulerConfig) StartupRecoveryEnabled() bool {
	return c.StartupRecovery == nil || *c.StartupRecovery
}

// Repository looks up a configured repository by id.
func (c *Config) Repository(id string) (RepositoryConfig, bool) {
	if c == nil {
		return RepositoryConfig{}, false
	}
	for _, r := range c.Repositories {
		if r.ID == id {
			return r, true
		}
	}
	return RepositoryConfig{}, false
}

// Validate performs static checks that do not touch the filesystem or network.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	for _, f := range c.durationFields() {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(c.Repositories))
	for i, r := range c.Repositories {
		path := fmt.Sprintf("repositories[%d]", i)
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%s.id: required", path)
		}
		if strings.ContainsAny(r.ID, `/\`) {
			return fmt.Errorf("%s.id: must not contain path separators", path)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%s.id: duplicate %q", path, r.ID)
		}
		seen[r.ID] = struct{}{}
		if strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%s: owner and name are required", path)
		}
	}

	if n := c.Notifier; n != nil && n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.Token) == "" {
			return fmt.Errorf("notifier.telegram.token: required when enabled")
		}
		if n.Telegram.ChatID == 0 {
			return fmt.Errorf("notifier.telegram.chat_id: required when enabled")
		}
	}
	return nil
}

// PollIntervalOrDefault returns the effective polling interval.
func (c SchedulerConfig) PollIntervalOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.poll_interval", c.PollInterval, 60*time.Second)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
