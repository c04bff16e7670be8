package config

import (
	"reflect"
	"sort"
	"strings"

	logx "repocron/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
//
// Sections listed in RestartRequired(changed) are not applied until restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.PollInterval) != strings.TrimSpace(newCfg.Scheduler.PollInterval) ||
		oldCfg.Scheduler.StartupRecoveryEnabled() != newCfg.Scheduler.StartupRecoveryEnabled() ||
		strings.TrimSpace(oldCfg.Scheduler.StopTimeout) != strings.TrimSpace(newCfg.Scheduler.StopTimeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.Bool("scheduler.startup_recovery", newCfg.Scheduler.StartupRecoveryEnabled()),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.dir", strings.TrimSpace(newCfg.Storage.Dir)),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Repositories, newCfg.Repositories) {
		changed = append(changed, "repositories")
		attrs = append(attrs, logx.Int("repositories.count", len(newCfg.Repositories)))
	}

	// GitHub (never log token)
	if strings.TrimSpace(oldCfg.GitHub.BaseURL) != strings.TrimSpace(newCfg.GitHub.BaseURL) ||
		strings.TrimSpace(oldCfg.GitHub.Timeout) != strings.TrimSpace(newCfg.GitHub.Timeout) ||
		oldCfg.GitHub.RatePerSec != newCfg.GitHub.RatePerSec ||
		oldCfg.GitHub.RetryMax != newCfg.GitHub.RetryMax ||
		oldCfg.GitHub.Token != newCfg.GitHub.Token {
		changed = append(changed, "github")
		attrs = append(attrs,
			logx.String("github.base_url", strings.TrimSpace(newCfg.GitHub.BaseURL)),
			logx.SecretSet("github.token", newCfg.GitHub.Token),
			logx.Int("github.rate_per_sec", newCfg.GitHub.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Analyzer, newCfg.Analyzer) {
		changed = append(changed, "analyzer")
		attrs = append(attrs,
			logx.String("analyzer.binary", newCfg.Analyzer.Binary),
			logx.String("analyzer.timeout", strings.TrimSpace(newCfg.Analyzer.Timeout)),
		)
	}

	if oldCfg.Templates != newCfg.Templates {
		changed = append(changed, "templates")
		attrs = append(attrs,
			logx.String("templates.dir", strings.TrimSpace(newCfg.Templates.Dir)),
			logx.String("templates.cache_ttl", strings.TrimSpace(newCfg.Templates.CacheTTL)),
		)
	}

	// Notifier (never log token). Nil means disabled.
	var oN, nN TelegramNotifierConfig
	if oldCfg.Notifier != nil {
		oN = oldCfg.Notifier.Telegram
	}
	if newCfg.Notifier != nil {
		nN = newCfg.Notifier.Telegram
	}
	if oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.telegram.enabled", nN.Enabled),
			logx.SecretSet("notifier.telegram.token", nN.Token),
			logx.Int64("notifier.telegram.chat_id", nN.ChatID),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.SecretSet("ops.token", newCfg.Ops.Token),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// hotReloadable are sections applied at runtime without a restart.
var hotReloadable = map[string]bool{
	"logging":   true,
	"scheduler": true,
	"ops":       true,
}

// RestartRequired filters changed down to the sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !hotReloadable[s] {
			out = append(out, s)
		}
	}
	return out
}
