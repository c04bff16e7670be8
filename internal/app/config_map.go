package app

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"repocron/internal/analyzer"
	"repocron/internal/config"
	"repocron/internal/domain"
	"repocron/internal/notifier"
	"repocron/internal/observability/ops"
	"repocron/internal/provider/github"
	"repocron/internal/storage"
	"repocron/internal/task/scheduler"
	logx "repocron/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapRepositories(cfg *config.Config) []domain.Repository {
	return lo.Map(cfg.Repositories, func(r config.RepositoryConfig, _ int) domain.Repository {
		return domain.Repository{
			ID:        strings.TrimSpace(r.ID),
			Owner:     strings.TrimSpace(r.Owner),
			Name:      strings.TrimSpace(r.Name),
			LocalPath: strings.TrimSpace(r.Path),
		}
	})
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Dir: strings.TrimSpace(cfg.Storage.Dir), BusyTimeout: busy}, nil
}

func mapGitHubOptions(cfg *config.Config) (github.Options, error) {
	timeout, err := config.ParseDurationOrDefault("github.timeout", cfg.GitHub.Timeout, 30*time.Second)
	if err != nil {
		return github.Options{}, err
	}
	return github.Options{
		Token:         strings.TrimSpace(cfg.GitHub.Token),
		BaseURL:       strings.TrimSpace(cfg.GitHub.BaseURL),
		Timeout:       timeout,
		RatePerSec:    cfg.GitHub.RatePerSec,
		RetryMax:      cfg.GitHub.RetryMax,
		RateLimitWait: 2 * time.Minute,
	}, nil
}

func mapAnalyzerOptions(cfg *config.Config) (analyzer.Options, error) {
	timeout, err := config.ParseDurationField("analyzer.timeout", cfg.Analyzer.Timeout)
	if err != nil {
		return analyzer.Options{}, err
	}
	return analyzer.Options{
		Binary:         strings.TrimSpace(cfg.Analyzer.Binary),
		Args:           append([]string(nil), cfg.Analyzer.Args...),
		Timeout:        timeout,
		MaxOutputBytes: cfg.Analyzer.MaxOutputBytes,
	}, nil
}

func mapTemplatesConfig(cfg *config.Config) (string, time.Duration, error) {
	ttl, err := config.ParseDurationField("templates.cache_ttl", cfg.Templates.CacheTTL)
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(cfg.Templates.Dir), ttl, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:         cfg.Scheduler.Enabled,
		PollInterval:    cfg.Scheduler.PollIntervalOrDefault(),
		StartupRecovery: cfg.Scheduler.StartupRecoveryEnabled(),
	}
}

func mapStopTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("scheduler.stop_timeout", cfg.Scheduler.StopTimeout, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, notifier.TelegramConfig) {
	if cfg.Notifier == nil {
		return notifier.Config{}, notifier.TelegramConfig{}
	}
	tg := cfg.Notifier.Telegram
	return notifier.Config{
			Enabled:      tg.Enabled,
			OnlyFailures: tg.OnlyFailures,
		}, notifier.TelegramConfig{
			Token:    strings.TrimSpace(tg.Token),
			ChatID:   tg.ChatID,
			ThreadID: tg.ThreadID,
		}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          strings.TrimSpace(cfg.Ops.Addr),
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
	}
}
