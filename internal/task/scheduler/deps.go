package scheduler

import (
	"context"
	"time"

	"repocron/internal/analyzer"
	"repocron/internal/domain"
	"repocron/internal/eventbus"
	"repocron/internal/metrics"
	"repocron/internal/storage"
)

// Provider lists work items from the source-control host.
type Provider interface {
	ListIssues(ctx context.Context, owner, name, state string, labels []string) ([]domain.TargetItem, error)
	ListPRs(ctx context.Context, owner, name, state string) ([]domain.TargetItem, error)
}

// Templates resolves command templates. ok is false when none exists.
type Templates interface {
	Get(ctx context.Context, commandID, category, repoPath string) (string, bool, error)
}

// Analyzer runs one prompt and tracks in-flight sessions.
type Analyzer interface {
	Run(ctx context.Context, prompt, workDir string, cfg analyzer.Config) (analyzer.Result, error)
	RegisterRunning(id string)
	UnregisterRunning(id string)
}

// Stores knows the repositories and opens their stores.
type Stores interface {
	Repositories(ctx context.Context) ([]domain.Repository, error)
	Repository(repoID string) (domain.Repository, bool)
	Open(ctx context.Context, repoID string) (storage.RepoStore, error)
}

// Deps are the collaborators of the scheduler. Bus, Metrics and Now are optional.
type Deps struct {
	Stores    Stores
	Provider  Provider
	Templates Templates
	Analyzer  Analyzer
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Now       func() time.Time
}
