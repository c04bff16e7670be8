package storage

import (
	"context"
	"errors"
	"time"

	"repocron/internal/domain"
)

var (
	// ErrNotFound aliases domain.ErrNotFound so callers can check either.
	ErrNotFound = domain.ErrNotFound
	ErrClosed   = errors.New("storage closed")
	// ErrUnknownRepository is returned by Registry.Open for ids not in the registry.
	ErrUnknownRepository = errors.New("unknown repository")
	// ErrRunActive is returned by StartRun while the job has a running run.
	ErrRunActive = errors.New("job has a running run")
	// ErrLocked is returned when another process holds the storage lock.
	ErrLocked = errors.New("storage dir locked")
)

// InterruptedMessage is the error text recovery writes on abandoned records.
const InterruptedMessage = "interrupted by scheduler restart"

// Config configures the per-repository stores.
//
// Each repository gets <Dir>/<repo_id>.db.
type Config struct {
	Dir         string
	BusyTimeout time.Duration // 0 means 5s
}

// RepoStore is the persistence API for one repository.
type RepoStore interface {
	JobStore
	RunStore
	SessionStore
	MetadataStore
	Close() error
}

type JobStore interface {
	CreateJob(ctx context.Context, job *domain.ScheduledJob) error
	GetJob(ctx context.Context, jobID string) (*domain.ScheduledJob, error)
	ListJobs(ctx context.Context) ([]domain.ScheduledJob, error)
	DeleteJob(ctx context.Context, jobID string) error
	// ListDueJobs returns active jobs with next_run_at <= now.
	ListDueJobs(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error)
	SetNextRunAt(ctx context.Context, jobID string, next time.Time) error
	// UpdateJobSchedule replaces cron/timezone and the precomputed next run.
	UpdateJobSchedule(ctx context.Context, jobID, cronExpr, tz string, next time.Time) error
	// RecordJobRun stamps last_run_at/last_run_status and increments run_count.
	RecordJobRun(ctx context.Context, jobID string, at time.Time, status domain.RunStatus) error
	PauseJob(ctx context.Context, jobID string) error
	ResumeJob(ctx context.Context, jobID string, next time.Time) error
}

type RunStore interface {
	CreateRun(ctx context.Context, run *domain.ScheduledJobRun) error
	// StartRun inserts run as running unless the job already has a running
	// run, in which case it returns ErrRunActive. The check and the insert
	// are one statement, so it holds across processes sharing the database.
	StartRun(ctx context.Context, run *domain.ScheduledJobRun) error
	UpdateRun(ctx context.Context, run *domain.ScheduledJobRun) error
	GetRun(ctx context.Context, runID string) (*domain.ScheduledJobRun, error)
	// ListRuns returns the newest runs of a job first.
	ListRuns(ctx context.Context, jobID string, limit int) ([]domain.ScheduledJobRun, error)
	// FailRunningRuns marks every running run failed and returns how many changed.
	FailRunningRuns(ctx context.Context, at time.Time, msg string) (int64, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session, links []domain.EntityLink) error
	CompleteSession(ctx context.Context, sessionID, result string, at time.Time) error
	FailSession(ctx context.Context, sessionID, errMsg string, at time.Time) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// LinkedEntityNumbers returns entity numbers linked to sessions of jobID.
	LinkedEntityNumbers(ctx context.Context, jobID string, entityType domain.EntityType) ([]int, error)
	// FailRunningSessions marks every running session failed and returns how many changed.
	FailRunningSessions(ctx context.Context, at time.Time, msg string) (int64, error)
}

type MetadataStore interface {
	GetItemMetadata(ctx context.Context, repoKey string, number int) (domain.ItemMetadata, bool, error)
	PutItemMetadata(ctx context.Context, m domain.ItemMetadata) error
}
