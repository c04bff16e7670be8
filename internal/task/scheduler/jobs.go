package scheduler

import (
	"context"
	"fmt"
	"strings"

	"repocron/internal/domain"
	"repocron/internal/storage"
	"repocron/internal/task/nextrun"
)

// ValidateJob checks job and that its command template resolves in the
// repository. Custom jobs with a custom prompt may name a missing command.
func (s *Service) ValidateJob(ctx context.Context, job domain.ScheduledJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	cmd := strings.TrimSpace(job.CommandID)
	if cmd == "" {
		return nil
	}
	repo, ok := s.deps.Stores.Repository(job.RepoID)
	if !ok {
		return fmt.Errorf("%w: repository %q", storage.ErrUnknownRepository, job.RepoID)
	}
	_, found, err := s.deps.Templates.Get(ctx, cmd, job.TargetType.TemplateCategory(), repo.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidJob, err)
	}
	if !found && (job.TargetType != domain.TargetCustom || strings.TrimSpace(job.CustomPrompt) == "") {
		return fmt.Errorf("%w: %w", domain.ErrInvalidJob, &domain.ValidationError{
			Field:   "command_id",
			Message: fmt.Sprintf("no %s template %q", job.TargetType.TemplateCategory(), cmd),
		})
	}
	return nil
}

// CreateJob validates job, computes its first run and stores it.
func (s *Service) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	if err := s.ValidateJob(ctx, *job); err != nil {
		return err
	}
	st, err := s.deps.Stores.Open(ctx, job.RepoID)
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = domain.JobStatusActive
	}
	if job.Status == domain.JobStatusActive {
		next, err := nextrun.NextRunUTCAfter(job.CronExpression, job.Timezone, s.now())
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidJob, err)
		}
		job.NextRunAt = &next
	}
	return st.CreateJob(ctx, job)
}

// UpdateSchedule replaces the cron expression and timezone of a job and
// recomputes its next run.
func (s *Service) UpdateSchedule(ctx context.Context, repoID, jobID, cronExpr, tz string) (*domain.ScheduledJob, error) {
	st, err := s.deps.Stores.Open(ctx, repoID)
	if err != nil {
		return nil, err
	}
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.CronExpression, job.Timezone = cronExpr, tz
	if err := job.Validate(); err != nil {
		return nil, err
	}
	next, err := nextrun.NextRunUTCAfter(cronExpr, tz, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidJob, err)
	}
	if err := st.UpdateJobSchedule(ctx, jobID, cronExpr, tz, next); err != nil {
		return nil, err
	}
	return st.GetJob(ctx, jobID)
}

func (s *Service) PauseJob(ctx context.Context, repoID, jobID string) error {
	st, err := s.deps.Stores.Open(ctx, repoID)
	if err != nil {
		return err
	}
	return st.PauseJob(ctx, jobID)
}

// ResumeJob reactivates a job from its next future window, so runs missed
// while paused are not replayed.
func (s *Service) ResumeJob(ctx context.Context, repoID, jobID string) (*domain.ScheduledJob, error) {
	st, err := s.deps.Stores.Open(ctx, repoID)
	if err != nil {
		return nil, err
	}
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	next, err := nextrun.NextRunUTCAfter(job.CronExpression, job.Timezone, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidJob, err)
	}
	if err := st.ResumeJob(ctx, jobID, next); err != nil {
		return nil, err
	}
	return st.GetJob(ctx, jobID)
}
