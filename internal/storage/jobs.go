package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"repocron/internal/domain"
)

const jobColumns = `id, repo_id, name, cron_expression, timezone, status, target_type, filter_query,
	command_id, custom_prompt, max_items, permission_mode, allowed_tools, max_turns, model, only_new,
	next_run_at, last_run_at, last_run_status, run_count, created_at, updated_at`

func normalizeJob(j *domain.ScheduledJob) {
	j.NextRunAt = utcPtr(j.NextRunAt)
	j.LastRunAt = utcPtr(j.LastRunAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
}

// CreateJob inserts job, assigning an id and timestamps when unset.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusActive
	}
	if job.AllowedTools == nil {
		job.AllowedTools = domain.StringList{}
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs(`+jobColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.RepoID, job.Name, job.CronExpression, job.Timezone, job.Status, job.TargetType, job.FilterQuery,
		job.CommandID, job.CustomPrompt, job.MaxItems, job.PermissionMode, job.AllowedTools, job.MaxTurns, job.Model, job.OnlyNew,
		tsPtr(job.NextRunAt), tsPtr(job.LastRunAt), job.LastRunStatus, job.RunCount, ts(job.CreatedAt), ts(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	normalizeJob(job)
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*domain.ScheduledJob, error) {
	var job domain.ScheduledJob
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	normalizeJob(&job)
	return &job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	var jobs []domain.ScheduledJob
	if err := s.db.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	for i := range jobs {
		normalizeJob(&jobs[i])
	}
	return jobs, nil
}

// DeleteJob removes the job; its runs go with it.
func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return checkAffected(res, "job", jobID)
}

func (s *SQLiteStore) ListDueJobs(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error) {
	var jobs []domain.ScheduledJob
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at, id`,
		domain.JobStatusActive, ts(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	for i := range jobs {
		normalizeJob(&jobs[i])
	}
	return jobs, nil
}

func (s *SQLiteStore) SetNextRunAt(ctx context.Context, jobID string, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		ts(next), ts(time.Now()), jobID,
	)
	if err != nil {
		return fmt.Errorf("set next run of job %s: %w", jobID, err)
	}
	return checkAffected(res, "job", jobID)
}

func (s *SQLiteStore) UpdateJobSchedule(ctx context.Context, jobID, cronExpr, tz string, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET cron_expression = ?, timezone = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		cronExpr, tz, ts(next), ts(time.Now()), jobID,
	)
	if err != nil {
		return fmt.Errorf("update schedule of job %s: %w", jobID, err)
	}
	return checkAffected(res, "job", jobID)
}

func (s *SQLiteStore) RecordJobRun(ctx context.Context, jobID string, at time.Time, status domain.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		 SET last_run_at = ?, last_run_status = ?, run_count = run_count + 1, updated_at = ?
		 WHERE id = ?`,
		ts(at), status, ts(time.Now()), jobID,
	)
	if err != nil {
		return fmt.Errorf("record run of job %s: %w", jobID, err)
	}
	return checkAffected(res, "job", jobID)
}

func (s *SQLiteStore) PauseJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		domain.JobStatusPaused, ts(time.Now()), jobID,
	)
	if err != nil {
		return fmt.Errorf("pause job %s: %w", jobID, err)
	}
	return checkAffected(res, "job", jobID)
}

// ResumeJob reactivates the job with a freshly computed next run so a long
// pause does not make it immediately due.
func (s *SQLiteStore) ResumeJob(ctx context.Context, jobID string, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		domain.JobStatusActive, ts(next), ts(time.Now()), jobID,
	)
	if err != nil {
		return fmt.Errorf("resume job %s: %w", jobID, err)
	}
	return checkAffected(res, "job", jobID)
}
