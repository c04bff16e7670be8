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

const runColumns = `id, job_id, repo_id, status, started_at, completed_at,
	items_found, items_processed, items_skipped, items_failed, error_message, session_ids`

func normalizeRun(r *domain.ScheduledJobRun) {
	r.StartedAt = utcPtr(r.StartedAt)
	r.CompletedAt = utcPtr(r.CompletedAt)
	if r.SessionIDs == nil {
		r.SessionIDs = domain.StringList{}
	}
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.ScheduledJobRun) error {
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusPending
	}
	normalizeRun(run)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_job_runs(`+runColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.JobID, run.RepoID, run.Status, tsPtr(run.StartedAt), tsPtr(run.CompletedAt),
		run.ItemsFound, run.ItemsProcessed, run.ItemsSkipped, run.ItemsFailed, run.ErrorMessage, run.SessionIDs,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, run *domain.ScheduledJobRun) error {
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}
	run.Status = domain.RunStatusRunning
	normalizeRun(run)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_job_runs(`+runColumns+`)
		 SELECT ?,?,?,?,?,?,?,?,?,?,?,?
		 WHERE NOT EXISTS (SELECT 1 FROM scheduled_job_runs WHERE job_id = ? AND status = ?)`,
		run.ID, run.JobID, run.RepoID, run.Status, tsPtr(run.StartedAt), tsPtr(run.CompletedAt),
		run.ItemsFound, run.ItemsProcessed, run.ItemsSkipped, run.ItemsFailed, run.ErrorMessage, run.SessionIDs,
		run.JobID, domain.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s", ErrRunActive, run.JobID)
	}
	return nil
}

// UpdateRun overwrites the mutable fields of run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.ScheduledJobRun) error {
	normalizeRun(run)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_job_runs
		 SET status = ?, started_at = ?, completed_at = ?, items_found = ?, items_processed = ?,
		     items_skipped = ?, items_failed = ?, error_message = ?, session_ids = ?
		 WHERE id = ?`,
		run.Status, tsPtr(run.StartedAt), tsPtr(run.CompletedAt), run.ItemsFound, run.ItemsProcessed,
		run.ItemsSkipped, run.ItemsFailed, run.ErrorMessage, run.SessionIDs, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	return checkAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.ScheduledJobRun, error) {
	var run domain.ScheduledJobRun
	err := s.db.GetContext(ctx, &run, `SELECT `+runColumns+` FROM scheduled_job_runs WHERE id = ?`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	normalizeRun(&run)
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, jobID string, limit int) ([]domain.ScheduledJobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []domain.ScheduledJobRun
	err := s.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM scheduled_job_runs WHERE job_id = ?
		 ORDER BY started_at DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs of job %s: %w", jobID, err)
	}
	for i := range runs {
		normalizeRun(&runs[i])
	}
	return runs, nil
}

func (s *SQLiteStore) FailRunningRuns(ctx context.Context, at time.Time, msg string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_job_runs SET status = ?, completed_at = ?, error_message = ? WHERE status = ?`,
		domain.RunStatusFailed, ts(at), msg, domain.RunStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail running runs: %w", err)
	}
	return res.RowsAffected()
}
