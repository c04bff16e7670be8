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

const sessionColumns = `id, repo_id, scheduled_job_id, kind, status, prompt, result, error, started_at, completed_at`

// CreateSession inserts the session and its entity links in one transaction.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session, links []domain.EntityLink) error {
	if sess.ID == "" {
		sess.ID = ulid.Make().String()
	}
	if sess.Status == "" {
		sess.Status = domain.SessionStatusRunning
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	sess.StartedAt = sess.StartedAt.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(`+sessionColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.RepoID, sess.ScheduledJobID, sess.Kind, sess.Status, sess.Prompt, sess.Result, sess.Error,
		ts(sess.StartedAt), tsPtr(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	for _, l := range links {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_entity_links(session_id, entity_type, entity_number) VALUES(?,?,?)`,
			sess.ID, l.EntityType, l.EntityNumber,
		)
		if err != nil {
			return fmt.Errorf("link session %s to %s #%d: %w", sess.ID, l.EntityType, l.EntityNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) CompleteSession(ctx context.Context, sessionID, result string, at time.Time) error {
	return s.finishSession(ctx, sessionID, domain.SessionStatusCompleted, result, "", at)
}

func (s *SQLiteStore) FailSession(ctx context.Context, sessionID, errMsg string, at time.Time) error {
	return s.finishSession(ctx, sessionID, domain.SessionStatusFailed, "", errMsg, at)
}

func (s *SQLiteStore) finishSession(ctx context.Context, sessionID string, status domain.SessionStatus, result, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, result = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, result, errMsg, ts(at), sessionID,
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", sessionID, err)
	}
	return checkAffected(res, "session", sessionID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.GetContext(ctx, &sess, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	sess.StartedAt = sess.StartedAt.UTC()
	sess.CompletedAt = utcPtr(sess.CompletedAt)
	return &sess, nil
}

func (s *SQLiteStore) LinkedEntityNumbers(ctx context.Context, jobID string, entityType domain.EntityType) ([]int, error) {
	var nums []int
	err := s.db.SelectContext(ctx, &nums,
		`SELECT DISTINCT l.entity_number
		 FROM session_entity_links l
		 JOIN sessions s ON s.id = l.session_id
		 WHERE s.scheduled_job_id = ? AND l.entity_type = ?
		 ORDER BY l.entity_number`,
		jobID, entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("linked %s numbers of job %s: %w", entityType, jobID, err)
	}
	return nums, nil
}

func (s *SQLiteStore) FailRunningSessions(ctx context.Context, at time.Time, msg string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, completed_at = ?, error = ? WHERE status = ?`,
		domain.SessionStatusFailed, ts(at), msg, domain.SessionStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail running sessions: %w", err)
	}
	return res.RowsAffected()
}
