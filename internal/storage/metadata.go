package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"repocron/internal/domain"
)

func (s *SQLiteStore) GetItemMetadata(ctx context.Context, repoKey string, number int) (domain.ItemMetadata, bool, error) {
	var m domain.ItemMetadata
	err := s.db.GetContext(ctx, &m,
		`SELECT repo_key, number, priority, difficulty, risk, type, status, affected_areas
		 FROM item_metadata WHERE repo_key = ? AND number = ?`,
		repoKey, number,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ItemMetadata{}, false, nil
		}
		return domain.ItemMetadata{}, false, fmt.Errorf("item metadata %s#%d: %w", repoKey, number, err)
	}
	return m, true, nil
}

// PutItemMetadata inserts or replaces the sidecar record for one item.
func (s *SQLiteStore) PutItemMetadata(ctx context.Context, m domain.ItemMetadata) error {
	if m.AffectedAreas == nil {
		m.AffectedAreas = domain.StringList{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_metadata(repo_key, number, priority, difficulty, risk, type, status, affected_areas)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(repo_key, number) DO UPDATE SET
		   priority = excluded.priority, difficulty = excluded.difficulty, risk = excluded.risk,
		   type = excluded.type, status = excluded.status, affected_areas = excluded.affected_areas`,
		m.RepoKey, m.Number, m.Priority, m.Difficulty, m.Risk, m.Type, m.Status, m.AffectedAreas,
	)
	if err != nil {
		return fmt.Errorf("put item metadata %s#%d: %w", m.RepoKey, m.Number, err)
	}
	return nil
}
