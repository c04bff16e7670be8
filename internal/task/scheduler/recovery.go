package scheduler

import (
	"context"
	"errors"
	"fmt"

	"repocron/internal/storage"
	logx "repocron/pkg/logx"
)

// RecoveryReport counts the records startup recovery failed.
type RecoveryReport struct {
	Repositories int   `json:"repositories"`
	Sessions     int64 `json:"sessions"`
	Runs         int64 `json:"runs"`
}

// Recover marks every session and run still claiming to be running as
// failed. Nothing in memory survives a restart, so such records are
// abandoned. Per-repository failures are joined; the other repositories are
// still processed.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	repos, err := s.deps.Stores.Repositories(ctx)
	if err != nil {
		return rep, err
	}
	now := s.now()

	var errs []error
	for _, repo := range repos {
		st, err := s.deps.Stores.Open(ctx, repo.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", repo.ID, err))
			continue
		}
		sessions, err := st.FailRunningSessions(ctx, now, storage.InterruptedMessage)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", repo.ID, err))
			continue
		}
		runs, err := st.FailRunningRuns(ctx, now, storage.InterruptedMessage)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", repo.ID, err))
		}
		rep.Repositories++
		rep.Sessions += sessions
		rep.Runs += runs
		if sessions > 0 || runs > 0 {
			s.log.Warn("recovered abandoned records",
				logx.Repo(repo.ID),
				logx.Int64("sessions", sessions),
				logx.Int64("runs", runs),
			)
		}
	}
	s.deps.Metrics.RecoveredRecords("sessions", rep.Sessions)
	s.deps.Metrics.RecoveredRecords("runs", rep.Runs)
	return rep, errors.Join(errs...)
}
