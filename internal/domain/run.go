package domain

import "time"

// RunStatus represents the state of a job run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ScheduledJobRun is one execution attempt of a job.
type ScheduledJobRun struct {
	ID             string     `json:"id" db:"id"`
	JobID          string     `json:"job_id" db:"job_id"`
	RepoID         string     `json:"repo_id" db:"repo_id"`
	Status         RunStatus  `json:"status" db:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ItemsFound     int        `json:"items_found" db:"items_found"`
	ItemsProcessed int        `json:"items_processed" db:"items_processed"`
	ItemsSkipped   int        `json:"items_skipped" db:"items_skipped"`
	ItemsFailed    int        `json:"items_failed" db:"items_failed"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	SessionIDs     StringList `json:"session_ids" db:"session_ids"`
}

// Duration is the wall time between start and completion, zero while unfinished.
func (r ScheduledJobRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}
