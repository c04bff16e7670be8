package domain

import "time"

// SessionStatus represents the state of an analysis session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// SessionKindScheduled marks sessions created by the scheduler.
const SessionKindScheduled = "scheduled"

// Session is one analyzer invocation for one target item.
type Session struct {
	ID             string        `json:"id" db:"id"`
	RepoID         string        `json:"repo_id" db:"repo_id"`
	ScheduledJobID string        `json:"scheduled_job_id,omitempty" db:"scheduled_job_id"`
	Kind           string        `json:"kind" db:"kind"`
	Status         SessionStatus `json:"status" db:"status"`
	Prompt         string        `json:"prompt" db:"prompt"`
	Result         string        `json:"result,omitempty" db:"result"`
	Error          string        `json:"error,omitempty" db:"error"`
	StartedAt      time.Time     `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// EntityType names the source-control entity a session is about.
type EntityType string

const (
	EntityIssue EntityType = "issue"
	EntityPR    EntityType = "pr"
)

// EntityLink ties a session to an issue or pull request.
type EntityLink struct {
	SessionID    string     `json:"session_id" db:"session_id"`
	EntityType   EntityType `json:"entity_type" db:"entity_type"`
	EntityNumber int        `json:"entity_number" db:"entity_number"`
}
