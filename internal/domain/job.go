package domain

import (
	"fmt"
	"strings"
	"time"

	"repocron/internal/task/nextrun"
)

// JobStatus is the lifecycle state of a scheduled job.
type JobStatus string

const (
	JobStatusActive JobStatus = "active"
	JobStatusPaused JobStatus = "paused"
)

// TargetType selects where a job's work items come from.
type TargetType string

const (
	TargetIssues   TargetType = "issues"
	TargetPRs      TargetType = "prs"
	TargetCodebase TargetType = "codebase"
	TargetCustom   TargetType = "custom"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetIssues, TargetPRs, TargetCodebase, TargetCustom:
		return true
	}
	return false
}

// TemplateCategory is the command template category implied by the target type.
func (t TargetType) TemplateCategory() string {
	switch t {
	case TargetIssues:
		return "issue"
	case TargetPRs:
		return "pr"
	default:
		return string(t)
	}
}

// ScheduledJob is a user-authored automation definition attached to a repository.
type ScheduledJob struct {
	ID             string     `json:"id" db:"id"`
	RepoID         string     `json:"repo_id" db:"repo_id"`
	Name           string     `json:"name" db:"name"`
	CronExpression string     `json:"cron_expression" db:"cron_expression"`
	Timezone       string     `json:"timezone" db:"timezone"`
	Status         JobStatus  `json:"status" db:"status"`
	TargetType     TargetType `json:"target_type" db:"target_type"`
	FilterQuery    string     `json:"filter_query,omitempty" db:"filter_query"`
	CommandID      string     `json:"command_id,omitempty" db:"command_id"`
	CustomPrompt   string     `json:"custom_prompt,omitempty" db:"custom_prompt"`

	// Analyzer passthrough.
	MaxItems       int        `json:"max_items" db:"max_items"`
	PermissionMode string     `json:"permission_mode,omitempty" db:"permission_mode"`
	AllowedTools   StringList `json:"allowed_tools,omitempty" db:"allowed_tools"`
	MaxTurns       int        `json:"max_turns,omitempty" db:"max_turns"`
	Model          string     `json:"model,omitempty" db:"model"`

	OnlyNew bool `json:"only_new" db:"only_new"`

	NextRunAt     *time.Time `json:"next_run_at,omitempty" db:"next_run_at"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty" db:"last_run_status"`
	RunCount      int        `json:"run_count" db:"run_count"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// DefaultMaxItems caps a run when the job leaves max_items unset.
const DefaultMaxItems = 10

// EffectiveMaxItems returns MaxItems, or DefaultMaxItems when unset.
func (j ScheduledJob) EffectiveMaxItems() int {
	if j.MaxItems <= 0 {
		return DefaultMaxItems
	}
	return j.MaxItems
}

// Validate checks the job definition at create/edit time: schedule, timezone,
// target type and the presence of a prompt source. Whether CommandID
// resolves to a template is checked by the caller, which owns the template store.
func (j ScheduledJob) Validate() error {
	if strings.TrimSpace(j.RepoID) == "" {
		return invalidJob("repo_id", "required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return invalidJob("name", "required")
	}
	if tz := strings.TrimSpace(j.Timezone); tz != "" {
		if _, ok := nextrun.Location(tz); !ok {
			return invalidJob("timezone", fmt.Sprintf("unknown timezone %q", j.Timezone))
		}
	}
	if err := nextrun.Validate(j.CronExpression, j.Timezone); err != nil {
		return invalidJob("cron_expression", err.Error())
	}
	if j.Status != "" && j.Status != JobStatusActive && j.Status != JobStatusPaused {
		return invalidJob("status", fmt.Sprintf("unknown status %q", j.Status))
	}
	if !j.TargetType.Valid() {
		return invalidJob("target_type", fmt.Sprintf("unknown target type %q", j.TargetType))
	}
	if j.MaxItems < 0 {
		return invalidJob("max_items", "must be >= 0")
	}
	hasCommand := strings.TrimSpace(j.CommandID) != ""
	if j.TargetType == TargetCustom {
		if !hasCommand && strings.TrimSpace(j.CustomPrompt) == "" {
			return invalidJob("custom_prompt", "custom jobs need custom_prompt or command_id")
		}
		return nil
	}
	if !hasCommand {
		return invalidJob("command_id", "required for target type "+string(j.TargetType))
	}
	return nil
}

func invalidJob(field, msg string) error {
	return fmt.Errorf("%w: %w", ErrInvalidJob, &ValidationError{Field: field, Message: msg})
}
