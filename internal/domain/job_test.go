package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() ScheduledJob {
	return ScheduledJob{
		RepoID:         "api",
		Name:           "triage",
		CronExpression: "0 9 * * *",
		Timezone:       "UTC",
		TargetType:     TargetIssues,
		CommandID:      "triage",
	}
}

func TestScheduledJobValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		edit  func(j *ScheduledJob)
		field string
	}{
		{name: "ok"},
		{name: "bad cron", edit: func(j *ScheduledJob) { j.CronExpression = "every day" }, field: "cron_expression"},
		{name: "bad timezone", edit: func(j *ScheduledJob) { j.Timezone = "Nowhere/Land" }, field: "timezone"},
		{name: "unknown target", edit: func(j *ScheduledJob) { j.TargetType = "wiki" }, field: "target_type"},
		{name: "issues without command", edit: func(j *ScheduledJob) { j.CommandID = "" }, field: "command_id"},
		{name: "custom with prompt", edit: func(j *ScheduledJob) {
			j.TargetType = TargetCustom
			j.CommandID = ""
			j.CustomPrompt = "summarize"
		}},
		{name: "custom with nothing", edit: func(j *ScheduledJob) {
			j.TargetType = TargetCustom
			j.CommandID = ""
		}, field: "custom_prompt"},
		{name: "negative max items", edit: func(j *ScheduledJob) { j.MaxItems = -1 }, field: "max_items"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := validJob()
			if tt.edit != nil {
				tt.edit(&j)
			}
			err := j.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidJob))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestTargetItemFields(t *testing.T) {
	t.Parallel()

	issue := TargetItem{Type: ItemIssue, Number: 7, Title: "crash", Labels: []string{"bug", "p1"}}
	f := issue.Fields()
	assert.Equal(t, "7", f["number"])
	assert.Equal(t, "bug,p1", f["labels"])
	assert.Equal(t, "", f["body"])
	_, hasHead := f["head_ref"]
	assert.False(t, hasHead)

	pr := TargetItem{Type: ItemPR, Number: 3, HeadRef: "feat", BaseRef: "main"}
	f = pr.Fields()
	assert.Equal(t, "feat", f["head_ref"])
	assert.Equal(t, "main", f["base_ref"])
	_, hasLabels := f["labels"]
	assert.False(t, hasLabels)

	f = TargetItem{Type: ItemCodebase}.Fields()
	assert.Equal(t, map[string]string{"type": "codebase"}, f)
}

func TestStringListScan(t *testing.T) {
	t.Parallel()
	var l StringList
	require.NoError(t, l.Scan(`["a","b"]`))
	assert.Equal(t, StringList{"a", "b"}, l)
	require.NoError(t, l.Scan(nil))
	assert.NotNil(t, l)
	assert.Empty(t, l)

	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}
