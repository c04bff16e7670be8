package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repocron/internal/analyzer"
	"repocron/internal/domain"
	"repocron/internal/eventbus"
	"repocron/internal/storage"
)

func TestExecuteIssuesWithSidecarFilter(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.prov.setIssues(issue(1, "crash"), issue(2, "typo"), issue(3, "leak"))
	for n, prio := range map[int]string{1: "high", 2: "low", 3: "high"} {
		require.NoError(t, e.store.PutItemMetadata(e.ctx, domain.ItemMetadata{RepoKey: "acme/widgets", Number: n, Priority: prio}))
	}
	job := e.addJob(func(j *domain.ScheduledJob) {
		j.FilterQuery = "state:open priority:high"
		j.MaxItems = 2
	})
	events, unsub := e.bus.Subscribe(16, eventbus.TypeRunFinished)
	defer unsub()

	before := time.Now().UTC()
	run, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.ItemsFound)
	assert.Equal(t, 2, run.ItemsProcessed)
	assert.Equal(t, 0, run.ItemsFailed)
	assert.Len(t, run.SessionIDs, 2)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, []string{
		"Triage #1 crash in acme/widgets",
		"Triage #3 leak in acme/widgets",
	}, e.an.Prompts())
	assert.True(t, e.an.sawRunning, "session must be registered before analysis")
	assert.Zero(t, e.an.InFlight())

	stored, err := e.store.GetRun(e.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Status)
	assert.Equal(t, domain.StringList(run.SessionIDs), stored.SessionIDs)

	sess, err := e.store.GetSession(e.ctx, run.SessionIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, sess.Status)
	assert.Equal(t, "ok: Triage #1 crash in acme/widgets", sess.Result)

	got, err := e.store.GetJob(e.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, domain.RunStatusCompleted, got.LastRunStatus)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(before))

	select {
	case ev := <-events:
		re := ev.Data.(eventbus.RunEvent)
		assert.Equal(t, run.ID, re.RunID)
		assert.Equal(t, "completed", re.Status)
		assert.True(t, re.Manual)
	case <-time.After(time.Second):
		t.Fatal("no run.finished event")
	}
}

func TestExecuteOnlyNewSkipsLinkedItems(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	job := e.addJob(func(j *domain.ScheduledJob) { j.OnlyNew = true })

	e.prov.setIssues(issue(7, "old"))
	first, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.ItemsProcessed)

	e.prov.setIssues(issue(7, "old"), issue(8, "new"))
	second, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, second.Status)
	assert.Equal(t, 1, second.ItemsFound)
	assert.Equal(t, 1, second.ItemsProcessed)
	assert.Equal(t, 1, second.ItemsSkipped)
	prompts := e.an.Prompts()
	assert.Equal(t, "Triage #8 new in acme/widgets", prompts[len(prompts)-1])
}

func TestExecuteLabelFilters(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.prov.setIssues(issue(1, "a", "bug"), issue(2, "b", "bug", "wontfix"))
	job := e.addJob(func(j *domain.ScheduledJob) { j.FilterQuery = "label:bug -label:wontfix" })

	run, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ItemsFound)
	assert.Equal(t, []string{"Triage #1 a in acme/widgets"}, e.an.Prompts())
}

func TestExecutePanicFailsRun(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.prov.setIssues(issue(1, "a"), issue(2, "b"))
	e.an.run = func(string) (analyzer.Result, error) { panic("analyzer exploded") }
	job := e.addJob(nil)

	run, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Contains(t, run.ErrorMessage, "analyzer exploded")
	assert.Zero(t, e.an.InFlight())

	stored, err := e.store.GetRun(e.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	got, err := e.store.GetJob(e.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.LastRunStatus)
}

func TestExecuteProviderErrorFailsRun(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.prov.err = errors.New("github down")
	job := e.addJob(nil)

	run, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "github down")
	assert.NotNil(t, run.CompletedAt)
}

func TestExecuteItemFailuresKeepRunCompleted(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.prov.setIssues(issue(1, "ok"), issue(2, "bad"), issue(3, "err"))
	e.an.run = func(prompt string) (analyzer.Result, error) {
		switch prompt {
		case "Triage #2 bad in acme/widgets":
			return analyzer.Result{Success: false, Error: "model refused"}, nil
		case "Triage #3 err in acme/widgets":
			return analyzer.Result{}, errors.New("spawn failed")
		}
		return analyzer.Result{Success: true, Text: "done"}, nil
	}
	job := e.addJob(nil)

	run, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.ItemsFound)
	assert.Equal(t, 1, run.ItemsProcessed)
	assert.Equal(t, 2, run.ItemsFailed)
	assert.Len(t, run.SessionIDs, 1)
}

func TestExecuteMissingTemplateCountsItemFailed(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.prov.setIssues(issue(1, "a"))
	job := e.addJob(func(j *domain.ScheduledJob) { j.CommandID = "nope" })

	run, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.ItemsFailed)
	assert.Empty(t, e.an.Prompts())
}

func TestExecuteSyntheticTargets(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	codebase := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCodebase
		j.CommandID = "audit"
	})
	custom := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCustom
		j.CommandID = ""
		j.CustomPrompt = "Summarize {{repo}} {{missing}}"
	})

	for _, id := range []string{codebase.ID, custom.ID} {
		run, err := e.svc.Execute(e.ctx, id, e.repo.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, run.ItemsFound)
		assert.Equal(t, 1, run.ItemsProcessed)
	}
	assert.Equal(t, []string{
		"Audit " + e.repo.LocalPath,
		"Summarize acme/widgets {{missing}}",
	}, e.an.Prompts())
	assert.Zero(t, e.prov.calls)
}

func TestExecuteVanishedJob(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	job := e.addJob(nil)
	require.NoError(t, e.store.DeleteJob(e.ctx, job.ID))

	_, err := e.svc.Execute(e.ctx, job.ID, e.repo.ID)
	require.ErrorIs(t, err, ErrJobNotFound)
	assert.Empty(t, e.runs(job.ID))
}

func TestRecoverFailsAbandonedRecords(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	job := e.addJob(nil)
	started := time.Now().UTC().Add(-time.Hour)
	run := &domain.ScheduledJobRun{ID: "run-1", JobID: job.ID, RepoID: e.repo.ID, Status: domain.RunStatusRunning, StartedAt: &started}
	require.NoError(t, e.store.CreateRun(e.ctx, run))
	sess := &domain.Session{ID: "sess-1", RepoID: e.repo.ID, ScheduledJobID: job.ID, Kind: domain.SessionKindScheduled, Status: domain.SessionStatusRunning, StartedAt: started}
	require.NoError(t, e.store.CreateSession(e.ctx, sess, nil))

	rep, err := e.svc.Recover(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Repositories: 1, Sessions: 1, Runs: 1}, rep)

	gotSess, err := e.store.GetSession(e.ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, gotSess.Status)
	assert.Equal(t, storage.InterruptedMessage, gotSess.Error)
	assert.NotNil(t, gotSess.CompletedAt)

	gotRun, err := e.store.GetRun(e.ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, gotRun.Status)
	assert.NotNil(t, gotRun.CompletedAt)
}
