package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repocron/internal/domain"
	"repocron/internal/storage"
	logx "repocron/pkg/logx"
)

func TestConcurrentTriggersSingleFlight(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.an.block = make(chan struct{})
	job := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCodebase
		j.CommandID = "audit"
	})
	e.start()

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started []*domain.ScheduledJobRun
		busy    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := e.svc.Trigger(e.ctx, job.ID, e.repo.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started = append(started, run)
			case errors.Is(err, ErrAlreadyRunning):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(e.an.block)

	require.Len(t, started, 1)
	assert.Equal(t, n-1, busy)
	assert.Equal(t, domain.RunStatusRunning, started[0].Status)

	final := e.waitTerminal(started[0].ID)
	assert.Equal(t, domain.RunStatusCompleted, final.Status)
	assert.Len(t, e.runs(job.ID), 1)

	require.Eventually(t, func() bool { return e.svc.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)
	_, err := e.svc.Trigger(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err, "guard must be released after the run")
}

func TestTickSkipsInFlightJob(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	job := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCodebase
		j.CommandID = "audit"
	})
	e.start()

	key := guardKey(e.repo.ID, job.ID)
	require.True(t, e.svc.guard.tryAcquire(key))
	e.svc.Tick(e.ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.runs(job.ID))

	e.svc.guard.release(key)
	e.svc.Tick(e.ctx)
	require.Eventually(t, func() bool {
		runs := e.runs(job.ID)
		return len(runs) == 1 && runs[0].Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	// next_run_at moved forward, so the job is no longer due.
	e.svc.Tick(e.ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, e.runs(job.ID), 1)
}

func TestSecondServiceSeesStoredRunningRun(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.an.block = make(chan struct{})
	job := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCodebase
		j.CommandID = "audit"
	})
	e.start()

	e.svc.Tick(e.ctx)
	require.Eventually(t, func() bool { return e.an.InFlight() == 1 }, 5*time.Second, 5*time.Millisecond)
	runs := e.runs(job.ID)
	require.Len(t, runs, 1)
	require.Equal(t, domain.RunStatusRunning, runs[0].Status)
	before, err := e.store.GetJob(e.ctx, job.ID)
	require.NoError(t, err)

	// Another process over the same stores has an empty in-memory guard.
	other := e.newService(e.reg)
	other.Start(e.ctx)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = other.Stop(ctx)
	})

	_, err = other.Execute(e.ctx, job.ID, e.repo.ID)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, "already_running", ErrorCode(err))
	_, err = other.Trigger(e.ctx, job.ID, e.repo.ID)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Zero(t, other.InFlight())

	assert.Len(t, e.runs(job.ID), 1)
	after, err := e.store.GetJob(e.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.NextRunAt, after.NextRunAt, "a refused run must not move the schedule")

	close(e.an.block)
	e.waitTerminal(runs[0].ID)
	run, err := other.Execute(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Len(t, e.runs(job.ID), 2)
}

func TestTickIgnoresNotDueAndPaused(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	future := time.Now().UTC().Add(time.Hour)
	later := e.addJob(func(j *domain.ScheduledJob) { j.NextRunAt = &future })
	paused := e.addJob(func(j *domain.ScheduledJob) { j.Status = domain.JobStatusPaused })
	e.start()

	e.svc.Tick(e.ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.runs(later.ID))
	assert.Empty(t, e.runs(paused.ID))
}

func TestTickRepositoryFailureIsIsolated(t *testing.T) {
	t.Parallel()
	good := domain.Repository{ID: "good", Owner: "acme", Name: "good", LocalPath: t.TempDir()}
	bad := domain.Repository{ID: "bad", Owner: "acme", Name: "bad", LocalPath: t.TempDir()}
	e := newTestEnv(t, good, bad)
	job := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCodebase
		j.CommandID = "audit"
	})
	e.svc = e.newService(brokenStores{Registry: e.reg, broken: map[string]bool{"bad": true}})
	e.start()

	e.svc.Tick(e.ctx)
	require.Eventually(t, func() bool {
		runs := e.runs(job.ID)
		return len(runs) == 1 && runs[0].Status == domain.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPollingLoopRunsDueJobs(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	job := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCodebase
		j.CommandID = "audit"
	})
	e.svc = New(Config{Enabled: true, PollInterval: 20 * time.Millisecond}, Deps{
		Stores:    e.reg,
		Provider:  e.prov,
		Templates: e.tmpl,
		Analyzer:  e.an,
	}, logx.Nop())
	e.start()

	require.Eventually(t, func() bool {
		runs := e.runs(job.ID)
		return len(runs) == 1 && runs[0].Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	e.svc.SetPollInterval(time.Hour)
	assert.Equal(t, time.Hour, e.svc.PollInterval())
}

func TestStopFinalizesInterruptedRun(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.an.block = make(chan struct{})
	job := e.addJob(func(j *domain.ScheduledJob) {
		j.TargetType = domain.TargetCodebase
		j.CommandID = "audit"
	})
	e.svc.Start(e.ctx)

	run, err := e.svc.Trigger(e.ctx, job.ID, e.repo.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.an.InFlight() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.svc.Stop(ctx))

	got, err := e.store.GetRun(e.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestTriggerErrors(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	job := e.addJob(nil)

	_, err := e.svc.Trigger(e.ctx, job.ID, e.repo.ID)
	require.ErrorIs(t, err, ErrNotStarted)

	e.start()
	_, err = e.svc.Trigger(e.ctx, "missing", e.repo.ID)
	require.ErrorIs(t, err, ErrJobNotFound)
	_, err = e.svc.Trigger(e.ctx, job.ID, "nope")
	require.ErrorIs(t, err, ErrJobNotFound)
	assert.Zero(t, e.svc.InFlight())
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrAlreadyRunning, "already_running"},
		{fmt.Errorf("wrap: %w", ErrJobNotFound), "not_found"},
		{ErrNotStarted, "not_started"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorCode(tc.err))
	}
}

func TestCreateJobValidatesAndSchedules(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	job := &domain.ScheduledJob{
		RepoID:         e.repo.ID,
		Name:           "nightly review",
		CronExpression: "0 2 * * *",
		Timezone:       "Europe/Berlin",
		TargetType:     domain.TargetPRs,
		CommandID:      "review",
	}
	require.NoError(t, e.svc.CreateJob(e.ctx, job))
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now()))

	bad := *job
	bad.ID = ""
	bad.CommandID = "unknown"
	err := e.svc.CreateJob(e.ctx, &bad)
	require.ErrorIs(t, err, domain.ErrInvalidJob)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "command_id", ve.Field)

	noRepo := *job
	noRepo.ID = ""
	noRepo.RepoID = "elsewhere"
	require.ErrorIs(t, e.svc.CreateJob(e.ctx, &noRepo), storage.ErrUnknownRepository)
}

func TestPauseResumeAndReschedule(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	job := e.addJob(nil)

	require.NoError(t, e.svc.PauseJob(e.ctx, e.repo.ID, job.ID))
	got, err := e.store.GetJob(e.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, got.Status)

	got, err = e.svc.ResumeJob(e.ctx, e.repo.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusActive, got.Status)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now()))

	got, err = e.svc.UpdateSchedule(e.ctx, e.repo.ID, job.ID, "0 9 * * MON", "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * MON", got.CronExpression)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	local := got.NextRunAt.In(tokyo)
	assert.Equal(t, time.Monday, local.Weekday())
	assert.Equal(t, 9, local.Hour())

	_, err = e.svc.UpdateSchedule(e.ctx, e.repo.ID, job.ID, "not a cron", "UTC")
	require.ErrorIs(t, err, domain.ErrInvalidJob)
}
