package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"repocron/internal/analyzer"
	"repocron/internal/domain"
	"repocron/internal/eventbus"
	"repocron/internal/filterquery"
	"repocron/internal/storage"
	"repocron/internal/task/nextrun"
	logx "repocron/pkg/logx"
)

// finalizeTimeout bounds the writes that close a run after its context ended.
const finalizeTimeout = 10 * time.Second

// execution is one run of one job, owned by a single goroutine.
type execution struct {
	repo   domain.Repository
	store  storage.RepoStore
	job    *domain.ScheduledJob
	run    *domain.ScheduledJobRun
	manual bool
	log    logx.Logger
}

func (ex *execution) trigger() string {
	if ex.manual {
		return "manual"
	}
	return "schedule"
}

// prepare re-reads the job, claims a running run and moves next_run_at
// forward. A job deleted in the meantime yields (nil, nil); a job with a
// running run in the store yields ErrAlreadyRunning.
func (s *Service) prepare(ctx context.Context, repo domain.Repository, jobID string, manual bool) (*execution, error) {
	st, err := s.deps.Stores.Open(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	job, err := st.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Debug("job vanished before execution", logx.Repo(repo.ID), logx.Job(jobID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	next, err := nextrun.NextRunUTCAfter(job.CronExpression, job.Timezone, now)
	if err != nil {
		// Without a next run the job would be selected again on every tick.
		if perr := st.PauseJob(ctx, job.ID); perr != nil {
			s.log.Error("pause of unschedulable job failed", logx.Job(job.ID), logx.Err(perr))
		}
		return nil, fmt.Errorf("job %s has no next run, paused: %w", job.ID, err)
	}

	run := &domain.ScheduledJobRun{
		ID:         ulid.Make().String(),
		JobID:      job.ID,
		RepoID:     repo.ID,
		Status:     domain.RunStatusRunning,
		StartedAt:  &now,
		SessionIDs: domain.StringList{},
	}
	// The stored running run is the claim; another process may hold it.
	if err := st.StartRun(ctx, run); err != nil {
		if errors.Is(err, storage.ErrRunActive) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return nil, err
	}
	if err := st.SetNextRunAt(ctx, job.ID, next); err != nil {
		s.abandon(ctx, st, run, err)
		return nil, err
	}
	job.NextRunAt = &next

	ex := &execution{
		repo:   repo,
		store:  st,
		job:    job,
		run:    run,
		manual: manual,
		log:    s.log.With(logx.RunScope(repo.ID, job.ID, run.ID)),
	}
	s.deps.Metrics.RunStarted()
	s.publishRun(eventbus.TypeRunStarted, ex)
	ex.log.Info("run started",
		logx.String("name", job.Name),
		logx.String("trigger", ex.trigger()),
		logx.Time("next_run_at", next),
	)
	return ex, nil
}

// abandon fails a claimed run that never got to process anything.
func (s *Service) abandon(ctx context.Context, st storage.RepoStore, run *domain.ScheduledJobRun, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	now := s.now()
	run.Status, run.CompletedAt, run.ErrorMessage = domain.RunStatusFailed, &now, cause.Error()
	if err := st.UpdateRun(wctx, run); err != nil {
		s.log.Error("abandon run write failed", logx.Run(run.ID), logx.Err(err))
	}
}

// execute processes the items of a prepared run and always finalizes it.
func (s *Service) execute(ctx context.Context, ex *execution) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
			ex.log.Error("run panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		s.finalize(ctx, ex, runErr)
	}()
	runErr = s.process(ctx, ex)
}

func (s *Service) process(ctx context.Context, ex *execution) error {
	items, skipped, err := s.resolveItems(ctx, ex)
	if err != nil {
		return err
	}
	ex.run.ItemsSkipped = skipped
	ex.run.ItemsFound = len(items)
	if limit := ex.job.EffectiveMaxItems(); len(items) > limit {
		items = items[:limit]
	}
	s.saveProgress(ctx, ex)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.processItem(ctx, ex, item)
		s.saveProgress(ctx, ex)
	}
	return ctx.Err()
}

// resolveItems lists the targets of the job and applies the job's filters.
// skipped counts items dropped because an earlier session covered them.
func (s *Service) resolveItems(ctx context.Context, ex *execution) (items []domain.TargetItem, skipped int, err error) {
	job, repo := ex.job, ex.repo
	params := filterquery.Parse(job.FilterQuery)

	switch job.TargetType {
	case domain.TargetIssues:
		items, err = s.deps.Provider.ListIssues(ctx, repo.Owner, repo.Name, params.State, params.Labels)
	case domain.TargetPRs:
		items, err = s.deps.Provider.ListPRs(ctx, repo.Owner, repo.Name, params.State)
		if err == nil && len(params.Labels) > 0 {
			items = lo.Filter(items, func(it domain.TargetItem, _ int) bool {
				return lo.Every(it.Labels, params.Labels)
			})
		}
	case domain.TargetCodebase:
		return []domain.TargetItem{{Type: domain.ItemCodebase}}, 0, nil
	case domain.TargetCustom:
		return []domain.TargetItem{{Type: domain.ItemCustom}}, 0, nil
	default:
		return nil, 0, fmt.Errorf("unknown target type %q", job.TargetType)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", job.TargetType, err)
	}

	if len(params.ExcludeLabels) > 0 {
		items = lo.Reject(items, func(it domain.TargetItem, _ int) bool {
			return lo.Some(it.Labels, params.ExcludeLabels)
		})
	}

	if job.OnlyNew {
		entity := domain.EntityIssue
		if job.TargetType == domain.TargetPRs {
			entity = domain.EntityPR
		}
		seen, err := ex.store.LinkedEntityNumbers(ctx, job.ID, entity)
		if err != nil {
			return nil, 0, err
		}
		before := len(items)
		items = lo.Reject(items, func(it domain.TargetItem, _ int) bool {
			return lo.Contains(seen, it.Number)
		})
		skipped = before - len(items)
	}

	if job.TargetType == domain.TargetIssues {
		var lookupErr error
		items, lookupErr = filterquery.FilterBySidecar(ctx, items, params, repo.Key(), ex.store)
		if lookupErr != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			ex.log.Warn("sidecar lookup failed for some items", logx.Err(lookupErr))
		}
	}
	return items, skipped, nil
}

// processItem runs one analyzer session. Failures are counted on the run and
// never abort it.
func (s *Service) processItem(ctx context.Context, ex *execution, item domain.TargetItem) {
	log := ex.log.With(logx.String("item_type", string(item.Type)), logx.Int("number", item.Number))

	prompt, ok, err := s.resolvePrompt(ctx, ex.repo, ex.job, item)
	if err != nil || !ok {
		ex.run.ItemsFailed++
		if err != nil {
			log.Warn("prompt resolution failed", logx.Err(err))
		} else {
			log.Warn("no prompt for item", logx.String("command_id", ex.job.CommandID))
		}
		return
	}

	sess := &domain.Session{
		ID:             ulid.Make().String(),
		RepoID:         ex.repo.ID,
		ScheduledJobID: ex.job.ID,
		Kind:           domain.SessionKindScheduled,
		Status:         domain.SessionStatusRunning,
		Prompt:         prompt,
		StartedAt:      s.now(),
	}
	var links []domain.EntityLink
	if et, n, ok := item.Entity(); ok {
		links = append(links, domain.EntityLink{SessionID: sess.ID, EntityType: et, EntityNumber: n})
	}
	if err := ex.store.CreateSession(ctx, sess, links); err != nil {
		ex.run.ItemsFailed++
		log.Error("create session failed", logx.Err(err))
		return
	}

	s.deps.Analyzer.RegisterRunning(sess.ID)
	s.deps.Metrics.SessionStarted()
	defer func() {
		s.deps.Analyzer.UnregisterRunning(sess.ID)
		s.deps.Metrics.SessionFinished()
		if r := recover(); r != nil {
			ex.run.ItemsFailed++
			_ = ex.store.FailSession(context.WithoutCancel(ctx), sess.ID, fmt.Sprintf("panic: %v", r), s.now())
			panic(r)
		}
	}()
	s.publishSession(eventbus.TypeSessionStarted, ex, sess, item)

	res, err := s.deps.Analyzer.Run(ctx, prompt, ex.repo.LocalPath, analyzer.Config{
		PermissionMode: ex.job.PermissionMode,
		AllowedTools:   ex.job.AllowedTools,
		MaxTurns:       ex.job.MaxTurns,
		Model:          ex.job.Model,
	})
	if err == nil && !res.Success {
		err = errors.New(lo.Ternary(strings.TrimSpace(res.Error) != "", res.Error, "analysis failed"))
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	at := s.now()
	if err != nil {
		ex.run.ItemsFailed++
		sess.Status, sess.Error = domain.SessionStatusFailed, err.Error()
		if ferr := ex.store.FailSession(wctx, sess.ID, err.Error(), at); ferr != nil {
			log.Error("fail session write failed", logx.Session(sess.ID), logx.Err(ferr))
		}
		log.Warn("analysis failed", logx.Session(sess.ID), logx.Err(err))
	} else {
		ex.run.ItemsProcessed++
		ex.run.SessionIDs = append(ex.run.SessionIDs, sess.ID)
		sess.Status = domain.SessionStatusCompleted
		if ferr := ex.store.CompleteSession(wctx, sess.ID, res.Text, at); ferr != nil {
			log.Error("complete session write failed", logx.Session(sess.ID), logx.Err(ferr))
		}
		log.Debug("analysis completed", logx.Session(sess.ID))
	}
	s.publishSession(eventbus.TypeSessionFinished, ex, sess, item)
}

func (s *Service) saveProgress(ctx context.Context, ex *execution) {
	if err := ex.store.UpdateRun(ctx, ex.run); err != nil && ctx.Err() == nil {
		ex.log.Warn("run progress write failed", logx.Err(err))
	}
}

// finalize closes the run and stamps the job. It runs even when ctx ended.
func (s *Service) finalize(ctx context.Context, ex *execution, runErr error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	now := s.now()
	ex.run.CompletedAt = &now
	ex.run.Status = domain.RunStatusCompleted
	if runErr != nil {
		ex.run.Status = domain.RunStatusFailed
		ex.run.ErrorMessage = runErr.Error()
	}
	if err := ex.store.UpdateRun(wctx, ex.run); err != nil {
		ex.log.Error("run finalize write failed", logx.Err(err))
	}
	if err := ex.store.RecordJobRun(wctx, ex.job.ID, now, ex.run.Status); err != nil && !errors.Is(err, storage.ErrNotFound) {
		ex.log.Error("job stamp failed", logx.Err(err))
	}

	m := s.deps.Metrics
	m.RunFinished(string(ex.run.Status), ex.trigger(), string(ex.job.TargetType), ex.run.Duration())
	m.Items("processed", ex.run.ItemsProcessed)
	m.Items("skipped", ex.run.ItemsSkipped)
	m.Items("failed", ex.run.ItemsFailed)
	s.publishRun(eventbus.TypeRunFinished, ex)

	fields := []logx.Field{
		logx.String("status", string(ex.run.Status)),
		logx.Int("found", ex.run.ItemsFound),
		logx.Int("processed", ex.run.ItemsProcessed),
		logx.Int("skipped", ex.run.ItemsSkipped),
		logx.Int("failed", ex.run.ItemsFailed),
		logx.Duration("took", ex.run.Duration()),
	}
	if runErr != nil {
		ex.log.Warn("run failed", append(fields, logx.Err(runErr))...)
		return
	}
	ex.log.Info("run finished", fields...)
}

func (s *Service) publishRun(typ string, ex *execution) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.now(),
		Data: eventbus.RunEvent{
			RepoID:         ex.repo.ID,
			JobID:          ex.job.ID,
			JobName:        ex.job.Name,
			RunID:          ex.run.ID,
			Status:         string(ex.run.Status),
			ItemsFound:     ex.run.ItemsFound,
			ItemsProcessed: ex.run.ItemsProcessed,
			ItemsSkipped:   ex.run.ItemsSkipped,
			ItemsFailed:    ex.run.ItemsFailed,
			Error:          ex.run.ErrorMessage,
			Manual:         ex.manual,
		},
	})
}

func (s *Service) publishSession(typ string, ex *execution, sess *domain.Session, item domain.TargetItem) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.now(),
		Data: eventbus.SessionEvent{
			RepoID:    ex.repo.ID,
			JobID:     ex.job.ID,
			RunID:     ex.run.ID,
			SessionID: sess.ID,
			ItemType:  string(item.Type),
			Number:    item.Number,
			Status:    string(sess.Status),
			Error:     sess.Error,
		},
	})
}
