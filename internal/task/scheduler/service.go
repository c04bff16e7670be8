package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"repocron/internal/domain"
	rtsup "repocron/internal/runtime/supervisor"
	logx "repocron/pkg/logx"
)

const DefaultPollInterval = 60 * time.Second

// Config controls the scheduler service.
type Config struct {
	// Enabled starts the polling loop. Manual triggers work either way.
	Enabled         bool
	PollInterval    time.Duration
	StartupRecovery bool
	// ScanConcurrency bounds how many repositories are scanned at once.
	ScanConcurrency int
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	deps  Deps
	log   logx.Logger
	guard *guard

	sup      *rtsup.Supervisor
	interval atomic.Int64
	resetCh  chan time.Duration
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.ScanConcurrency <= 0 {
		cfg.ScanConcurrency = 4
	}
	s := &Service{
		cfg:     cfg,
		deps:    deps,
		log:     log.With(logx.Component("scheduler")),
		guard:   newGuard(),
		resetCh: make(chan time.Duration, 1),
	}
	s.interval.Store(int64(pollIntervalOrDefault(cfg.PollInterval)))
	return s
}

func pollIntervalOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPollInterval
	}
	return d
}

func (s *Service) now() time.Time { return s.deps.Now().UTC() }

// PollInterval returns the current polling interval.
func (s *Service) PollInterval() time.Duration { return time.Duration(s.interval.Load()) }

// SetPollInterval changes the interval of a running loop from its next tick.
func (s *Service) SetPollInterval(d time.Duration) {
	d = pollIntervalOrDefault(d)
	if time.Duration(s.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case <-s.resetCh:
	default:
	}
	s.resetCh <- d
	s.log.Info("poll interval changed", logx.Duration("interval", d))
}

// InFlight returns how many jobs are executing.
func (s *Service) InFlight() int { return s.guard.size() }

// Supervisor returns the run supervisor (nil before Start).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start runs startup recovery (when enabled) and then the polling loop
// (when enabled). It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// a failing run must never take the scheduler down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	if cfg.StartupRecovery {
		if _, err := s.Recover(ctx); err != nil {
			s.log.Warn("startup recovery incomplete", logx.Err(err))
		}
	}
	if !cfg.Enabled {
		s.log.Info("scheduler started (polling disabled)")
		return
	}
	sup.GoRestart("poll", s.pollLoop,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(time.Second, time.Minute),
	)
	s.log.Info("scheduler started", logx.Duration("poll_interval", s.PollInterval()))
}

// Stop stops polling and waits for in-flight runs until ctx ends. Runs cut
// short are finalized as failed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped", logx.Int("in_flight", s.guard.size()))
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) pollLoop(ctx context.Context) error {
	t := time.NewTicker(s.PollInterval())
	defer t.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-s.resetCh:
			t.Reset(d)
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans every repository once and dispatches due jobs. A failing
// repository is logged and does not affect the others.
func (s *Service) Tick(ctx context.Context) {
	s.deps.Metrics.Tick()
	repos, err := s.deps.Stores.Repositories(ctx)
	if err != nil {
		s.log.Error("list repositories failed", logx.Err(err))
		return
	}
	now := s.now()

	p := pool.New().WithErrors().WithMaxGoroutines(s.cfg.ScanConcurrency)
	for _, repo := range repos {
		p.Go(func() error {
			if err := s.scanRepo(ctx, repo, now); err != nil {
				s.deps.Metrics.ScanError(repo.ID)
				s.log.Error("repository scan failed", logx.Repo(repo.ID), logx.Err(err))
				return err
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		s.log.Debug("tick finished with errors", logx.Int("repos", len(repos)))
	}
}

func (s *Service) scanRepo(ctx context.Context, repo domain.Repository, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	st, err := s.deps.Stores.Open(ctx, repo.ID)
	if err != nil {
		return err
	}
	due, err := st.ListDueJobs(ctx, now)
	if err != nil {
		return err
	}
	for _, job := range due {
		s.dispatch(repo, job.ID)
	}
	return nil
}

// dispatch starts a detached execution unless the job is already in flight.
func (s *Service) dispatch(repo domain.Repository, jobID string) {
	sup := s.Supervisor()
	if sup == nil {
		return
	}
	key := guardKey(repo.ID, jobID)
	if !s.guard.tryAcquire(key) {
		s.log.Debug("job still running; skipped this tick", logx.Repo(repo.ID), logx.Job(jobID))
		return
	}
	sup.Go("run."+jobID, func(ctx context.Context) error {
		defer s.guard.release(key)
		ex, err := s.prepare(ctx, repo, jobID, false)
		if errors.Is(err, ErrAlreadyRunning) {
			s.log.Info("job running elsewhere; skipped this tick", logx.Repo(repo.ID), logx.Job(jobID))
			return nil
		}
		if err != nil {
			s.log.Error("run not started", logx.Repo(repo.ID), logx.Job(jobID), logx.Err(err))
			return nil
		}
		if ex != nil {
			s.execute(ctx, ex)
		}
		return nil
	})
}

// Trigger starts a manual run. The run record is created before Trigger
// returns; processing continues in the background. A job in flight here or
// with a running run in the store yields ErrAlreadyRunning.
func (s *Service) Trigger(ctx context.Context, jobID, repoID string) (*domain.ScheduledJobRun, error) {
	sup := s.Supervisor()
	if sup == nil {
		return nil, ErrNotStarted
	}
	repo, ok := s.deps.Stores.Repository(repoID)
	if !ok {
		return nil, fmt.Errorf("%w: repository %q", ErrJobNotFound, repoID)
	}
	key := guardKey(repoID, jobID)
	if !s.guard.tryAcquire(key) {
		return nil, ErrAlreadyRunning
	}

	ex, err := s.prepare(ctx, repo, jobID, true)
	if err != nil || ex == nil {
		s.guard.release(key)
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	snapshot := *ex.run

	sup.Go("run."+jobID, func(ctx context.Context) error {
		defer s.guard.release(key)
		s.execute(ctx, ex)
		return nil
	})
	return &snapshot, nil
}

// Execute runs a job to completion on the caller's goroutine and returns the
// finalized run.
func (s *Service) Execute(ctx context.Context, jobID, repoID string) (*domain.ScheduledJobRun, error) {
	repo, ok := s.deps.Stores.Repository(repoID)
	if !ok {
		return nil, fmt.Errorf("%w: repository %q", ErrJobNotFound, repoID)
	}
	key := guardKey(repoID, jobID)
	if !s.guard.tryAcquire(key) {
		return nil, ErrAlreadyRunning
	}
	defer s.guard.release(key)

	ex, err := s.prepare(ctx, repo, jobID, true)
	if err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	s.execute(ctx, ex)
	out := *ex.run
	return &out, nil
}
