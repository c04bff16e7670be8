// Package app wires the configured components together and owns the process
// lifecycle: start order, config hot reload and bounded shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"repocron/internal/analyzer"
	"repocron/internal/config"
	"repocron/internal/eventbus"
	"repocron/internal/metrics"
	"repocron/internal/notifier"
	"repocron/internal/observability/ops"
	"repocron/internal/provider/github"
	rtsup "repocron/internal/runtime/supervisor"
	"repocron/internal/storage"
	"repocron/internal/task/scheduler"
	"repocron/internal/templates"
	logx "repocron/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	reg  *prometheus.Registry

	stores    *storage.Registry
	storeDir  string
	lock      *storage.DirLock
	templates *templates.Store
	analyzer  *analyzer.Runner
	sched     *scheduler.Service
	notif     *notifier.Service
	ops       *ops.Server

	stopTimeout atomic.Int64
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start; one-shot commands may use Scheduler and Stores directly.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	return build(cfgm, cfg, logSvc, log)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	ghOpts, err := mapGitHubOptions(cfg)
	if err != nil {
		return nil, err
	}
	anOpts, err := mapAnalyzerOptions(cfg)
	if err != nil {
		return nil, err
	}
	tplDir, tplTTL, err := mapTemplatesConfig(cfg)
	if err != nil {
		return nil, err
	}

	gh, err := github.New(ghOpts, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.Component("app")),
		logs:      logSvc,
		bus:       eventbus.New(),
		reg:       reg,
		stores:    storage.NewRegistry(sc, mapRepositories(cfg), log),
		storeDir:  sc.Dir,
		templates: templates.NewStore(tplDir, tplTTL, log),
		analyzer:  analyzer.NewRunner(anOpts, log),
	}
	a.stopTimeout.Store(int64(mapStopTimeout(cfg)))

	a.sched = scheduler.New(mapSchedulerConfig(cfg), scheduler.Deps{
		Stores:    a.stores,
		Provider:  gh,
		Templates: a.templates,
		Analyzer:  a.analyzer,
		Bus:       a.bus,
		Metrics:   metrics.New(reg),
	}, log)

	ncfg, tcfg := mapNotifierConfig(cfg)
	var sender notifier.Sender
	if ncfg.Enabled {
		ts, err := notifier.NewTelegramSender(tcfg)
		if err != nil {
			return nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		sender = ts
	}
	a.notif = notifier.New(ncfg, sender, a.bus, log)
	a.ops = ops.New(mapOpsConfig(cfg), reg, a.health, log)
	a.ops.HandleTrigger(a.triggerJob)
	return a, nil
}

// LockStorage takes the storage dir lock for the life of the app. The daemon
// holds it exclusively; one-shot commands take it shared unless they rewrite
// records the daemon may own. A held lock yields storage.ErrLocked.
func (a *App) LockStorage(role string, exclusive bool) error {
	if a.lock != nil {
		return nil
	}
	lock, err := storage.LockDir(a.storeDir, role, exclusive)
	if err != nil {
		return err
	}
	a.lock = lock
	return nil
}

// StorageHolder reports who last held the storage dir exclusively.
func (a *App) StorageHolder() storage.LockHolder {
	h, _ := storage.ReadLockHolder(a.storeDir)
	return h
}

// DaemonClient returns a client for the ops server of a running daemon, or
// false when ops is disabled in the config.
func (a *App) DaemonClient() (*ops.Client, bool) {
	cfg := mapOpsConfig(a.cfgm.Get())
	if !cfg.Enabled {
		return nil, false
	}
	return ops.NewClient(cfg), true
}

func (a *App) triggerJob(ctx context.Context, repoID, jobID string) (any, error) {
	run, err := a.sched.Trigger(ctx, jobID, repoID)
	if err != nil {
		return nil, &ops.StatusError{Status: triggerStatus(err), Code: scheduler.ErrorCode(err), Err: err}
	}
	return run, nil
}

func triggerStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Stores() *storage.Registry { return a.stores }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

type healthReport struct {
	Scheduler struct {
		Running      bool           `json:"running"`
		PollInterval string         `json:"poll_interval"`
		InFlight     int            `json:"in_flight"`
		Supervisor   rtsup.Snapshot `json:"supervisor"`
	} `json:"scheduler"`
	Sessions      []string `json:"sessions"`
	Repositories  int      `json:"repositories"`
	EventsDropped uint64   `json:"events_dropped"`
}

func (a *App) health(ctx context.Context) (any, error) {
	var h healthReport
	h.Scheduler.PollInterval = a.sched.PollInterval().String()
	h.Scheduler.InFlight = a.sched.InFlight()
	if sup := a.sched.Supervisor(); sup != nil {
		h.Scheduler.Running = true
		h.Scheduler.Supervisor = sup.Snapshot()
	}
	h.Sessions = a.analyzer.Running()
	h.EventsDropped = a.bus.Dropped()
	repos, err := a.stores.Repositories(ctx)
	h.Repositories = len(repos)
	if err != nil {
		return h, err
	}
	if !h.Scheduler.Running {
		return h, errors.New("scheduler not running")
	}
	return h, nil
}

// Start locks the storage dir and launches the scheduler, notifier, ops
// server and config watcher.
func (a *App) Start(ctx context.Context) error {
	if err := a.LockStorage("serve", true); err != nil {
		return fmt.Errorf("storage dir %s: %w", a.storeDir, err)
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapGitHubOptions(cfg); err != nil {
			return err
		}
		if _, err := mapAnalyzerOptions(cfg); err != nil {
			return err
		}
		_, _, err := mapTemplatesConfig(cfg)
		return err
	})

	a.notif.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("repositories", len(a.cfgm.Get().Repositories)))
	return nil
}

// applyConfig applies the hot-reloadable sections of next.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))
	if d := next.Scheduler.PollIntervalOrDefault(); d != a.sched.PollInterval() {
		a.sched.SetPollInterval(d)
	}
	a.ops.Reconfigure(ctx, mapOpsConfig(next))
	// Templates are re-read lazily; a reload is the operator's cue to pick up edits.
	a.templates.Invalidate()
	a.stopTimeout.Store(int64(mapStopTimeout(next)))

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in order, bounding each step. In-flight runs are
// canceled and get the configured stop timeout to finalize.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("scheduler", time.Duration(a.stopTimeout.Load()), a.sched.Stop)
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.Close()
}

// Close releases the stores, the storage lock and log sinks. Stop calls it.
func (a *App) Close() error {
	err := a.stores.Close()
	if lerr := a.lock.Release(); lerr != nil && err == nil {
		err = lerr
	}
	a.lock = nil
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
