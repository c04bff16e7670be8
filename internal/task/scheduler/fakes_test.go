package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"repocron/internal/analyzer"
	"repocron/internal/domain"
	"repocron/internal/eventbus"
	"repocron/internal/storage"
	logx "repocron/pkg/logx"
)

type fakeProvider struct {
	mu     sync.Mutex
	issues []domain.TargetItem
	prs    []domain.TargetItem
	err    error
	calls  int
}

func (p *fakeProvider) ListIssues(_ context.Context, _, _, _ string, _ []string) ([]domain.TargetItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return append([]domain.TargetItem(nil), p.issues...), p.err
}

func (p *fakeProvider) ListPRs(_ context.Context, _, _, _ string) ([]domain.TargetItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return append([]domain.TargetItem(nil), p.prs...), p.err
}

func (p *fakeProvider) setIssues(items ...domain.TargetItem) {
	p.mu.Lock()
	p.issues = items
	p.mu.Unlock()
}

type fakeTemplates map[string]string

func (f fakeTemplates) Get(_ context.Context, commandID, category, _ string) (string, bool, error) {
	body, ok := f[category+"/"+commandID]
	return body, ok, nil
}

// fakeAnalyzer records prompts and can block, fail or panic on demand.
type fakeAnalyzer struct {
	mu         sync.Mutex
	prompts    []string
	running    map[string]bool
	sawRunning bool
	block      chan struct{}
	run        func(prompt string) (analyzer.Result, error)
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{running: map[string]bool{}}
}

func (a *fakeAnalyzer) Run(ctx context.Context, prompt, _ string, _ analyzer.Config) (analyzer.Result, error) {
	a.mu.Lock()
	a.prompts = append(a.prompts, prompt)
	a.sawRunning = a.sawRunning || len(a.running) > 0
	block, run := a.block, a.run
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return analyzer.Result{}, ctx.Err()
		}
	}
	if run != nil {
		return run(prompt)
	}
	return analyzer.Result{Success: true, Text: "ok: " + prompt}, nil
}

func (a *fakeAnalyzer) RegisterRunning(id string) {
	a.mu.Lock()
	a.running[id] = true
	a.mu.Unlock()
}

func (a *fakeAnalyzer) UnregisterRunning(id string) {
	a.mu.Lock()
	delete(a.running, id)
	a.mu.Unlock()
}

func (a *fakeAnalyzer) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

func (a *fakeAnalyzer) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}

// brokenStores fails Open for the listed repositories.
type brokenStores struct {
	*storage.Registry
	broken map[string]bool
}

func (b brokenStores) Open(ctx context.Context, repoID string) (storage.RepoStore, error) {
	if b.broken[repoID] {
		return nil, errors.New("disk on fire")
	}
	return b.Registry.Open(ctx, repoID)
}

type testEnv struct {
	t     *testing.T
	ctx   context.Context
	reg   *storage.Registry
	repo  domain.Repository
	store storage.RepoStore
	prov  *fakeProvider
	tmpl  fakeTemplates
	an    *fakeAnalyzer
	bus   *eventbus.MemBus
	svc   *Service
}

func newTestEnv(t *testing.T, repos ...domain.Repository) *testEnv {
	t.Helper()
	if len(repos) == 0 {
		repos = []domain.Repository{{ID: "widgets", Owner: "acme", Name: "widgets", LocalPath: t.TempDir()}}
	}
	reg := storage.NewRegistry(storage.Config{Dir: t.TempDir(), BusyTimeout: 2 * time.Second}, repos, logx.Nop())
	t.Cleanup(func() { _ = reg.Close() })

	ctx := context.Background()
	st, err := reg.Open(ctx, repos[0].ID)
	require.NoError(t, err)

	e := &testEnv{
		t:     t,
		ctx:   ctx,
		reg:   reg,
		repo:  repos[0],
		store: st,
		prov:  &fakeProvider{},
		tmpl: fakeTemplates{
			"issue/triage":   "Triage #{{number}} {{title}} in {{repo}}",
			"pr/review":      "Review {{head_ref}} -> {{base_ref}}",
			"codebase/audit": "Audit {{repo_path}}",
			"custom/standup": "Standup for {{repo}}",
		},
		an:  newFakeAnalyzer(),
		bus: eventbus.New(),
	}
	e.svc = e.newService(reg)
	return e
}

func (e *testEnv) newService(stores Stores) *Service {
	return New(Config{PollInterval: time.Hour}, Deps{
		Stores:    stores,
		Provider:  e.prov,
		Templates: e.tmpl,
		Analyzer:  e.an,
		Bus:       e.bus,
	}, logx.Nop())
}

// start starts the service without its polling loop; tests tick by hand.
func (e *testEnv) start() {
	e.svc.Start(e.ctx)
	e.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.svc.Stop(ctx)
	})
}

// addJob stores an active job that is already due.
func (e *testEnv) addJob(mod func(j *domain.ScheduledJob)) *domain.ScheduledJob {
	e.t.Helper()
	past := time.Now().UTC().Add(-time.Minute)
	job := &domain.ScheduledJob{
		RepoID:         e.repo.ID,
		Name:           "triage",
		CronExpression: "*/5 * * * *",
		Timezone:       "UTC",
		TargetType:     domain.TargetIssues,
		CommandID:      "triage",
		NextRunAt:      &past,
	}
	if mod != nil {
		mod(job)
	}
	require.NoError(e.t, e.store.CreateJob(e.ctx, job))
	return job
}

func (e *testEnv) runs(jobID string) []domain.ScheduledJobRun {
	e.t.Helper()
	runs, err := e.store.ListRuns(e.ctx, jobID, 100)
	require.NoError(e.t, err)
	return runs
}

func (e *testEnv) waitTerminal(runID string) *domain.ScheduledJobRun {
	e.t.Helper()
	var got *domain.ScheduledJobRun
	require.Eventually(e.t, func() bool {
		r, err := e.store.GetRun(e.ctx, runID)
		if err != nil {
			return false
		}
		got = r
		return r.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func issue(n int, title string, labels ...string) domain.TargetItem {
	return domain.TargetItem{Type: domain.ItemIssue, Number: n, Title: title, Labels: labels}
}
