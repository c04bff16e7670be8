package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repocron/internal/eventbus"
	logx "repocron/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	fail  int
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("telegram 502")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func finished(runID, status string, failed int) eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeRunFinished, Time: time.Now(), Data: eventbus.RunEvent{
		RepoID: "widgets", JobID: "j1", JobName: "triage <issues>", RunID: runID,
		Status: status, ItemsFound: 3, ItemsProcessed: 3 - failed, ItemsFailed: failed,
	}}
}

func TestDeliversRunSummaries(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &fakeSender{}
	svc := New(Config{Enabled: true, RatePerSec: 100}, snd, bus, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.TypeRunStarted, Data: eventbus.RunEvent{RunID: "ignored"}})
	bus.Publish(finished("r1", "completed", 0))

	require.Eventually(t, func() bool { return len(snd.Texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	text := snd.Texts()[0]
	assert.Contains(t, text, "triage &lt;issues&gt;")
	assert.Contains(t, text, "found 3, processed 3, skipped 0, failed 0")
	assert.Contains(t, text, "<code>r1</code>")
}

func TestOnlyFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &fakeSender{}
	svc := New(Config{Enabled: true, OnlyFailures: true, RatePerSec: 100}, snd, bus, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	bus.Publish(finished("ok", "completed", 0))
	bus.Publish(finished("partial", "completed", 1))
	bus.Publish(finished("broken", "failed", 0))

	require.Eventually(t, func() bool { return len(snd.Texts()) == 2 }, 2*time.Second, 5*time.Millisecond)
	texts := snd.Texts()
	assert.Contains(t, texts[0], "partial")
	assert.Contains(t, texts[1], "broken")
}

func TestNotifyRetriesAndDedups(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fail: 1}
	svc := New(Config{Enabled: true, RatePerSec: 100}, snd, eventbus.New(), logx.Nop())

	ctx := context.Background()
	require.NoError(t, svc.Notify(ctx, "hello"))
	require.NoError(t, svc.Notify(ctx, "hello"))
	require.NoError(t, svc.Notify(ctx, "other"))
	assert.Equal(t, []string{"hello", "other"}, snd.Texts())
	assert.Equal(t, 2, svc.Sent())
}

func TestDisabledDoesNotStart(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: false}, &fakeSender{}, eventbus.New(), logx.Nop())
	svc.Start(context.Background())
	assert.False(t, svc.Enabled())
	svc.Stop(context.Background())

	assert.ErrorIs(t, New(Config{}, nil, nil, logx.Nop()).Notify(context.Background(), "x"), ErrDisabled)
}

func TestFormatRunError(t *testing.T) {
	t.Parallel()
	got := FormatRun(eventbus.RunEvent{JobName: "j", RepoID: "r", RunID: "x", Status: "failed", Error: "list issues: <503>", Manual: true})
	assert.Contains(t, got, "❌")
	assert.Contains(t, got, "(manual)")
	assert.Contains(t, got, "<pre>list issues: &lt;503&gt;</pre>")
}
