package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repocron/internal/config"
)

func writeConfig(t *testing.T, pollInterval string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "scheduler": {"enabled": false, "poll_interval": %q, "stop_timeout": "2s"},
  "storage": {"dir": %q},
  "repositories": [{"id": "widgets", "owner": "acme", "name": "widgets", "path": %q}],
  "analyzer": {"binary": "cat"}
}`, pollInterval, filepath.Join(dir, "data"), dir)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppLifecycle(t *testing.T) {
	a, err := New(writeConfig(t, "30s"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, a.Scheduler().PollInterval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	detail, err := a.health(ctx)
	require.NoError(t, err)
	h := detail.(healthReport)
	assert.True(t, h.Scheduler.Running)
	assert.Equal(t, 1, h.Repositories)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopCommand))

	select {
	case <-a.Done():
	default:
		t.Fatal("app context not canceled after Stop")
	}
}

func TestApplyConfigHotReload(t *testing.T) {
	a, err := New(writeConfig(t, "30s"))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	prev := a.cfgm.Get()
	next := *prev
	next.Scheduler.PollInterval = "5s"
	next.Scheduler.StopTimeout = "9s"
	a.applyConfig(context.Background(), prev, &next)

	assert.Equal(t, 5*time.Second, a.Scheduler().PollInterval())
	assert.Equal(t, 9*time.Second, time.Duration(a.stopTimeout.Load()))
}

func TestMapRepositoriesTrims(t *testing.T) {
	t.Parallel()
	repos := mapRepositories(&config.Config{Repositories: []config.RepositoryConfig{
		{ID: " widgets ", Owner: "acme", Name: "widgets", Path: " /src/widgets "},
	}})
	require.Len(t, repos, 1)
	assert.Equal(t, "widgets", repos[0].ID)
	assert.Equal(t, "/src/widgets", repos[0].LocalPath)
	assert.Equal(t, "acme/widgets", repos[0].Key())
}
