package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "repocron/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestGetPrefersRepoTemplate(t *testing.T) {
	t.Parallel()
	global := t.TempDir()
	repo := t.TempDir()
	writeFile(t, filepath.Join(global, "issue", "triage.md"), "global {{number}}")
	writeFile(t, filepath.Join(repo, ".repocron", "commands", "issue", "triage.md"), "repo {{number}}")

	s := NewStore(global, time.Minute, logx.Nop())
	body, ok, err := s.Get(context.Background(), "triage", "issue", repo)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "repo {{number}}", body)

	body, ok, err = s.Get(context.Background(), "triage", "issue", t.TempDir())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "global {{number}}", body)
}

func TestGetMissAndCache(t *testing.T) {
	t.Parallel()
	global := t.TempDir()
	s := NewStore(global, time.Hour, logx.Nop())

	_, ok, err := s.Get(context.Background(), "review", "pr", "")
	require.NoError(t, err)
	assert.False(t, ok)

	// The miss is cached until invalidated.
	writeFile(t, filepath.Join(global, "pr", "review.md"), "review it")
	_, ok, err = s.Get(context.Background(), "review", "pr", "")
	require.NoError(t, err)
	assert.False(t, ok)

	s.Invalidate()
	body, ok, err := s.Get(context.Background(), "review", "pr", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "review it", body)
}

func TestGetRejectsTraversal(t *testing.T) {
	t.Parallel()
	s := NewStore(t.TempDir(), 0, logx.Nop())
	for _, id := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, _, err := s.Get(context.Background(), id, "issue", "")
		assert.True(t, errors.Is(err, ErrInvalidCommandID), "id %q", id)
	}
}
