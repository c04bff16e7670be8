// Package templates resolves command templates by id and category.
//
// A template for command "triage" in category "issue" is looked up at
//
//	<repo_path>/.repocron/commands/issue/triage.md
//	<dir>/issue/triage.md
//
// and the first existing file wins. Lookups are cached for the configured TTL,
// including misses.
package templates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	goCache "github.com/patrickmn/go-cache"

	logx "repocron/pkg/logx"
)

// RepoDir is the per-repository template directory, relative to the checkout.
const RepoDir = ".repocron/commands"

const DefaultTTL = time.Minute

var ErrInvalidCommandID = errors.New("invalid command id")

type entry struct {
	body  string
	found bool
}

// Store reads templates from disk through a TTL cache.
type Store struct {
	dir   string
	cache *goCache.Cache
	log   logx.Logger
}

func NewStore(dir string, ttl time.Duration, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		dir:   strings.TrimSpace(dir),
		cache: goCache.New(ttl, 2*ttl),
		log:   log.With(logx.Component("templates")),
	}
}

// Get returns the template body. ok is false when no template exists.
func (s *Store) Get(ctx context.Context, commandID, category, repoPath string) (string, bool, error) {
	if err := validName(commandID); err != nil {
		return "", false, err
	}
	if err := validName(category); err != nil {
		return "", false, err
	}
	key := category + "\x00" + commandID + "\x00" + repoPath
	if v, hit := s.cache.Get(key); hit {
		e := v.(entry)
		return e.body, e.found, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	e, err := s.load(commandID, category, repoPath)
	if err != nil {
		return "", false, err
	}
	s.cache.SetDefault(key, e)
	return e.body, e.found, nil
}

// Invalidate drops every cached lookup.
func (s *Store) Invalidate() { s.cache.Flush() }

func (s *Store) load(commandID, category, repoPath string) (entry, error) {
	name := commandID + ".md"
	var candidates []string
	if strings.TrimSpace(repoPath) != "" {
		candidates = append(candidates, filepath.Join(repoPath, filepath.FromSlash(RepoDir), category, name))
	}
	if s.dir != "" {
		candidates = append(candidates, filepath.Join(s.dir, category, name))
	}

	for _, p := range candidates {
		b, err := os.ReadFile(p)
		if err == nil {
			s.log.Debug("template loaded", logx.String("path", p))
			return entry{body: string(b), found: true}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return entry{}, fmt.Errorf("read template %s: %w", p, err)
		}
	}
	return entry{}, nil
}

func validName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.Contains(s, "\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidCommandID, s)
	}
	return nil
}
