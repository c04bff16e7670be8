package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"repocron/internal/domain"
	logx "repocron/pkg/logx"
)

// Registry knows the configured repositories and lazily opens one store per
// repository. Stores stay open until Close.
type Registry struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	repos  []domain.Repository
	byID   map[string]domain.Repository
	open   map[string]*SQLiteStore
	closed bool
}

func NewRegistry(cfg Config, repos []domain.Repository, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = "./data"
	}
	r := &Registry{
		cfg:  cfg,
		log:  log.With(logx.Component("storage")),
		open: map[string]*SQLiteStore{},
	}
	r.setReposLocked(repos)
	return r
}

func (r *Registry) setReposLocked(repos []domain.Repository) {
	r.repos = append([]domain.Repository(nil), repos...)
	r.byID = make(map[string]domain.Repository, len(repos))
	for _, repo := range repos {
		r.byID[repo.ID] = repo
	}
}

// Repositories returns the registered repositories in configuration order.
func (r *Registry) Repositories(ctx context.Context) ([]domain.Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return append([]domain.Repository(nil), r.repos...), nil
}

// Repository looks up one repository by id.
func (r *Registry) Repository(repoID string) (domain.Repository, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, ok := r.byID[repoID]
	return repo, ok
}

// Open returns the store of repoID, opening it on first use.
func (r *Registry) Open(ctx context.Context, repoID string) (RepoStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if st, ok := r.open[repoID]; ok {
		return st, nil
	}
	if _, ok := r.byID[repoID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRepository, repoID)
	}

	path := filepath.Join(r.cfg.Dir, repoID+".db")
	st, err := OpenSQLite(ctx, path, r.cfg.BusyTimeout, r.log.With(logx.Repo(repoID)))
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", repoID, err)
	}
	r.open[repoID] = st
	r.log.Debug("repository store opened", logx.Repo(repoID), logx.String("path", path))
	return st, nil
}

// Close closes every open store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for id, st := range r.open {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	r.open = map[string]*SQLiteStore{}
	return errors.Join(errs...)
}
