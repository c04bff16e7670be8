package scheduler

import "sync"

// guard is the set of jobs currently executing. Membership check and insert
// happen under one lock.
type guard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newGuard() *guard {
	return &guard{running: map[string]struct{}{}}
}

func guardKey(repoID, jobID string) string { return repoID + "/" + jobID }

func (g *guard) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[key]; ok {
		return false
	}
	g.running[key] = struct{}{}
	return true
}

func (g *guard) release(key string) {
	g.mu.Lock()
	delete(g.running, key)
	g.mu.Unlock()
}

func (g *guard) has(key string) bool {
	g.mu.Lock()
	_, ok := g.running[key]
	g.mu.Unlock()
	return ok
}

func (g *guard) size() int {
	g.mu.Lock()
	n := len(g.running)
	g.mu.Unlock()
	return n
}
