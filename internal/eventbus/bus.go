package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler.
const (
	TypeRunStarted      = "job.run.started"
	TypeRunFinished     = "job.run.finished"
	TypeSessionStarted  = "session.started"
	TypeSessionFinished = "session.finished"
)

// Event is an in-memory change notification for observers (UI, notifier).
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a full buffer drops the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// RunEvent is the Data of job.run.* events.
type RunEvent struct {
	RepoID         string `json:"repo_id"`
	JobID          string `json:"job_id"`
	JobName        string `json:"job_name"`
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	ItemsFound     int    `json:"items_found"`
	ItemsProcessed int    `json:"items_processed"`
	ItemsSkipped   int    `json:"items_skipped"`
	ItemsFailed    int    `json:"items_failed"`
	Error          string `json:"error,omitempty"`
	Manual         bool   `json:"manual,omitempty"`
}

// SessionEvent is the Data of session.* events.
type SessionEvent struct {
	RepoID    string `json:"repo_id"`
	JobID     string `json:"job_id"`
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
	ItemType  string `json:"item_type"`
	Number    int    `json:"number,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a subscriber. With types given, only those event
	// types are delivered.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type MemBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64

	dropped atomic.Uint64
}

var _ Bus = (*MemBus)(nil)

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// A concurrent unsubscribe may close the channel; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Dropped reports how many deliveries were dropped on full subscriber buffers.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
