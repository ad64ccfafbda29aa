package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler is a table of one-shot deferred actions keyed by task id. At
// most one action is pending per task; scheduling again replaces it. Actions
// run on their own goroutine with a context that Stop cancels.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[uuid.UUID]*scheduled
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

type scheduled struct {
	timer *time.Timer
	seq   uint64
}

func NewScheduler(ctx context.Context) *Scheduler {
	sctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:     sctx,
		cancel:  cancel,
		pending: make(map[uuid.UUID]*scheduled),
	}
}

// Schedule arms fn to run after delay, replacing any pending action for id.
// It reports false once the scheduler is stopped.
func (s *Scheduler) Schedule(id uuid.UUID, delay time.Duration, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if old, ok := s.pending[id]; ok {
		old.timer.Stop()
	}

	s.seq++
	entry := &scheduled{seq: s.seq}
	entry.timer = time.AfterFunc(delay, func() { s.fire(id, entry.seq, fn) })
	s.pending[id] = entry
	return true
}

func (s *Scheduler) fire(id uuid.UUID, seq uint64, fn func(ctx context.Context)) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	// A replaced or cancelled entry whose timer could not be stopped in time
	// must not run.
	if !ok || entry.seq != seq || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	fn(s.ctx)
}

// Cancel drops the pending action for id and reports whether there was one.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, id)
	return true
}

// Pending returns the number of armed actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Scheduled reports whether an action is armed for id.
func (s *Scheduler) Scheduled(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Stop cancels every pending action, cancels the context of running ones and
// waits for them to return. Later Schedule calls are refused.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.running.Wait()
}
