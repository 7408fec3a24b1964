// Package wait implements the mandatory pre-synthesis countdown.
//
// A Scheduler is a two-state machine (idle, waiting). Start arms a countdown,
// Tick advances it by one second, and Cancel abandons it. Each armed
// countdown ends exactly once: either completed by the final Tick, or
// aborted by Cancel, a restart, or the caller's context.
package wait

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned when a countdown is aborted before completing.
var ErrCancelled = errors.New("wait cancelled")

// Snapshot is the observable wait state (value type).
type Snapshot struct {
	IsWaiting        bool `json:"is_waiting"`
	TotalWaitSeconds int  `json:"total_wait_seconds"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// Countdown is a handle on one armed wait.
type Countdown struct {
	total   int
	done    chan struct{}
	aborted chan struct{}
}

func newCountdown(total int) *Countdown {
	return &Countdown{
		total:   total,
		done:    make(chan struct{}),
		aborted: make(chan struct{}),
	}
}

// Total returns the countdown length in seconds.
func (c *Countdown) Total() int { return c.total }

// Done is closed when the countdown completes.
func (c *Countdown) Done() <-chan struct{} { return c.done }

// Aborted is closed when the countdown is cancelled or superseded.
func (c *Countdown) Aborted() <-chan struct{} { return c.aborted }

// Wait blocks until the countdown completes, is aborted, or ctx ends.
func (c *Countdown) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-c.aborted:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler holds the wait state for one client.
type Scheduler struct {
	mu         sync.Mutex
	total      int
	remaining  int
	current    *Countdown
	onComplete func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithOnComplete registers a hook invoked once per completed countdown.
// It runs outside the scheduler lock.
func WithOnComplete(fn func()) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// NewScheduler creates an idle scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms a countdown of total seconds.
// total <= 0 changes nothing and returns an already completed countdown.
// Starting while waiting aborts the running countdown; the new one wins.
func (s *Scheduler) Start(total int) *Countdown {
	cd := newCountdown(total)
	if total <= 0 {
		cd.total = 0
		close(cd.done)
		return cd
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		close(s.current.aborted)
	}
	s.current = cd
	s.total = total
	s.remaining = total
	return cd
}

// Tick advances the running countdown by one second.
// It is a no-op while idle.
func (s *Scheduler) Tick() {
	s.tick(nil)
}

// Cancel aborts the running countdown. It is safe in any state.
func (s *Scheduler) Cancel() {
	s.abort(nil)
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		IsWaiting:        s.current != nil,
		TotalWaitSeconds: s.total,
		RemainingSeconds: s.remaining,
	}
}

// IsWaiting reports whether a countdown is running.
func (s *Scheduler) IsWaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// tick advances the countdown if it is still cd (any countdown when cd is nil).
func (s *Scheduler) tick(cd *Countdown) {
	s.mu.Lock()
	if s.current == nil || (cd != nil && s.current != cd) {
		s.mu.Unlock()
		return
	}

	s.remaining--
	if s.remaining > 0 {
		s.mu.Unlock()
		return
	}

	finished := s.current
	s.resetLocked()
	close(finished.done)
	hook := s.onComplete
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// abort cancels the countdown if it is still cd (any countdown when cd is nil).
func (s *Scheduler) abort(cd *Countdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || (cd != nil && s.current != cd) {
		return
	}
	close(s.current.aborted)
	s.resetLocked()
}

func (s *Scheduler) resetLocked() {
	s.current = nil
	s.total = 0
	s.remaining = 0
}
