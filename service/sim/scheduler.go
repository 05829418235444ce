// Package sim holds the pieces that fake time and chance for the dashboard:
// a cancellable task scheduler driven by an injectable clock, and random
// sources that tests can replace with fixed sequences.
package sim

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler runs delayed tasks on a clock. Production code passes
// clock.New(); tests pass clock.NewMock() and advance it.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Task
	closed  bool
}

// Task is a scheduled callback. Cancel is the cancellation token.
type Task struct {
	id    uint64
	s     *Scheduler
	timer *clock.Timer

	mu    sync.Mutex
	state taskState
}

type taskState int

const (
	taskPending taskState = iota
	taskFired
	taskCancelled
)

// NewScheduler creates a Scheduler. A nil clock means wall time.
func NewScheduler(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{
		clock:   c,
		pending: make(map[uint64]*Task),
	}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// After runs fn once after d. After Close, the returned task is already
// cancelled and fn never runs.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &Task{id: s.nextID, s: s}
	if s.closed {
		t.state = taskCancelled
		return t
	}

	s.pending[t.id] = t
	t.timer = s.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.state != taskPending {
			t.mu.Unlock()
			return
		}
		t.state = taskFired
		t.mu.Unlock()

		s.forget(t.id)
		fn()
	})
	return t
}

// Cancel stops the task if it has not fired yet. It reports whether this
// call prevented the callback from running.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	if t.state != taskPending {
		t.mu.Unlock()
		return false
	}
	t.state = taskCancelled
	t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.s.forget(t.id)
	return true
}

// Done reports whether the task has fired or been cancelled.
func (t *Task) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != taskPending
}

func (s *Scheduler) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Pending returns the number of tasks that have neither fired nor been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels every pending task and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.pending))
	for _, t := range s.pending {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}
