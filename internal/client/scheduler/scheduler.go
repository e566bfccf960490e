// Package scheduler runs delayed tasks that can be cancelled individually or
// all at once.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Scheduler owns a set of pending timers. Tasks receive a context that is
// cancelled when the scheduler is closed.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[uint64]*time.Timer
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// Task is a handle to one scheduled run.
type Task struct {
	s  *Scheduler
	id uint64
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel, tasks: make(map[uint64]*time.Timer)}
}

// After runs fn once d has elapsed. On a closed scheduler it returns nil and
// fn never runs.
func (s *Scheduler) After(d time.Duration, fn func(ctx context.Context)) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.nextID++
	id := s.nextID
	s.wg.Add(1)
	s.tasks[id] = time.AfterFunc(d, func() {
		defer s.wg.Done()
		if !s.claim(id) {
			return
		}
		fn(s.ctx)
	})
	return &Task{s: s, id: id}
}

// claim removes the task from the pending set; false means it was cancelled.
func (s *Scheduler) claim(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Cancel stops the task if it has not started. It reports whether the task
// was still pending.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	return t.s.stop(t.id)
}

func (s *Scheduler) stop(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.tasks[id]
	if !ok {
		return false
	}
	delete(s.tasks, id)
	if timer.Stop() {
		s.wg.Done()
	}
	return true
}

// CancelAll stops every pending task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.tasks {
		delete(s.tasks, id)
		if timer.Stop() {
			s.wg.Done()
		}
	}
}

// Pending returns the number of tasks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels pending tasks, cancels the context of running ones and
// waits for them to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()
	s.cancel()
	s.wg.Wait()
}
