package debounce

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs at most one pending task per key. Scheduling a key again
// before its task fires supersedes the earlier task instead of stacking.
type Scheduler struct {
	mutex   sync.Mutex
	tasks   map[string]*task
	seq     uint64
	stopped bool
}

type task struct {
	timer *time.Timer
	fn    func()
	seq   uint64
}

func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// Schedule runs fn after delay unless the key is rescheduled, cancelled or
// flushed first. Calls after Stop are ignored.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return
	}
	if old, exists := s.tasks[key]; exists {
		old.timer.Stop()
	}
	s.seq++
	t := &task{fn: fn, seq: s.seq}
	t.timer = time.AfterFunc(delay, func() {
		if s.take(key, t) {
			fn()
		}
	})
	s.tasks[key] = t
}

// take removes t if it is still the current task for key.
func (s *Scheduler) take(key string, t *task) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.tasks[key] != t {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel drops the pending task for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, exists := s.tasks[key]
	if !exists {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether key has a task waiting.
func (s *Scheduler) Pending(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, exists := s.tasks[key]
	return exists
}

// Len returns the number of waiting tasks.
func (s *Scheduler) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.tasks)
}

// FlushKey runs the pending task for key now, on the caller's goroutine.
func (s *Scheduler) FlushKey(key string) bool {
	s.mutex.Lock()
	t, exists := s.tasks[key]
	if exists {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.mutex.Unlock()
	if exists {
		t.fn()
	}
	return exists
}

// Flush runs every pending task now, in the order they were scheduled.
func (s *Scheduler) Flush() {
	s.mutex.Lock()
	pending := make([]*task, 0, len(s.tasks))
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
		pending = append(pending, t)
	}
	s.mutex.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, t := range pending {
		t.fn()
	}
}

// Stop cancels everything pending and rejects future schedules.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.stopped = true
}
