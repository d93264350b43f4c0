// Package timer provides a single delayed-task queue used to schedule work
// at a future time (spec §4.3's retry/backoff scheduling and any provider
// that needs a deadline-driven callback). It generalises
// ChimeraTK::EPICS::Timer: a min-heap of (deadline, task) pairs guarded by a
// mutex, drained by a single worker goroutine that is spawned lazily on the
// first submission and exits once the heap runs dry, rather than idling
// forever.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a unit of work run once its deadline has passed.
type Task func()

type entry struct {
	deadline time.Time
	task     Task
}

type entryHeap []entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Timer is a shared delayed-task queue. The zero value is not usable; create
// one with New. A single Timer may be shared by every component in a
// process, mirroring the original's process-wide Timer::sharedInstance.
type Timer struct {
	mu      sync.Mutex
	wake    chan struct{}
	tasks   entryHeap
	running bool
}

// New creates an empty Timer.
func New() *Timer {
	return &Timer{wake: make(chan struct{})}
}

// shared is the process-wide default instance, mirroring
// ChimeraTK::EPICS::Timer::sharedInstance. Components that do not need an
// independent schedule may use it instead of constructing their own.
var shared = New()

// Shared returns the process-wide default Timer.
func Shared() *Timer { return shared }

// SubmitAt schedules task to run at or after deadline.
func (t *Timer) SubmitAt(deadline time.Time, task Task) {
	t.mu.Lock()
	heap.Push(&t.tasks, entry{deadline: deadline, task: task})
	if !t.running {
		t.running = true
		t.mu.Unlock()
		go t.runWorker()
		return
	}
	old := t.wake
	t.wake = make(chan struct{})
	t.mu.Unlock()
	close(old)
}

// SubmitAfter schedules task to run after d has elapsed.
func (t *Timer) SubmitAfter(d time.Duration, task Task) {
	t.SubmitAt(time.Now().Add(d), task)
}

// runWorker drains the heap until it is empty, then exits, mirroring
// Timer::Impl::runThread. A later SubmitAt notices t.running is false and
// spawns a fresh worker, which is why Timer never leaves an idle goroutine
// behind.
func (t *Timer) runWorker() {
	for {
		t.mu.Lock()
		if len(t.tasks) == 0 {
			t.running = false
			t.mu.Unlock()
			return
		}
		deadline := t.tasks[0].deadline
		now := time.Now()
		if now.Before(deadline) {
			wake := t.wake
			t.mu.Unlock()
			timer := time.NewTimer(deadline.Sub(now))
			select {
			case <-timer.C:
			case <-wake:
				timer.Stop()
			}
			continue
		}
		next := heap.Pop(&t.tasks).(entry)
		t.mu.Unlock()
		next.task()
	}
}
