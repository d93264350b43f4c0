// Package threadpool provides a fixed-size worker pool used by providers
// that need to run blocking I/O off the notification dispatcher's goroutine
// (spec §4.3, §9). It is a direct generalisation of
// ChimeraTK::EPICS::ThreadPoolExecutor: a task queue guarded by a single
// mutex/condition-variable pair, drained by a fixed number of long-lived
// worker goroutines, with a shutdown that first wakes every worker and then
// helps drain whatever is still queued before returning.
package threadpool

import (
	"sync"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
)

// Task is a unit of work submitted to the pool.
type Task func()

// Executor is a fixed-size pool of worker goroutines draining a shared task
// queue. A pool created with zero threads accepts no tasks; callers that
// want synchronous execution should simply not submit to a pool at all and
// run the task inline instead (spec §4.3's isSynchronous flag), rather than
// relying on this type to special-case size zero.
type Executor struct {
	mu         sync.Mutex
	cond       *sync.Cond
	tasks      []Task
	shutdown   bool
	numThreads int
	wg         sync.WaitGroup
}

// New creates a pool with numThreads worker goroutines already running.
func New(numThreads int) *Executor {
	e := &Executor{numThreads: numThreads}
	e.cond = sync.NewCond(&e.mu)
	for i := 0; i < numThreads; i++ {
		e.wg.Add(1)
		go e.runWorker()
	}
	return e
}

// Size returns the number of worker goroutines this pool was created with.
func (e *Executor) Size() int { return e.numThreads }

func (e *Executor) runWorker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.shutdown {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.mu.Unlock()
		task()
	}
}

// Submit enqueues a task for asynchronous execution by one of the pool's
// worker goroutines. It returns pvsupport.ErrUnsupportedOperation if the
// pool has no worker threads or has been or is being shut down.
func (e *Executor) Submit(task Task) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return pvsupport.New(pvsupport.UnsupportedOperation, "thread pool has been shut down")
	}
	if e.numThreads == 0 {
		e.mu.Unlock()
		return pvsupport.New(pvsupport.UnsupportedOperation, "thread pool has no worker threads")
	}
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
	e.cond.Signal()
	return nil
}

// Shutdown requests all worker goroutines to terminate after finishing the
// remaining queued tasks, draining any tasks itself if no workers exist to
// do so, and blocks until every worker has exited. Shutdown is idempotent
// and safe to call concurrently from multiple goroutines.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		e.wg.Wait()
		return
	}
	e.shutdown = true
	e.mu.Unlock()
	e.cond.Broadcast()

	if e.numThreads == 0 {
		e.mu.Lock()
		pending := e.tasks
		e.tasks = nil
		e.mu.Unlock()
		for _, t := range pending {
			t()
		}
	}

	e.wg.Wait()
}
