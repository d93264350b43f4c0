package threadpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorRunsSubmittedTasks(t *testing.T) {
	e := New(2)
	t.Cleanup(e.Shutdown)

	var count atomic.Int32
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		if err := e.Submit(func() {
			count.Add(1)
			done <- struct{}{}
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks to run")
		}
	}
	if got := count.Load(); got != 10 {
		t.Fatalf("count = %d, want 10", got)
	}
}

func TestExecutorZeroThreadsRejectsSubmit(t *testing.T) {
	e := New(0)
	defer e.Shutdown()

	if err := e.Submit(func() {}); err == nil {
		t.Fatal("Submit on a zero-thread pool should fail")
	}
}

func TestExecutorShutdownDrainsQueuedTasks(t *testing.T) {
	e := New(1)

	var count atomic.Int32
	block := make(chan struct{})
	if err := e.Submit(func() { <-block }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := e.Submit(func() { count.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	close(block)
	e.Shutdown()

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestExecutorShutdownIsIdempotent(t *testing.T) {
	e := New(1)
	e.Shutdown()
	e.Shutdown()

	if err := e.Submit(func() {}); err == nil {
		t.Fatal("Submit after Shutdown should fail")
	}
}
