// Package pvstream provides the producer-side stream contract a PVProvider
// consumes (spec §6) and the selective multi-stream wait-with-wake-up
// primitive the notification dispatcher is built on (spec §4.2, §9).
//
// The wait-any group is intentionally index-based rather than generic: it
// tracks which of N registered streams has a value ready, exactly the way
// the original ReadAnyGroup hands the dispatcher a plain index and lets the
// dispatcher look up its own parallel array of typed shared supports. This
// keeps the selector itself free of type parameters; only Stream[T] is
// generic.
package pvstream

import (
	"context"
	"sync"
)

// Group implements "wait until any of N registered streams is ready",
// including a dedicated sentinel index used purely to wake a blocked
// waiter — the last slot, per spec §4.2's "wake-up stream appended as the
// last index".
//
// Streams notify the group by index; the group keeps a small FIFO of ready
// indices so that multiple streams becoming ready between two WaitAny calls
// are not lost. An index is only ever queued once at a time — a stream must
// not notify again until its previous notification has been consumed via
// WaitAny, which matches the at-most-one-outstanding-item contract on
// Stream[T].
type Group struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ready    []int
	queued   map[int]bool
	wakeIdx  int
	closed   bool
}

// NewGroup creates a group with wakeIdx reserved as the wake-up sentinel.
// Callers index their real streams 0..wakeIdx-1.
func NewGroup(wakeIdx int) *Group {
	g := &Group{
		wakeIdx: wakeIdx,
		queued:  make(map[int]bool),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Notify marks idx as ready. Safe to call concurrently with WaitAny and with
// other Notify calls. Idempotent while idx is still queued and unconsumed.
func (g *Group) Notify(idx int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queued[idx] {
		return
	}
	g.queued[idx] = true
	g.ready = append(g.ready, idx)
	g.cond.Signal()
}

// Wake notifies the dedicated wake-up sentinel index. Used to return a
// blocked WaitAny caller without any real stream having produced a value.
func (g *Group) Wake() {
	g.Notify(g.wakeIdx)
}

// WakeIndex returns the sentinel index reserved for Wake.
func (g *Group) WakeIndex() int { return g.wakeIdx }

// WaitAny blocks until some index is ready or ctx is cancelled, then returns
// it. The returned index is removed from the queued set, so the same stream
// may Notify again immediately.
func (g *Group) WaitAny(ctx context.Context) (int, error) {
	done := make(chan struct{})
	defer close(done)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				g.mu.Lock()
				g.cond.Broadcast()
				g.mu.Unlock()
			case <-done:
			}
		}()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.ready) == 0 {
		if ctx != nil && ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if g.closed {
			return 0, ErrGroupClosed
		}
		g.cond.Wait()
	}
	idx := g.ready[0]
	g.ready = g.ready[1:]
	delete(g.queued, idx)
	return idx, nil
}

// Close wakes any blocked waiter permanently; further WaitAny calls return
// ErrGroupClosed once the queue drains.
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.cond.Broadcast()
}
