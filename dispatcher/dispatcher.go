// Package dispatcher implements the single-threaded notification loop that
// drives every process variable's change notifications (spec §4.2, §9). It
// generalises ControlSystemAdapterPVProvider::runNotificationThread: a
// wait-any selector over every variable that supports notifications, a
// reserved wake-up index used to return a blocked waiter without any real
// update, and a task FIFO used to run arbitrary work (most importantly,
// initial-value notifications) on this same goroutine so that every
// callback a consumer registers is invoked from one place, in order.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvstream"
)

// ErrShutdown is returned by Run once Shutdown has been called.
var ErrShutdown = errors.New("dispatcher: shut down")

// Notifiable is the non-generic subset of sharedpv.Shared[T] the dispatcher
// drives. It deliberately carries no type parameter so one dispatcher can
// hold variables of every element type in a single parallel array, exactly
// like the original's sharedPVSupportsByIndex vector of base-class pointers.
type Notifiable interface {
	DoNotify() func()
	ReadyForNextNotification() bool
}

// Dispatcher is the notification loop itself. Create one with New, register
// every notification-capable variable's index with RegisterIndex as it is
// created, and run it with Run from a dedicated goroutine.
type Dispatcher struct {
	group *pvstream.Group
	log   *slog.Logger

	mu      sync.Mutex
	wake    chan struct{}
	tasks   []func()
	byIndex map[int]Notifiable
	done    bool
}

// New creates a Dispatcher whose wait-any group reserves wakeIndex as the
// sentinel used purely to unblock the loop.
func New(wakeIndex int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		group:   pvstream.NewGroup(wakeIndex),
		log:     log,
		wake:    make(chan struct{}),
		byIndex: make(map[int]Notifiable),
	}
}

// Group returns the wait-any group streams must notify when a new value is
// available. A streaming provider passes this to every stream it creates.
func (d *Dispatcher) Group() *pvstream.Group { return d.group }

// RegisterIndex associates index with the Notifiable that owns it, so that a
// wake-any return for that index can be dispatched to the right variable.
// Passing a nil Notifiable removes the association.
func (d *Dispatcher) RegisterIndex(index int, n Notifiable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n == nil {
		delete(d.byIndex, index)
		return
	}
	d.byIndex[index] = n
}

// RunInNotificationThread schedules task to run once, on the dispatcher's
// own goroutine, ahead of the next notification it processes. Unlike the
// original, which throws once shutdown has been requested, a task submitted
// after Shutdown is silently dropped — there is no Go exception to signal
// misuse across a goroutine boundary that has already torn down, and no
// caller is left synchronously waiting on the result.
func (d *Dispatcher) RunInNotificationThread(task func()) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	d.tasks = append(d.tasks, task)
	d.mu.Unlock()
	d.WakeUpNotificationThread()
}

// WakeUpNotificationThread unblocks Run if it is currently waiting, whether
// on the wait-any group or on a variable becoming ready for its next
// notification.
func (d *Dispatcher) WakeUpNotificationThread() {
	d.group.Wake()
	d.mu.Lock()
	old := d.wake
	d.wake = make(chan struct{})
	d.mu.Unlock()
	close(old)
}

// Shutdown requests Run to return once it next wakes. It does not block
// until Run has actually returned; callers that need that should have Run
// signal completion through a channel of their own.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()
	d.WakeUpNotificationThread()
	d.group.Close()
}

// Run executes the notification loop until ctx is cancelled or Shutdown is
// called. It must be run from a single goroutine; the loop itself is not
// safe to re-enter concurrently.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		idx, err := d.group.WaitAny(ctx)
		if err != nil {
			if errors.Is(err, pvstream.ErrGroupClosed) {
				return ErrShutdown
			}
			return err
		}

		shutdown, err := d.drainTasks(ctx)
		if err != nil {
			return err
		}
		if shutdown {
			return ErrShutdown
		}
		if idx == d.group.WakeIndex() {
			continue
		}

		d.mu.Lock()
		n := d.byIndex[idx]
		d.mu.Unlock()
		if n == nil {
			// No shared support has been created for this variable yet;
			// there is nothing to notify, so the update is simply dropped,
			// matching the original's explicit notification.accept() for
			// this case.
			continue
		}

		ready, shutdown, err := d.waitUntilReady(ctx, n)
		if err != nil {
			return err
		}
		if shutdown {
			return ErrShutdown
		}
		if !ready {
			continue
		}
		if deliver := n.DoNotify(); deliver != nil {
			deliver()
		}
	}
}

// drainTasks runs every currently queued task on the calling goroutine,
// releasing the task-queue lock for the duration of each call so a task can
// itself submit further tasks or registrations without deadlocking.
func (d *Dispatcher) drainTasks(ctx context.Context) (shutdown bool, err error) {
	for {
		d.mu.Lock()
		if len(d.tasks) == 0 {
			shutdown = d.done
			d.mu.Unlock()
			return shutdown, nil
		}
		task := d.tasks[0]
		d.tasks = d.tasks[1:]
		d.mu.Unlock()
		task()
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}
}

// waitUntilReady blocks until n reports it is ready for its next
// notification, draining tasks and checking for shutdown on every wake. The
// wake channel is captured before each readiness check so that a wake-up
// racing with the check is never lost: WakeUpNotificationThread closes the
// current wake channel and replaces it with a fresh one, so a wake-up that
// happens after the capture closes the captured channel.
func (d *Dispatcher) waitUntilReady(ctx context.Context, n Notifiable) (ready bool, shutdown bool, err error) {
	for {
		shutdown, err = d.drainTasks(ctx)
		if err != nil || shutdown {
			return false, shutdown, err
		}

		d.mu.Lock()
		wake := d.wake
		d.mu.Unlock()

		if n.ReadyForNextNotification() {
			return true, false, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return false, false, ctx.Err()
		}
	}
}
