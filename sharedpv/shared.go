// Package sharedpv implements the shared per-process-variable state that
// every per-consumer PVSupport handle for the same variable points to (spec
// §4.2, §4.4). It is a direct generalisation of
// ControlSystemAdapterSharedPVSupport: a cache of the last (value, version)
// pair, a weakly-referenced list of live handles so delivering a
// notification never keeps an abandoned consumer alive, and the
// doNotify/readyForNextNotification/notifyFinished protocol the notification
// dispatcher drives.
//
// Go has no reentrant mutex, so unlike the original's std::recursive_mutex
// this package follows spec §9's suggested split: every exported method
// takes the lock itself, while the "Locked" methods assume the caller
// already holds it and are only ever called from within another method of
// this package that has already taken it. The dispatcher never holds this
// lock; it only calls exported methods.
package sharedpv

import (
	"log/slog"
	"sync"
	"weak"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvstream"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
)

// Notifier is the subset of the notification dispatcher a Shared instance
// needs: a way to run a task on the dispatcher's single goroutine and a way
// to wake it up when it might be blocked waiting for this variable to become
// ready for its next notification.
type Notifier interface {
	RunInNotificationThread(task func())
	WakeUpNotificationThread()
}

// Shared is the state shared by every Handle[T] created for the same named
// process variable. Exactly one Shared[T] exists per variable per provider.
type Shared[T pvtype.Scalar] struct {
	mu sync.Mutex

	name     string
	index    int
	producer pvstream.Producer[T]
	notifier Notifier
	log      *slog.Logger

	lastValue   pvtype.Value[T]
	lastVersion pvtype.Version

	notificationPendingCount int
	notifyCallbackCount      int
	willWriteCalled          bool

	handles []weak.Pointer[Handle[T]]
}

// New creates the shared state for a process variable backed by producer,
// capturing its current value as the initial lastValue/lastVersion the way
// the original constructor copies ProcessArray::accessChannel(0) rather than
// swapping it, so that a later InitialWriteIfNeeded still has a value to
// send.
func New[T pvtype.Scalar](name string, index int, producer pvstream.Producer[T], notifier Notifier, log *slog.Logger) *Shared[T] {
	if log == nil {
		log = slog.Default()
	}
	value, version := currentValue(producer)
	return &Shared[T]{
		name:        name,
		index:       index,
		producer:    producer,
		notifier:    notifier,
		log:         log,
		lastValue:   value,
		lastVersion: version,
	}
}

func currentValue[T pvtype.Scalar](producer pvstream.Producer[T]) (pvtype.Value[T], pvtype.Version) {
	if cur, ok := producer.(interface {
		Current() (pvtype.Value[T], pvtype.Version)
	}); ok {
		return cur.Current()
	}
	return pvtype.NewValue(append([]T(nil), producer.AccessChannel()...)), producer.VersionNumber()
}

// Name returns the process variable's name.
func (s *Shared[T]) Name() string { return s.name }

// Index returns the index this variable was assigned by its provider, used
// to correlate it with the wait-any group slot it notifies.
func (s *Shared[T]) Index() int { return s.index }

func (s *Shared[T]) CanNotify() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := s.producer.AccessMode()
	return mode.Readable && mode.Async
}

func (s *Shared[T]) CanRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer.AccessMode().Readable
}

func (s *Shared[T]) CanWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer.AccessMode().Writeable
}

func (s *Shared[T]) NumberOfElements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer.NumberOfSamples()
}

// InitialValue returns the last known (value, version), which, until any
// read/write/notification has happened, is the producer's initial value.
func (s *Shared[T]) InitialValue() (pvtype.Value[T], pvtype.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastValue, s.lastVersion
}

// CreateHandle creates a new per-consumer handle bound to this shared
// instance and records a weak reference to it so DoNotify can reach it while
// it is alive without keeping it alive itself. The handle is bidirectional
// by default, matching the original's output-record behaviour unless a
// record address explicitly opts out with "nobidirectional"
// (recordaddr.Options.NoBidirectional); use CreateHandleWithOptions to
// create a handle that does not reconcile remote updates.
func (s *Shared[T]) CreateHandle() *Handle[T] {
	return s.CreateHandleWithOptions(true)
}

// CreateHandleWithOptions is CreateHandle with explicit control over
// output reconciliation (spec §4.4, §9 "accept_remote_updates"). When
// bidirectional is false, the handle never compares incoming notifications
// against a local write baseline — every notification it registers for is
// delivered unconditionally, the same as a plain input record.
func (s *Shared[T]) CreateHandleWithOptions(bidirectional bool) *Handle[T] {
	h := &Handle[T]{shared: s, bidirectional: bidirectional}
	s.mu.Lock()
	s.handles = append(s.handles, weak.Make(h))
	s.mu.Unlock()
	return h
}

// Read pulls the next available value, exactly as PVSupport.Read: if the
// variable does not support notifications, it pulls the producer's latest
// value first, the same way doNotify would; otherwise it simply reports the
// last value delivered, consistent with "notifications have not finished
// since reading the last value".
func (s *Shared[T]) Read(onValue pvsupport.ReadCallback[T], onErr pvsupport.ErrorCallback) bool {
	s.mu.Lock()
	mode := s.producer.AccessMode()
	if !mode.Async {
		if !s.pullLatestLocked() {
			s.mu.Unlock()
			err := pvsupport.New(pvsupport.IoError, s.name)
			if onErr != nil {
				onErr(true, err)
			}
			return true
		}
	}
	value, version := s.lastValue, s.lastVersion
	s.mu.Unlock()
	if onValue != nil {
		onValue(true, value, version)
	}
	return true
}

// pullLatestLocked swaps the producer's pending update, if any, into
// lastValue/lastVersion. Callers must hold mu. Returns false only if the
// producer claims to support non-blocking reads but none was available,
// which indicates a bug in the producer.
func (s *Shared[T]) pullLatestLocked() bool {
	if taker, ok := s.producer.(interface {
		TryTake() (pvtype.Value[T], pvtype.Version, bool)
	}); ok {
		if v, ver, ok := taker.TryTake(); ok {
			s.lastValue, s.lastVersion = v, ver
			return true
		}
		return s.producer.ReadLatest()
	}
	if !s.producer.ReadLatest() {
		return false
	}
	s.lastValue = pvtype.NewValue(append([]T(nil), s.producer.AccessChannel()...))
	s.lastVersion = s.producer.VersionNumber()
	return true
}

// WillWrite records that some consumer is going to perform the record's
// initial output write itself, so InitialWriteIfNeeded does not also write.
func (s *Shared[T]) WillWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.willWriteCalled = true
}

// InitialWriteIfNeeded writes the variable's current value once, unless
// WillWrite has already been called, mirroring the original's role of
// ensuring every process variable is written during IOC initialization.
func (s *Shared[T]) InitialWriteIfNeeded() error {
	s.mu.Lock()
	if s.willWriteCalled {
		s.mu.Unlock()
		return nil
	}
	if !s.producer.AccessMode().Writeable {
		s.mu.Unlock()
		return nil
	}
	value := s.lastValue
	version := s.lastVersion
	s.mu.Unlock()
	_, err := s.doWrite(value, version)
	return err
}

// Write writes value stamped with version and updates the cached last value
// so that a subsequent Read by any handle observes it.
func (s *Shared[T]) Write(value pvtype.Value[T], version pvtype.Version, onOK pvsupport.WriteCallback, onErr pvsupport.ErrorCallback) bool {
	if !s.CanWrite() {
		if onErr != nil {
			onErr(true, pvsupport.New(pvsupport.UnsupportedOperation, s.name))
		}
		return true
	}
	if _, err := s.doWrite(value, version); err != nil {
		if onErr != nil {
			onErr(true, err)
		}
		return true
	}
	if onOK != nil {
		onOK(true)
	}
	return true
}

func (s *Shared[T]) doWrite(value pvtype.Value[T], version pvtype.Version) (pvtype.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producer.SetAccessChannel(append([]T(nil), value.Elements()...))
	if err := s.producer.Write(version); err != nil {
		return pvtype.Version{}, pvsupport.Wrap(pvsupport.IoError, s.name, err)
	}
	s.lastValue = value
	s.lastVersion = version
	return version, nil
}

// DoNotify pulls the next value from the producer and returns a closure that
// delivers it to every live handle's registered notify callback. The
// closure must be invoked outside of any lock the caller holds, exactly like
// the original's returned std::function<void()>.
//
// DoNotify must only be called when ReadyForNextNotification reports true;
// calling it otherwise indicates a bug in the dispatcher.
func (s *Shared[T]) DoNotify() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notificationPendingCount != 0 {
		panic("sharedpv: DoNotify called while a notification is still pending")
	}

	value, version := s.lastValue, s.lastVersion
	if taker, ok := s.producer.(interface {
		TryTake() (pvtype.Value[T], pvtype.Version, bool)
	}); ok {
		if v, ver, ok := taker.TryTake(); ok {
			value, version = v, ver
		}
	} else if s.producer.ReadNonblocking() {
		value = pvtype.NewValue(append([]T(nil), s.producer.AccessChannel()...))
		version = s.producer.VersionNumber()
	}
	s.lastValue, s.lastVersion = value, version

	if s.notifyCallbackCount == 0 {
		return nil
	}

	type delivery struct {
		handle *Handle[T]
		cb     pvsupport.NotifyCallback[T]
	}
	var deliveries []delivery
	live := s.handles[:0]
	for _, ref := range s.handles {
		h := ref.Value()
		if h == nil {
			continue
		}
		live = append(live, ref)
		if h.notifyCallback != nil {
			deliveries = append(deliveries, delivery{handle: h, cb: h.notifyCallback})
			h.notificationPending = true
		}
	}
	s.handles = live
	s.notificationPendingCount += len(deliveries)

	log := s.log
	name := s.name
	return func() {
		for _, d := range deliveries {
			invokeNotifyCallback(log, name, d.cb, value, version)
		}
	}
}

func invokeNotifyCallback[T pvtype.Scalar](log *slog.Logger, name string, cb pvsupport.NotifyCallback[T], value pvtype.Value[T], version pvtype.Version) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification callback panicked", "pv", name, "recovered", r)
		}
	}()
	cb(value, version)
}

// ReadyForNextNotification reports whether every notification delivered by
// the last DoNotify has been acknowledged. Callers must hold no lock; this
// method takes it itself because, unlike the original, the dispatcher here
// does not hold the shared mutex across its own wait loop.
func (s *Shared[T]) ReadyForNextNotification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notificationPendingCount == 0
}

// doInitialNotificationLocked schedules callback to run once on the
// notification dispatcher with the current value, incrementing the pending
// count exactly like a regular notification. Callers must hold mu.
func (s *Shared[T]) doInitialNotificationLocked(callback pvsupport.NotifyCallback[T]) {
	value, version := s.lastValue, s.lastVersion
	s.notificationPendingCount++
	s.notifier.RunInNotificationThread(func() {
		callback(value, version)
	})
}

// notifyFinishedLocked decrements the pending count and wakes the dispatcher
// once it reaches zero. Callers must hold mu.
func (s *Shared[T]) notifyFinishedLocked() {
	s.notificationPendingCount--
	if s.notificationPendingCount == 0 {
		s.notifier.WakeUpNotificationThread()
	}
}
