package sharedpv

import (
	"sync"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
)

// Handle is the per-consumer PVSupport[T] implementation returned by
// Shared.CreateHandle. It corresponds to ControlSystemAdapterPVSupport: a
// thin, non-shared wrapper that forwards reads and writes to its Shared
// instance and keeps its own single registered notify callback.
//
// A Handle is not safe for concurrent use by multiple goroutines, matching
// the one-consumer-per-handle contract in spec §4.4. The notify callback
// itself, however, runs on the dispatcher's goroutine, so the reconciliation
// baseline below is guarded by its own mutex rather than relying on the
// handle's single-owner contract.
type Handle[T pvtype.Scalar] struct {
	shared *Shared[T]

	bidirectional bool

	notifyCallback      pvsupport.NotifyCallback[T]
	notifyErrorCallback pvsupport.NotifyErrorCallback
	notificationPending bool

	baselineMu      sync.Mutex
	hasBaseline     bool
	baselineValue   pvtype.Value[T]
	baselineVersion pvtype.Version
}

var _ pvsupport.PVSupport[int32] = (*Handle[int32])(nil)

func (h *Handle[T]) CanNotify() bool        { return h.shared.CanNotify() }
func (h *Handle[T]) CanRead() bool          { return h.shared.CanRead() }
func (h *Handle[T]) CanWrite() bool         { return h.shared.CanWrite() }
func (h *Handle[T]) NumberOfElements() int  { return h.shared.NumberOfElements() }

func (h *Handle[T]) InitialValue() (pvtype.Value[T], pvtype.Version, error) {
	value, version := h.shared.InitialValue()
	return value, version, nil
}

// Notify registers onValue as this handle's notification callback. Passing
// a nil onValue is equivalent to CancelNotify. Go has no destructors, so
// unlike the original's RAII-managed notifyCallbackCount, a Handle that is
// simply dropped without calling Notify(nil, nil) or Close leaves its
// callback slot counted: DoNotify's sweep prunes the dead weak reference but
// does not decrement notifyCallbackCount. Close makes the bookkeeping
// deterministic.
func (h *Handle[T]) Notify(onValue pvsupport.NotifyCallback[T], onErr pvsupport.NotifyErrorCallback) error {
	if onValue != nil && !h.CanNotify() {
		return pvsupport.New(pvsupport.UnsupportedOperation, h.shared.Name())
	}

	effective := onValue
	if onValue != nil && h.bidirectional {
		effective = h.reconcile(onValue)
	}

	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()

	if h.notifyCallback == nil && effective != nil {
		h.shared.notifyCallbackCount++
	} else if h.notifyCallback != nil && effective == nil {
		h.shared.notifyCallbackCount--
	}
	h.notifyCallback = effective
	h.notifyErrorCallback = onErr

	if onValue == nil && h.notificationPending {
		h.shared.notifyFinishedLocked()
		h.notificationPending = false
	}
	if onValue != nil && !h.notificationPending {
		h.shared.doInitialNotificationLocked(effective)
		h.notificationPending = true
	}
	return nil
}

// NotifyFinished acknowledges the in-flight delivery. It is idempotent: a
// call with no notification currently pending is a no-op, matching the
// original's flag-guarded notifyFinished.
func (h *Handle[T]) NotifyFinished() {
	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()
	if h.notificationPending {
		h.shared.notifyFinishedLocked()
		h.notificationPending = false
	}
}

// CancelNotify is equivalent to Notify(nil, nil).
func (h *Handle[T]) CancelNotify() {
	_ = h.Notify(nil, nil)
}

func (h *Handle[T]) Read(onValue pvsupport.ReadCallback[T], onErr pvsupport.ErrorCallback) (bool, error) {
	immediate := h.shared.Read(onValue, onErr)
	return immediate, nil
}

// Write issues a write and, for a bidirectional handle, mints the new
// reconciliation baseline from (value, version) before the write is issued
// (spec §4.4: "a write mints a new version before issuing the stream write;
// this version becomes the comparison baseline until overwritten"), so any
// echo of this same write arriving back through Notify is recognised and
// dropped rather than re-delivered.
func (h *Handle[T]) Write(value pvtype.Value[T], version pvtype.Version, onOK pvsupport.WriteCallback, onErr pvsupport.ErrorCallback) (bool, error) {
	if h.bidirectional {
		h.baselineMu.Lock()
		h.hasBaseline = true
		h.baselineValue = value
		h.baselineVersion = version
		h.baselineMu.Unlock()
	}
	immediate := h.shared.Write(value, version, onOK, onErr)
	return immediate, nil
}

func (h *Handle[T]) WillWrite() { h.shared.WillWrite() }

// reconcile wraps onValue with spec §4.4's output-reconciliation accept/drop
// policy. An incoming update is dropped when its version is older than the
// current baseline (the last write or last accepted update), or when its
// version ties with the baseline and it carries an identical payload — a
// producer echo of a value this handle itself wrote. A dropped update never
// reaches the subscriber and is acknowledged on the subscriber's behalf. Any
// other update is accepted, delivered to onValue, and becomes the new
// baseline.
func (h *Handle[T]) reconcile(onValue pvsupport.NotifyCallback[T]) pvsupport.NotifyCallback[T] {
	return func(value pvtype.Value[T], version pvtype.Version) {
		if !h.acceptRemoteUpdate(value, version) {
			h.NotifyFinished()
			return
		}
		onValue(value, version)
	}
}

// acceptRemoteUpdate applies spec §4.4's accept/drop comparison: dropped
// when a baseline exists and the incoming version is strictly older, or the
// versions tie and the payload is unchanged (the producer echoing back
// exactly what was written); accepted otherwise, becoming the new baseline.
func (h *Handle[T]) acceptRemoteUpdate(value pvtype.Value[T], version pvtype.Version) bool {
	h.baselineMu.Lock()
	defer h.baselineMu.Unlock()
	if h.hasBaseline {
		switch {
		case version.Less(h.baselineVersion):
			return false
		case version.Compare(h.baselineVersion) == 0 && value.Equal(h.baselineValue):
			return false
		}
	}
	h.hasBaseline = true
	h.baselineValue = value
	h.baselineVersion = version
	return true
}

// Close releases this handle's registered callback and, if a notification
// was pending, acknowledges it, exactly like the original destructor. After
// Close, the handle must not be used again.
func (h *Handle[T]) Close() {
	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()
	if h.notificationPending {
		h.shared.notifyFinishedLocked()
		h.notificationPending = false
	}
	if h.notifyCallback != nil {
		h.shared.notifyCallbackCount--
		h.notifyCallback = nil
	}
}
