package pvsupport

import "github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"

// Base is the non-generic capability surface every PVSupport handle
// implements, mirroring the split between PVSupportBase and the templated
// PVSupport<T> in the original source: a dispatcher or registry that does
// not know T can still ask whether a handle can read/write/notify and how
// many elements it carries.
type Base interface {
	CanRead() bool
	CanWrite() bool
	CanNotify() bool
	NumberOfElements() int
}

// ErrorCallback reports a failed read/write. immediate is true iff the
// callback is invoked before the originating call returns.
type ErrorCallback func(immediate bool, err error)

// ReadCallback reports a successful read.
type ReadCallback[T pvtype.Scalar] func(immediate bool, value pvtype.Value[T], version pvtype.Version)

// WriteCallback reports a successful write.
type WriteCallback func(immediate bool)

// NotifyCallback delivers a change notification. The receiver must
// eventually call PVSupport.NotifyFinished, directly or indirectly, or no
// further notifications will ever be delivered to it (spec §4.4).
type NotifyCallback[T pvtype.Scalar] func(value pvtype.Value[T], version pvtype.Version)

// NotifyErrorCallback reports an error on a notification subscription.
type NotifyErrorCallback func(err error)

// PVSupport is the per-consumer handle onto a process variable (spec §4.4).
// A single PVSupport[T] instance is not safe for concurrent use by multiple
// goroutines; obtain one instance per consumer goroutine.
//
// At most one read or write may be outstanding on a given handle at a time.
// Violating this is explicitly undefined behaviour per spec §4.4 and is not
// defended against here.
type PVSupport[T pvtype.Scalar] interface {
	Base

	// InitialValue returns a synchronous snapshot. A streaming variable's
	// handle never fails here; a polled device register's handle returns an
	// IoError if its synchronous read fails.
	InitialValue() (pvtype.Value[T], pvtype.Version, error)

	// Notify registers (or, passing nil onValue, unregisters) the handle's
	// single notification callback. Registering when CanNotify() is false
	// returns an UnsupportedOperation error.
	Notify(onValue NotifyCallback[T], onErr NotifyErrorCallback) error

	// NotifyFinished acknowledges the in-flight delivery. Idempotent.
	NotifyFinished()

	// CancelNotify is equivalent to Notify(nil, nil); it also resets a
	// locally pending acknowledgement so delivery can proceed to others.
	CancelNotify()

	// Read begins a read. Returns immediate=true iff onValue/onErr was
	// invoked before Read returned.
	Read(onValue ReadCallback[T], onErr ErrorCallback) (immediate bool, err error)

	// Write begins a write of value stamped with version. Returns
	// immediate=true iff onOK/onErr was invoked before Write returned.
	Write(value pvtype.Value[T], version pvtype.Version, onOK WriteCallback, onErr ErrorCallback) (immediate bool, err error)

	// WillWrite is an advisory call: it tells the underlying shared support
	// that this handle intends to perform the record's initial output write,
	// so the registry's Finalize barrier does not also perform one.
	WillWrite()
}
