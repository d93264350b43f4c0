package pvstream

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
)

// ErrGroupClosed is returned by WaitAny once a Group has been closed and
// drained.
var ErrGroupClosed = errors.New("pvstream: group is closed")

// ErrStreamClosed is returned by Push/Write once a stream has been closed.
var ErrStreamClosed = errors.New("pvstream: stream is closed")

// AccessMode describes the capability flags a producer-supplied stream
// advertises, mirroring spec §6's access_mode_flags (notably the async/
// wait_for_new_data flag that tells a streaming provider this variable can
// be registered for notifications at all).
type AccessMode struct {
	Readable  bool
	Writeable bool
	// Async, when true, marks this stream eligible for the notification
	// dispatcher's wait-any group (spec §4.2: "enumerate all readable
	// streams supporting asynchronous delivery").
	Async bool
}

// Producer is the producer-side contract a PVProvider consumes (spec §6):
// a named, typed channel delivering (value, version) tuples in production
// order, with an at-most-one-outstanding-unacknowledged-item back-pressure
// discipline.
type Producer[T pvtype.Scalar] interface {
	Name() string
	NumberOfSamples() int
	AccessMode() AccessMode

	// ReadNonblocking transfers the next already-available update (if any)
	// into the accessor's buffer, returning whether one was available. It
	// never blocks.
	ReadNonblocking() bool

	// ReadLatest behaves like ReadNonblocking for producers that are not
	// async (spec: "for PVs without wait_for_new_data, readLatest must
	// always return true").
	ReadLatest() bool

	// AccessChannel exposes the mutable staging buffer used by
	// ReadNonblocking/ReadLatest and by Write, so callers can swap values in
	// and out without copying.
	AccessChannel() []T

	// SetAccessChannel replaces the staging buffer content (used after a
	// swap-style read or before a write).
	SetAccessChannel(values []T)

	VersionNumber() pvtype.Version

	// Write pushes the current AccessChannel content to the producer side,
	// stamped with versionNumber.
	Write(versionNumber pvtype.Version) error
}

// MemStream is an in-memory Producer[T] implementation used by tests, demos
// and any producer that already runs in-process. It reproduces the
// single-slot mailbox pattern of framesupplier's inbox (inboxMu/inboxCond/
// inboxFrame), generalised to typed values and carrying an explicit version,
// but — unlike framesupplier's overwrite-on-publish JIT policy — enforces
// the ack-gated back-pressure spec §2 requires: Push blocks until the
// previously delivered item has been consumed via TryTake.
type MemStream[T pvtype.Scalar] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	id      uuid.UUID
	name    string
	n       int
	mode    AccessMode
	channel []T
	pending bool
	value   pvtype.Value[T]
	version pvtype.Version
	closed  bool

	group *Group
	index int
}

// NewMemStream creates a named in-memory stream with n elements per value.
// If group is non-nil, every Push notifies index on it — this is how a
// streaming PVProvider discovers that this stream has a value ready. Each
// stream is minted a fresh instance id, letting a consumer correlate log
// lines and diagnostics across a stream's lifetime even if it is later
// renamed or replaced by another stream of the same name.
func NewMemStream[T pvtype.Scalar](name string, n int, mode AccessMode, group *Group, index int) *MemStream[T] {
	s := &MemStream[T]{
		id:      uuid.New(),
		name:    name,
		n:       n,
		mode:    mode,
		channel: make([]T, n),
		value:   pvtype.NewValue(make([]T, n)),
		group:   group,
		index:   index,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns this stream's instance identifier, minted once at creation.
func (s *MemStream[T]) ID() uuid.UUID { return s.id }

func (s *MemStream[T]) Name() string            { return s.name }
func (s *MemStream[T]) NumberOfSamples() int    { return s.n }
func (s *MemStream[T]) AccessMode() AccessMode  { return s.mode }
func (s *MemStream[T]) AccessChannel() []T      { return s.channel }
func (s *MemStream[T]) SetAccessChannel(v []T)  { s.channel = v }
func (s *MemStream[T]) VersionNumber() pvtype.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Push delivers a new (value, version) update from the producer side. It
// blocks while a previous update is still unacknowledged, enforcing the
// at-most-one-outstanding-item discipline.
func (s *MemStream[T]) Push(ctx context.Context, value pvtype.Value[T], version pvtype.Version) error {
	s.mu.Lock()
	for s.pending && !s.closed {
		if ctx != nil && ctx.Err() != nil {
			s.mu.Unlock()
			return ctx.Err()
		}
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.value = value
	s.version = version
	s.pending = true
	s.mu.Unlock()
	if s.group != nil {
		s.group.Notify(s.index)
	}
	return nil
}

// ReadNonblocking transfers the pending update (if any) into the access
// channel and clears the pending flag, waking any Push blocked on
// back-pressure.
func (s *MemStream[T]) ReadNonblocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return false
	}
	s.channel = s.value.Elements()
	s.pending = false
	s.cond.Broadcast()
	return true
}

// ReadLatest is ReadNonblocking for non-async producers (spec: must always
// succeed once a value has ever been written).
func (s *MemStream[T]) ReadLatest() bool {
	s.mu.Lock()
	hasValue := s.version != pvtype.ZeroVersion || s.pending
	s.mu.Unlock()
	if s.pending {
		return s.ReadNonblocking()
	}
	return hasValue
}

// Write accepts a consumer-issued write, stamping it with versionNumber and
// updating the stream's latest value so a subsequent Read observes it. This
// models the producer side accepting a value written by the control system,
// e.g. a register write.
func (s *MemStream[T]) Write(versionNumber pvtype.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.value = pvtype.NewValue(append([]T(nil), s.channel...))
	s.version = versionNumber
	return nil
}

// TryTake atomically consumes the pending update, if any, for direct use by
// a shared support's fan-out path (spec §4.2 doNotify: "pull the next
// (value, version) from the stream").
func (s *MemStream[T]) TryTake() (pvtype.Value[T], pvtype.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return pvtype.Value[T]{}, pvtype.Version{}, false
	}
	v, ver := s.value, s.version
	s.pending = false
	s.cond.Broadcast()
	return v, ver, true
}

// Current returns the last observed (value, version) without consuming it.
func (s *MemStream[T]) Current() (pvtype.Value[T], pvtype.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.version
}

// Close marks the stream closed, releasing any Push blocked on back-pressure.
func (s *MemStream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}
