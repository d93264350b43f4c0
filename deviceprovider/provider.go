// Package deviceprovider implements a PVProvider backed by a polled device:
// every read and write is a blocking round-trip against a device.Accessor,
// run either synchronously on the caller's goroutine or on a fixed-size
// worker pool, and CanNotify is always false — a polled register has no
// asynchronous delivery to subscribe to (spec §4.3).
package deviceprovider

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/device"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/threadpool"
)

// Provider is a PVProvider over a single opened device.Device. Create one
// with New, then request per-register handles with CreatePVSupport.
type Provider struct {
	dev          device.Device
	ioExecutor   *threadpool.Executor
	synchronous  bool
	log          *slog.Logger
}

// New opens no device itself — dev must already be open — and wires a
// numberOfIoThreads-sized worker pool for Read/Write round-trips.
// numberOfIoThreads == 0 runs every I/O call synchronously on the caller's
// own goroutine, exactly as the original's isSynchronous() flag, computed
// once here rather than re-derived per call.
func New(dev device.Device, numberOfIoThreads int, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		dev:         dev,
		ioExecutor:  threadpool.New(numberOfIoThreads),
		synchronous: numberOfIoThreads == 0,
		log:         log,
	}
}

// IsSynchronous reports whether Read/Write complete on the caller's
// goroutine before returning, rather than being handed to the I/O pool.
func (p *Provider) IsSynchronous() bool { return p.synchronous }

// DefaultType reports the element type getDefaultType's inference table
// assigns to name, failing with NoSuchVariable if no such register exists.
func (p *Provider) DefaultType(name string) (pvtype.Element, error) {
	info, ok := p.dev.Catalogue().Register(name)
	if !ok {
		return pvtype.Unknown, pvsupport.New(pvsupport.NoSuchVariable, name)
	}
	return device.DefaultElementType(info), nil
}

// submitIoTask runs task synchronously if the provider was configured with
// zero I/O threads, or hands it to the worker pool otherwise. The returned
// bool is "immediate", matching submitIoTask's return in the original.
func (p *Provider) submitIoTask(task func()) bool {
	if p.synchronous {
		task()
		return true
	}
	if err := p.ioExecutor.Submit(task); err != nil {
		// The pool has been shut down; there is no worker left to run task,
		// so fall back to running it inline rather than silently dropping
		// a read or write the caller is waiting on.
		task()
		return true
	}
	return false
}

// Shutdown stops the I/O worker pool. Pending tasks still run to completion.
func (p *Provider) Shutdown() { p.ioExecutor.Shutdown() }

// FinalizeInitialization does nothing: a polled device register has no
// output value that needs writing exactly once at start-up the way a
// control-system application's process variables do, so there is nothing
// for registry.Finalize to trigger here. The method exists only so Provider
// satisfies registry.Provider alongside streamingprovider.Provider.
func (p *Provider) FinalizeInitialization() error { return nil }

// CreatePVSupport opens (if not already open) and returns a PVSupport[T] for
// the named register, failing with TypeMismatch if the device does not
// support element type T for that register.
func CreatePVSupport[T pvtype.Scalar](p *Provider, name string) (pvsupport.PVSupport[T], error) {
	accessor, err := device.OpenAccessor[T](p.dev, name)
	if err != nil {
		return nil, err
	}
	return &support[T]{provider: p, accessor: accessor, name: name, correlationID: uuid.New()}, nil
}

type support[T pvtype.Scalar] struct {
	provider      *Provider
	accessor      device.Accessor[T]
	name          string
	correlationID uuid.UUID
}

var _ pvsupport.PVSupport[int32] = (*support[int32])(nil)

func (s *support[T]) CanRead() bool         { return s.accessor.Readable() }
func (s *support[T]) CanWrite() bool        { return s.accessor.Writeable() }
func (s *support[T]) CanNotify() bool       { return false }
func (s *support[T]) NumberOfElements() int { return s.accessor.NumberOfElements() }

// InitialValue performs one blocking read on the caller's own goroutine, the
// same way the original's initialValue() always reads synchronously
// regardless of isSynchronous().
func (s *support[T]) InitialValue() (pvtype.Value[T], pvtype.Version, error) {
	values, err := s.accessor.Read(context.Background())
	if err != nil {
		return pvtype.Value[T]{}, pvtype.Version{}, pvsupport.Wrap(pvsupport.IoError, s.name, err)
	}
	return pvtype.NewValue(values), pvtype.ZeroVersion, nil
}

func (s *support[T]) Notify(pvsupport.NotifyCallback[T], pvsupport.NotifyErrorCallback) error {
	return pvsupport.New(pvsupport.UnsupportedOperation, s.name)
}

func (s *support[T]) NotifyFinished() {}
func (s *support[T]) CancelNotify()   {}

func (s *support[T]) Read(onValue pvsupport.ReadCallback[T], onErr pvsupport.ErrorCallback) (bool, error) {
	immediate := s.provider.submitIoTask(func() {
		values, err := s.accessor.Read(context.Background())
		if err != nil {
			s.provider.log.Error("device read failed", "register", s.name, "accessor", s.correlationID, "error", err)
			if onErr != nil {
				onErr(s.provider.synchronous, pvsupport.Wrap(pvsupport.IoError, s.name, err))
			}
			return
		}
		if onValue != nil {
			onValue(s.provider.synchronous, pvtype.NewValue(values), pvtype.ZeroVersion)
		}
	})
	return immediate, nil
}

func (s *support[T]) Write(value pvtype.Value[T], version pvtype.Version, onOK pvsupport.WriteCallback, onErr pvsupport.ErrorCallback) (bool, error) {
	values := append([]T(nil), value.Elements()...)
	immediate := s.provider.submitIoTask(func() {
		if err := s.accessor.Write(context.Background(), values); err != nil {
			s.provider.log.Error("device write failed", "register", s.name, "accessor", s.correlationID, "error", err)
			if onErr != nil {
				onErr(s.provider.synchronous, pvsupport.Wrap(pvsupport.IoError, s.name, err))
			}
			return
		}
		if onOK != nil {
			onOK(s.provider.synchronous)
		}
	})
	return immediate, nil
}

func (s *support[T]) WillWrite() {}
