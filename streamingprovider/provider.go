// Package streamingprovider implements a PVProvider backed by in-process
// producer streams (spec §4.1, §4.2, §6). It generalises
// ControlSystemAdapterPVProvider: a registry of named streams, a
// generic-but-type-erased creation path so CreatePVSupport can be reached
// without the caller's call site needing a type switch, a weak-referenced
// cache of per-variable shared state so repeated lookups of the same PV
// return the same sharedpv.Shared, and the single notification dispatcher
// that delivers every change.
package streamingprovider

import (
	"log/slog"
	"sync"
	"weak"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/dispatcher"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvname"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvstream"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/sharedpv"
)

// canonicalize normalises a process variable name the way
// ChimeraTK::RegisterPath does, so names that merely look different resolve
// to the same registered stream.
func canonicalize(name string) string { return pvname.Canonical(name) }

type streamEntry struct {
	element  pvtype.Element
	producer any
	slot     int // index reserved in the dispatcher's wait-any group, or -1

	// finalize, once the shared state for this entry has been created, runs
	// its InitialWriteIfNeeded. Left nil until the first CreatePVSupport call
	// for this name.
	finalize func() error
}

// Provider is a PVProvider over a fixed registry of producer streams. Create
// one with New, register every stream with Register or RegisterMemStream
// before any CreatePVSupport call, then drive Dispatcher() from a dedicated
// goroutine.
type Provider struct {
	log        *slog.Logger
	dispatcher *dispatcher.Dispatcher

	mu       sync.Mutex
	streams  map[string]*streamEntry
	shared   map[string]any // holds weak.Pointer[sharedpv.Shared[T]] for whichever T registered the name
	nextSlot int
}

// New creates a Provider. wakeIndex is the slot reserved for the
// dispatcher's internal wake-up signal; real streams are assigned slots
// 0..wakeIndex-1 as they are registered, so wakeIndex should be chosen no
// smaller than the number of notification-capable streams you intend to
// register.
func New(wakeIndex int, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		log:        log,
		dispatcher: dispatcher.New(wakeIndex, log),
		streams:    make(map[string]*streamEntry),
		shared:     make(map[string]any),
	}
}

// Dispatcher returns the notification loop backing this provider. Callers
// run it with Dispatcher().Run(ctx) from a dedicated goroutine.
func (p *Provider) Dispatcher() *dispatcher.Dispatcher { return p.dispatcher }

// Register adds a named producer stream of element type T to the registry.
// It returns a DuplicateName error if the (canonicalised) name is already
// registered. If the producer's access mode is asynchronous, the caller
// must already have constructed it against this provider's
// Dispatcher().Group() — reserveSlot is the index it was given, or -1 if
// the producer does not support notifications.
func Register[T pvtype.Scalar](p *Provider, producer pvstream.Producer[T], reserveSlot int) error {
	name := canonicalize(producer.Name())
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.streams[name]; exists {
		return pvsupport.New(pvsupport.DuplicateName, name)
	}
	p.streams[name] = &streamEntry{
		element:  pvtype.ElementOf[T](),
		producer: producer,
		slot:     reserveSlot,
	}
	return nil
}

// RegisterMemStream is a convenience for the common case of registering a
// pvstream.MemStream: it creates the stream already bound to this
// provider's dispatcher group (reserving a wait-any slot when mode is
// asynchronous) and registers it in one step.
func RegisterMemStream[T pvtype.Scalar](p *Provider, name string, numberOfSamples int, mode pvstream.AccessMode) (*pvstream.MemStream[T], error) {
	p.mu.Lock()
	slot := -1
	if mode.Async {
		slot = p.nextSlot
		p.nextSlot++
	}
	p.mu.Unlock()
	stream := pvstream.NewMemStream[T](name, numberOfSamples, mode, p.dispatcher.Group(), slot)
	if err := Register[T](p, stream, slot); err != nil {
		return nil, err
	}
	return stream, nil
}

// DefaultType reports the element type a caller should use for name if it
// has no a priori preference, mirroring getDefaultType.
func (p *Provider) DefaultType(name string) (pvtype.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.streams[canonicalize(name)]
	if !ok {
		return pvtype.Unknown, pvsupport.New(pvsupport.NoSuchVariable, name)
	}
	return entry.element, nil
}

// CreatePVSupport creates a new per-consumer handle for the named process
// variable, reusing the existing sharedpv.Shared instance for that variable
// if one is still alive, or creating it if this is the first handle
// requested for it since the last time every previous handle was garbage
// collected. This is the Go-generic equivalent of
// createPVSupportInternal<T>: the type parameter plays the role of the
// original's std::type_index dispatch table lookup, except it is resolved
// at the call site by the compiler instead of at runtime by a map of
// function pointers.
func CreatePVSupport[T pvtype.Scalar](p *Provider, name string) (pvsupport.PVSupport[T], error) {
	return CreatePVSupportWithOptions[T](p, name, true)
}

// CreatePVSupportWithOptions is CreatePVSupport with explicit control over
// output reconciliation (spec §4.4). A record address parsed with the
// "nobidirectional" option (recordaddr.Options.NoBidirectional) should pass
// bidirectional=false here, so the resulting handle delivers every remote
// notification unconditionally instead of reconciling it against this
// handle's own write baseline.
func CreatePVSupportWithOptions[T pvtype.Scalar](p *Provider, name string, bidirectional bool) (pvsupport.PVSupport[T], error) {
	canonical := canonicalize(name)

	p.mu.Lock()
	entry, ok := p.streams[canonical]
	if !ok {
		p.mu.Unlock()
		return nil, pvsupport.New(pvsupport.NoSuchVariable, name)
	}
	producer, ok := entry.producer.(pvstream.Producer[T])
	if !ok {
		p.mu.Unlock()
		return nil, pvsupport.New(pvsupport.TypeMismatch, name)
	}

	if existing, ok := p.shared[canonical]; ok {
		wp, ok := existing.(weak.Pointer[sharedpv.Shared[T]])
		if !ok {
			p.mu.Unlock()
			return nil, pvsupport.New(pvsupport.TypeMismatch, name)
		}
		if s := wp.Value(); s != nil {
			p.mu.Unlock()
			return s.CreateHandleWithOptions(bidirectional), nil
		}
		delete(p.shared, canonical)
	}

	shared := sharedpv.New[T](canonical, entry.slot, producer, p.dispatcher, p.log)
	p.shared[canonical] = weak.Make(shared)
	entry.finalize = shared.InitialWriteIfNeeded
	if entry.slot >= 0 {
		p.dispatcher.RegisterIndex(entry.slot, shared)
	}
	p.mu.Unlock()

	return shared.CreateHandleWithOptions(bidirectional), nil
}

// FinalizeInitialization calls InitialWriteIfNeeded on the shared state of
// every process variable for which a handle has been created so far, the
// Go equivalent of the IOC init hook described in
// ControlSystemAdapterSharedPVSupportImpl.h ("our IOC init hook ... calls
// write() for each process array"). It is meant to be called exactly once,
// after every consumer has had a chance to call WillWrite, by
// registry.Finalize.
func (p *Provider) FinalizeInitialization() error {
	p.mu.Lock()
	finalizers := make([]func() error, 0, len(p.streams))
	for _, entry := range p.streams {
		if entry.finalize != nil {
			finalizers = append(finalizers, entry.finalize)
		}
	}
	p.mu.Unlock()

	for _, finalize := range finalizers {
		if err := finalize(); err != nil {
			return err
		}
	}
	return nil
}
