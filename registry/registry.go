// Package registry implements the process-wide name→provider map described
// in spec §4.6, the Go equivalent of PVProviderRegistry: applications and
// devices register themselves under a name, consumers resolve a name back
// to a provider, and a one-shot Finalize call drives every registered
// provider's initial-write barrier.
package registry

import (
	"log/slog"
	"sync"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/device"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/deviceprovider"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/streamingprovider"
)

// Provider is the common surface both provider kinds expose to the
// registry: FinalizeInitialization runs the provider's part of the one-shot
// initial-write barrier that Finalize triggers. This is the Go stand-in for the
// original's PVProvider base class, narrowed to exactly what the registry
// itself needs — CreatePVSupport stays a free generic function on the
// concrete provider types, since Go has no generic interface methods.
type Provider interface {
	FinalizeInitialization() error
}

var (
	_ Provider = (*streamingprovider.Provider)(nil)
	_ Provider = (*deviceprovider.Provider)(nil)
)

// DeviceFactory opens the device identified by alias (as would be resolved
// through a .dmap file in the original). Registry.RegisterDevice calls it
// once per registration; Registry itself never interprets alias.
type DeviceFactory func(alias string) (device.Device, error)

// Registry is a process-wide name→provider map with a one-shot Finalize
// barrier, mirroring PVProviderRegistry's static methods as methods on a
// value the caller owns instead of package-level statics with a recursive
// mutex — a plain sync.Mutex is sufficient here because, unlike
// SharedPVSupport, no Registry method re-enters another Registry method
// while holding the lock.
type Registry struct {
	log        *slog.Logger
	openDevice DeviceFactory

	mu           sync.Mutex
	providers    map[string]Provider
	finalized    bool
	dmapFilePath string
}

// New creates an empty Registry. openDevice resolves a device alias (as set
// by SetDMapFilePath's companion .dmap file, conceptually) to an opened
// device.Device; it may be nil if RegisterDevice will never be called.
func New(openDevice DeviceFactory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:        log,
		openDevice: openDevice,
		providers:  make(map[string]Provider),
	}
}

// RegisterApplication registers a pre-built streaming provider — the
// caller's equivalent of constructing a ControlSystemAdapterPVProvider
// around an already-running application's PVManager — under name. It fails
// with DuplicateName if name is taken, or AlreadyFinalised once Finalize
// has been called.
func (r *Registry) RegisterApplication(name string, provider *streamingprovider.Provider) error {
	return r.register(name, provider)
}

// RegisterDevice opens alias through the registry's DeviceFactory and
// registers a polled-device provider under name, operating in synchronous
// mode if numberOfIoThreads is 0. It fails with DuplicateName,
// AlreadyFinalised, or an IoError wrapping whatever the factory returned.
func (r *Registry) RegisterDevice(name, alias string, numberOfIoThreads int) error {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return pvsupport.New(pvsupport.AlreadyFinalised, name)
	}
	if _, exists := r.providers[name]; exists {
		r.mu.Unlock()
		return pvsupport.New(pvsupport.DuplicateName, name)
	}
	openDevice := r.openDevice
	log := r.log
	r.mu.Unlock()

	if openDevice == nil {
		return pvsupport.New(pvsupport.UnsupportedOperation, alias)
	}
	dev, err := openDevice(alias)
	if err != nil {
		return pvsupport.Wrap(pvsupport.IoError, alias, err)
	}
	return r.register(name, deviceprovider.New(dev, numberOfIoThreads, log))
}

func (r *Registry) register(name string, provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return pvsupport.New(pvsupport.AlreadyFinalised, name)
	}
	if _, exists := r.providers[name]; exists {
		return pvsupport.New(pvsupport.DuplicateName, name)
	}
	r.providers[name] = provider
	return nil
}

// SetDMapFilePath records the path to the catalogue describing device
// aliases, used by the DeviceFactory passed to New. The registry itself
// does not read the file; it only remembers the path so a factory that
// closes over the registry can read it lazily.
func (r *Registry) SetDMapFilePath(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return pvsupport.New(pvsupport.AlreadyFinalised, path)
	}
	r.dmapFilePath = path
	return nil
}

// DMapFilePath returns the path last set by SetDMapFilePath, or "" if none
// has been set.
func (r *Registry) DMapFilePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dmapFilePath
}

// Get resolves name to its registered provider, failing with
// NoSuchProvider if nothing is registered under that name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, pvsupport.New(pvsupport.NoSuchProvider, name)
	}
	return p, nil
}

// Finalize calls FinalizeInitialization on every registered provider
// exactly once, outside the registry lock so a provider's own lock can be
// acquired without risking a deadlock against a concurrent Register* call —
// the same reasoning the original's finalizeInitialization gives for
// releasing its mutex before iterating. After Finalize returns (with or
// without error) every subsequent Register* or SetDMapFilePath call fails
// with AlreadyFinalised; calling Finalize a second time does too.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return pvsupport.New(pvsupport.AlreadyFinalised, "")
	}
	r.finalized = true
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.Unlock()

	for _, p := range providers {
		if err := p.FinalizeInitialization(); err != nil {
			return err
		}
	}
	return nil
}

// CreatePVSupport resolves providerName to a registered provider and
// creates a PVSupport[T] for pvName on it, the Go equivalent of a record
// support class calling PVProviderRegistry::getPVProvider(name) and then
// createPVSupport<T> on the result. Go has no generic interface methods, so
// where the original used a single virtual call the type parameter
// resolves at compile time, this does the equivalent of the original's
// dynamic_cast with a type switch over the two known provider kinds.
func CreatePVSupport[T pvtype.Scalar](r *Registry, providerName, pvName string) (pvsupport.PVSupport[T], error) {
	p, err := r.Get(providerName)
	if err != nil {
		return nil, err
	}
	switch provider := p.(type) {
	case *streamingprovider.Provider:
		return streamingprovider.CreatePVSupport[T](provider, pvName)
	case *deviceprovider.Provider:
		return deviceprovider.CreatePVSupport[T](provider, pvName)
	default:
		return nil, pvsupport.New(pvsupport.UnsupportedOperation, providerName)
	}
}

// DefaultType resolves providerName and reports its default element type
// for pvName, mirroring CreatePVSupport's provider-kind dispatch.
func (r *Registry) DefaultType(providerName, pvName string) (pvtype.Element, error) {
	p, err := r.Get(providerName)
	if err != nil {
		return pvtype.Unknown, err
	}
	switch provider := p.(type) {
	case *streamingprovider.Provider:
		return provider.DefaultType(pvName)
	case *deviceprovider.Provider:
		return provider.DefaultType(pvName)
	default:
		return pvtype.Unknown, pvsupport.New(pvsupport.UnsupportedOperation, providerName)
	}
}
